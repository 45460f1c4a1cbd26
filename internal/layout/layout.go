// Package layout arranges the cameras of a recording into a grid and
// composites their decoded pictures into one image.
package layout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zsiec/camreplay/internal/media"
)

// DefaultLayout is the preset used when none is configured.
const DefaultLayout = "six_spatial"

var ErrUnknownLayout = errors.New("layout: unknown preset")

// Slot is one tile of a grid, filled row-major.
type Slot struct {
	Camera media.Camera
	Label  string
}

// Layout is a grid preset.
type Layout struct {
	ID      string
	Name    string
	Columns int
	Slots   []Slot
}

// Rows returns the number of grid rows.
func (l Layout) Rows() int {
	if l.Columns <= 0 {
		return 0
	}
	return (len(l.Slots) + l.Columns - 1) / l.Columns
}

// Cameras returns the cameras of the layout in slot order.
func (l Layout) Cameras() []media.Camera {
	out := make([]media.Camera, len(l.Slots))
	for i, s := range l.Slots {
		out[i] = s.Camera
	}
	return out
}

// SlotOf returns the slot index showing camera.
func (l Layout) SlotOf(camera media.Camera) (int, bool) {
	for i, s := range l.Slots {
		if s.Camera == camera {
			return i, true
		}
	}
	return 0, false
}

var presets = map[string]Layout{
	"fb_lr": {
		Name:    "Front/Back/Left/Right (4-cam)",
		Columns: 2,
		Slots: []Slot{
			{media.CameraFront, "Front"},
			{media.CameraBack, "Back"},
			{media.CameraLeftRepeater, "Left"},
			{media.CameraRightRepeater, "Right"},
		},
	},
	"fb_rl": {
		Name:    "Front/Back/Right/Left (4-cam)",
		Columns: 2,
		Slots: []Slot{
			{media.CameraFront, "Front"},
			{media.CameraBack, "Back"},
			{media.CameraRightRepeater, "Right"},
			{media.CameraLeftRepeater, "Left"},
		},
	},
	// Forward-facing cameras on top, rear-facing below.
	"six_spatial": {
		Name:    "All 6 Cameras (Spatial)",
		Columns: 3,
		Slots: []Slot{
			{media.CameraLeftRepeater, "Left Rep"},
			{media.CameraFront, "Front"},
			{media.CameraRightRepeater, "Right Rep"},
			{media.CameraLeftPillar, "Left Pillar"},
			{media.CameraBack, "Back"},
			{media.CameraRightPillar, "Right Pillar"},
		},
	},
	"six_fb_first": {
		Name:    "All 6 Cameras (F/B First)",
		Columns: 3,
		Slots: []Slot{
			{media.CameraFront, "Front"},
			{media.CameraBack, "Back"},
			{media.CameraLeftRepeater, "Left Rep"},
			{media.CameraRightRepeater, "Right Rep"},
			{media.CameraLeftPillar, "Left Pillar"},
			{media.CameraRightPillar, "Right Pillar"},
		},
	},
}

// Lookup returns the preset with the given id.
func Lookup(id string) (Layout, error) {
	l, ok := presets[id]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownLayout, id)
	}
	l.ID = id
	l.Slots = append([]Slot(nil), l.Slots...)
	return l, nil
}

// IDs returns the preset ids, sorted.
func IDs() []string {
	ids := make([]string, 0, len(presets))
	for id := range presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
