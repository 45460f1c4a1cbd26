// Package timeline stitches the segment-local timelines of a collection into
// one absolute millisecond timeline and coalesces scrub gestures over it.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zsiec/camreplay/internal/media"
)

// DefaultSegmentDurationMs is the nominal length of one dashcam clip, used
// for the last segment when its real duration is not known yet.
const DefaultSegmentDurationMs = 60_000

// clipTimeLayout is the timestamp prefix of dashcam clip and event names.
const clipTimeLayout = "2006-01-02_15-04-05"

var (
	ErrNoSegments  = errors.New("timeline: no segments")
	ErrBadStarts   = errors.New("timeline: segment starts must begin at 0 and be non-decreasing")
	ErrBadDuration = errors.New("timeline: duration precedes last segment start")
	ErrBadClipName = errors.New("timeline: clip name has no timestamp")
)

// VirtualTimeline is the ordered list of segment start offsets of a
// collection plus its total duration. It is immutable.
type VirtualTimeline struct {
	starts     []int64
	durationMs int64
}

// New validates and builds a VirtualTimeline.
func New(starts []int64, durationMs int64) (*VirtualTimeline, error) {
	if len(starts) == 0 {
		return nil, ErrNoSegments
	}
	if starts[0] != 0 {
		return nil, fmt.Errorf("%w: first start %d", ErrBadStarts, starts[0])
	}
	for i := 1; i < len(starts); i++ {
		if starts[i] < starts[i-1] {
			return nil, fmt.Errorf("%w: start %d (%d) < start %d (%d)",
				ErrBadStarts, i, starts[i], i-1, starts[i-1])
		}
	}
	if durationMs < starts[len(starts)-1] {
		return nil, fmt.Errorf("%w: %d < %d", ErrBadDuration, durationMs, starts[len(starts)-1])
	}
	return &VirtualTimeline{
		starts:     append([]int64(nil), starts...),
		durationMs: durationMs,
	}, nil
}

// FromCreated derives a timeline from the nominal creation time of each
// segment, in order. The total duration is the last segment's start plus
// lastDurationMs (DefaultSegmentDurationMs when <= 0).
func FromCreated(created []time.Time, lastDurationMs int64) (*VirtualTimeline, error) {
	if len(created) == 0 {
		return nil, ErrNoSegments
	}
	if lastDurationMs <= 0 {
		lastDurationMs = DefaultSegmentDurationMs
	}
	starts := make([]int64, len(created))
	for i, c := range created {
		starts[i] = c.Sub(created[0]).Milliseconds()
	}
	return New(starts, starts[len(starts)-1]+lastDurationMs)
}

// Len returns the number of segments.
func (v *VirtualTimeline) Len() int {
	return len(v.starts)
}

// DurationMs returns the total length of the timeline.
func (v *VirtualTimeline) DurationMs() int64 {
	return v.durationMs
}

// Start returns the absolute start offset of segment i.
func (v *VirtualTimeline) Start(i int) int64 {
	return v.starts[i]
}

// Clamp limits ms to [0, DurationMs].
func (v *VirtualTimeline) Clamp(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > v.durationMs {
		return v.durationMs
	}
	return ms
}

// Locate clamps ms and returns the owning segment (the greatest i whose
// start is <= ms) and the segment-local offset.
func (v *VirtualTimeline) Locate(ms int64) (segment int, localMs int64) {
	ms = v.Clamp(ms)
	n := sort.Search(len(v.starts), func(i int) bool {
		return v.starts[i] > ms
	})
	segment = n - 1
	if segment < 0 {
		segment = 0
	}
	return segment, ms - v.starts[segment]
}

// ParseClipName reads the nominal creation time and camera from a clip name
// such as "2024-05-01_10-15-30-front.mp4". Names without a camera suffix
// (event folders) return an empty camera.
func ParseClipName(name string) (time.Time, media.Camera, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if len(name) < len(clipTimeLayout) {
		return time.Time{}, "", fmt.Errorf("%w: %q", ErrBadClipName, name)
	}
	ts, err := time.ParseInLocation(clipTimeLayout, name[:len(clipTimeLayout)], time.UTC)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %q: %v", ErrBadClipName, name, err)
	}

	rest := name[len(clipTimeLayout):]
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		rest = rest[:dot]
	}
	return ts, media.Camera(strings.TrimPrefix(rest, "-")), nil
}

// FormatClock renders ms as mm:ss for time displays.
func FormatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	s := ms / 1000
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
