package layout

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/zsiec/camreplay/internal/media"
)

var red = color.RGBA{R: 0xFF, A: 0xFF}

func solid(c color.Color, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func mustLookup(t *testing.T, id string) Layout {
	t.Helper()
	l, err := Lookup(id)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", id, err)
	}
	return l
}

func TestPresets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id      string
		columns int
		rows    int
		first   media.Camera
	}{
		{"fb_lr", 2, 2, media.CameraFront},
		{"fb_rl", 2, 2, media.CameraFront},
		{"six_spatial", 3, 2, media.CameraLeftRepeater},
		{"six_fb_first", 3, 2, media.CameraFront},
	}
	for _, tt := range tests {
		l := mustLookup(t, tt.id)
		if l.ID != tt.id || l.Columns != tt.columns || l.Rows() != tt.rows {
			t.Errorf("%s: got id=%s %dx%d", tt.id, l.ID, l.Columns, l.Rows())
		}
		if l.Cameras()[0] != tt.first {
			t.Errorf("%s: first slot got %s, want %s", tt.id, l.Cameras()[0], tt.first)
		}
	}

	if len(IDs()) != 4 {
		t.Errorf("IDs: got %v", IDs())
	}
	if _, err := Lookup(DefaultLayout); err != nil {
		t.Errorf("default layout: %v", err)
	}
	if _, err := Lookup("nine_grid"); !errors.Is(err, ErrUnknownLayout) {
		t.Errorf("unknown: got %v, want ErrUnknownLayout", err)
	}

	// Lookup hands out copies.
	l := mustLookup(t, "fb_lr")
	l.Slots[0].Camera = media.CameraBack
	if mustLookup(t, "fb_lr").Slots[0].Camera != media.CameraFront {
		t.Error("mutating a looked-up layout changed the preset")
	}
}

func TestCompositorPlacesTiles(t *testing.T) {
	t.Parallel()

	c := NewCompositor(mustLookup(t, "fb_lr"), 4, 4, false)
	c.Render(media.Picture{Camera: media.CameraFront, FrameIndex: 7, Image: solid(red, 2, 2)})
	c.Render(media.Picture{Camera: media.CameraLeftPillar, Image: solid(red, 2, 2)})

	img := c.Snapshot()
	if img.Bounds() != image.Rect(0, 0, 8, 8) {
		t.Fatalf("bounds: got %v, want 8x8", img.Bounds())
	}
	if got := img.RGBAAt(1, 1); got != red {
		t.Errorf("front tile: got %v, want red", got)
	}
	if got := img.RGBAAt(5, 1); got != background {
		t.Errorf("back tile: got %v, want background", got)
	}
	if got := img.RGBAAt(5, 5); got != background {
		t.Errorf("unplaced camera drawn: got %v", got)
	}

	p, ok := c.Shown(media.CameraFront)
	if !ok || p.FrameIndex != 7 {
		t.Errorf("Shown: got %v %v", p.FrameIndex, ok)
	}

	// Snapshots are copies.
	img.SetRGBA(1, 1, background)
	if got := c.Snapshot().RGBAAt(1, 1); got != red {
		t.Error("snapshot aliases the canvas")
	}
}

func TestCompositorSetLayoutRedraws(t *testing.T) {
	t.Parallel()

	c := NewCompositor(mustLookup(t, "fb_lr"), 4, 4, false)
	c.Render(media.Picture{Camera: media.CameraFront, Image: solid(red, 8, 8)})
	c.SetLayout(mustLookup(t, "six_spatial"))

	img := c.Snapshot()
	if img.Bounds() != image.Rect(0, 0, 12, 8) {
		t.Fatalf("bounds: got %v, want 12x8", img.Bounds())
	}
	if got := img.RGBAAt(5, 1); got != red {
		t.Errorf("front moved to top center: got %v, want red", got)
	}
	if got := img.RGBAAt(1, 1); got != background {
		t.Errorf("left repeater tile: got %v, want background", got)
	}
}

func TestCompositorLabelsAndPNG(t *testing.T) {
	t.Parallel()

	c := NewCompositor(mustLookup(t, "six_fb_first"), 64, 32, true)
	img := c.Snapshot()
	lit := false
	for y := range 32 {
		for x := range 64 {
			if img.RGBAAt(x, y) != background {
				lit = true
			}
		}
	}
	if !lit {
		t.Error("label not drawn in first tile")
	}

	var buf bytes.Buffer
	if err := c.WritePNG(&buf); err != nil {
		t.Fatalf("WritePNG: %v", err)
	}
	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if decoded.Bounds() != image.Rect(0, 0, 192, 64) {
		t.Errorf("png bounds: got %v", decoded.Bounds())
	}
}

func TestCompositorConcurrentRender(t *testing.T) {
	t.Parallel()

	c := NewCompositor(mustLookup(t, "six_spatial"), 8, 8, false)
	var wg sync.WaitGroup
	for _, cam := range mustLookup(t, "six_spatial").Cameras() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				c.Render(media.Picture{Camera: cam, FrameIndex: i, Image: solid(red, 4, 4)})
			}
		}()
	}
	wg.Wait()

	for _, cam := range mustLookup(t, "six_spatial").Cameras() {
		if p, ok := c.Shown(cam); !ok || p.FrameIndex != 19 {
			t.Errorf("%s: got frame %d", cam, p.FrameIndex)
		}
	}
}
