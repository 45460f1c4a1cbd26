package layout

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/zsiec/camreplay/internal/media"
)

var (
	background = color.RGBA{A: 0xFF}
	labelColor = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
)

// Compositor is a render sink that scales each camera's latest picture into
// its grid tile. Render may be called from any goroutine.
type Compositor struct {
	tileW, tileH int
	labels       bool

	mu     sync.Mutex
	layout Layout
	canvas *image.RGBA
	shown  map[media.Camera]media.Picture
}

// NewCompositor returns a Compositor for l with tiles of tileW x tileH
// pixels. When labels is set each tile is captioned with its slot label.
func NewCompositor(l Layout, tileW, tileH int, labels bool) *Compositor {
	c := &Compositor{tileW: tileW, tileH: tileH, labels: labels}
	c.SetLayout(l)
	return c
}

// SetLayout switches to l and redraws the pictures already shown.
func (c *Compositor) SetLayout(l Layout) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.layout = l
	c.canvas = image.NewRGBA(image.Rect(0, 0, c.tileW*l.Columns, c.tileH*l.Rows()))
	draw.Draw(c.canvas, c.canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	for i, s := range l.Slots {
		if p, ok := c.shown[s.Camera]; ok {
			c.drawTile(i, p.Image)
		} else {
			c.drawLabel(i)
		}
	}
}

// Render draws p into its camera's tile. Pictures of cameras without a slot
// are remembered but not drawn.
func (c *Compositor) Render(p media.Picture) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shown == nil {
		c.shown = make(map[media.Camera]media.Picture)
	}
	c.shown[p.Camera] = p
	if i, ok := c.layout.SlotOf(p.Camera); ok {
		c.drawTile(i, p.Image)
	}
}

// Shown returns the last picture rendered for camera.
func (c *Compositor) Shown(camera media.Camera) (media.Picture, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.shown[camera]
	return p, ok
}

// Snapshot returns a copy of the composited image.
func (c *Compositor) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.canvas.Bounds())
	copy(out.Pix, c.canvas.Pix)
	return out
}

// WritePNG encodes the composited image as PNG.
func (c *Compositor) WritePNG(w io.Writer) error {
	return png.Encode(w, c.Snapshot())
}

func (c *Compositor) tileRect(slot int) image.Rectangle {
	col, row := slot%c.layout.Columns, slot/c.layout.Columns
	origin := image.Pt(col*c.tileW, row*c.tileH)
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(c.tileW, c.tileH))}
}

func (c *Compositor) drawTile(slot int, img image.Image) {
	r := c.tileRect(slot)
	if img == nil {
		draw.Draw(c.canvas, r, image.NewUniform(background), image.Point{}, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(c.canvas, r, img, img.Bounds(), draw.Src, nil)
	}
	c.drawLabel(slot)
}

func (c *Compositor) drawLabel(slot int) {
	if !c.labels {
		return
	}
	r := c.tileRect(slot)
	d := &font.Drawer{
		Dst:  c.canvas,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(r.Min.X+4, r.Min.Y+basicfont.Face7x13.Ascent+4),
	}
	d.DrawString(c.layout.Slots[slot].Label)
}
