// Package decodetest provides a scriptable in-memory decoder for tests of
// packages that drive decode pipelines.
package decodetest

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/zsiec/camreplay/internal/decode"
	"github.com/zsiec/camreplay/internal/media"
)

// Fake creates decoders that produce one small gray picture per frame and
// records every run. The zero value is not usable; call New.
type Fake struct {
	mu         sync.Mutex
	created    int
	closed     int
	runs       [][]int64
	holds      []*hold
	failAt     map[int64]error
	factoryErr error
	buffered   bool
}

type hold struct {
	started chan struct{}
	release chan struct{}
}

// New returns a Fake with no scripted behavior.
func New() *Fake {
	return &Fake{failAt: make(map[int64]error)}
}

// Factory returns a decode.Factory backed by f.
func (f *Fake) Factory() decode.Factory {
	return func(info media.StreamInfo) (decode.Decoder, error) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.factoryErr != nil {
			return nil, f.factoryErr
		}
		f.created++
		f.runs = append(f.runs, nil)
		d := &Decoder{
			fake:     f,
			run:      len(f.runs) - 1,
			buffered: f.buffered,
			done:     make(chan struct{}),
		}
		if len(f.holds) > 0 {
			d.hold = f.holds[0]
			f.holds = f.holds[1:]
		}
		return d, nil
	}
}

// Hold makes the next decoder created block in its first Decode call until
// release is called. started is closed once that Decode call has begun.
func (f *Fake) Hold() (started <-chan struct{}, release func()) {
	h := &hold{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.mu.Lock()
	f.holds = append(f.holds, h)
	f.mu.Unlock()

	var once sync.Once
	return h.started, func() { once.Do(func() { close(h.release) }) }
}

// FailAt makes Decode fail with err for the frame at timestamp ts.
func (f *Fake) FailAt(ts int64, err error) {
	f.mu.Lock()
	f.failAt[ts] = err
	f.mu.Unlock()
}

// FailFactory makes every subsequent factory call fail with err.
func (f *Fake) FailFactory(err error) {
	f.mu.Lock()
	f.factoryErr = err
	f.mu.Unlock()
}

// SetBuffered makes subsequent decoders hold every picture until Flush.
func (f *Fake) SetBuffered(buffered bool) {
	f.mu.Lock()
	f.buffered = buffered
	f.mu.Unlock()
}

// Created returns the number of decoders created.
func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Closed returns the number of decoders closed.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Runs returns the frame timestamps fed to each decoder, in creation order.
func (f *Fake) Runs() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]int64, len(f.runs))
	for i, r := range f.runs {
		out[i] = append([]int64(nil), r...)
	}
	return out
}

// Decoder is a single fake decoder instance.
type Decoder struct {
	fake     *Fake
	run      int
	buffered bool
	hold     *hold
	held     bool
	queued   []image.Image

	closeOnce sync.Once
	done      chan struct{}
}

// Decode implements decode.Decoder.
func (d *Decoder) Decode(ctx context.Context, frame media.Frame) (image.Image, error) {
	if d.hold != nil && !d.held {
		d.held = true
		close(d.hold.started)
		select {
		case <-d.hold.release:
		case <-d.done:
			return nil, decode.ErrDecoderClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case <-d.done:
		return nil, decode.ErrDecoderClosed
	default:
	}

	d.fake.mu.Lock()
	d.fake.runs[d.run] = append(d.fake.runs[d.run], frame.TimestampMs)
	err := d.fake.failAt[frame.TimestampMs]
	d.fake.mu.Unlock()
	if err != nil {
		return nil, err
	}

	img := Picture(frame.TimestampMs)
	if d.buffered {
		d.queued = append(d.queued, img)
		return nil, nil
	}
	return img, nil
}

// Flush implements decode.Decoder.
func (d *Decoder) Flush(ctx context.Context) ([]image.Image, error) {
	select {
	case <-d.done:
		return nil, decode.ErrDecoderClosed
	default:
	}
	out := d.queued
	d.queued = nil
	return out, nil
}

// Close implements decode.Decoder.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		d.fake.mu.Lock()
		d.fake.closed++
		d.fake.mu.Unlock()
	})
	return nil
}

// Picture returns the 1x1 picture the fake produces for timestamp ts. The
// gray level encodes ts modulo 256.
func Picture(ts int64) image.Image {
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: uint8(ts)})
	return img
}
