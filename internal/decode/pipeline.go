package decode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/camreplay/internal/frameindex"
	"github.com/zsiec/camreplay/internal/media"
	"github.com/zsiec/camreplay/internal/metrics"
)

// Config describes the stream a Pipeline decodes and where its output goes.
type Config struct {
	Camera     media.Camera
	Index      *frameindex.Index
	Info       media.StreamInfo
	NewDecoder Factory

	// Render receives exactly one picture per successful run.
	Render func(media.Picture)
	// OnError receives reported run failures (*RunError). Cancellation noise
	// caused by Release is never delivered.
	OnError func(error)

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Stats is a point-in-time snapshot of a pipeline's counters.
type Stats struct {
	Runs       int64 // decode runs started
	Renders    int64 // pictures delivered
	Coalesced  int64 // pending requests overwritten before they ran
	Errors     int64 // runs reported through OnError
	Suppressed int64 // runs that failed after Release
}

// pendingSlot is the single-value decode backlog. put overwrites.
type pendingSlot struct {
	index int
	set   bool
}

func (s *pendingSlot) put(index int) (overwrote bool) {
	overwrote = s.set
	s.index = index
	s.set = true
	return overwrote
}

func (s *pendingSlot) take() (int, bool) {
	if !s.set {
		return 0, false
	}
	s.set = false
	return s.index, true
}

func (s *pendingSlot) clear() {
	s.set = false
}

// Pipeline serializes decode runs for one stream. RequestFrame is safe for
// concurrent use; runs execute on a pipeline-owned goroutine.
type Pipeline struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	camera     media.Camera
	index      *frameindex.Index
	info       media.StreamInfo
	newDecoder Factory
	render     func(media.Picture)
	onError    func(error)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight bool
	pending  pendingSlot
	released bool
	active   Decoder
	idle     chan struct{}
	stats    Stats
}

// New creates an idle Pipeline. The pipeline's runs are cancelled when ctx is
// done or Release is called.
func New(ctx context.Context, cfg Config) *Pipeline {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)

	p := &Pipeline{
		log:        log.With("component", "decode", "camera", string(cfg.Camera)),
		metrics:    cfg.Metrics,
		camera:     cfg.Camera,
		index:      cfg.Index,
		info:       cfg.Info,
		newDecoder: cfg.NewDecoder,
		render:     cfg.Render,
		onError:    cfg.OnError,
		idle:       idle,
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	return p
}

// Camera returns the stream identity.
func (p *Pipeline) Camera() media.Camera {
	return p.camera
}

// Index returns the stream's frame index.
func (p *Pipeline) Index() *frameindex.Index {
	return p.index
}

// RequestFrame asks for frame target to be shown. If no run is in flight one
// starts immediately; otherwise target replaces any pending request.
func (p *Pipeline) RequestFrame(target int) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	if p.inFlight {
		if p.pending.put(target) {
			p.stats.Coalesced++
			p.metrics.DecodeCoalesced(string(p.camera))
		}
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.idle = make(chan struct{})
	p.mu.Unlock()

	go p.drain(target)
}

// Idle returns a channel that is closed once no run is in flight and the
// pending slot is empty.
func (p *Pipeline) Idle() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

// Busy reports whether a run is in flight.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Release tears the pipeline down: the pending request is dropped, the active
// decoder is closed, and later requests are ignored. Safe to call repeatedly.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.pending.clear()
	dec := p.active
	p.active = nil
	p.mu.Unlock()

	p.cancel()
	if dec != nil {
		if err := dec.Close(); err != nil {
			p.log.Debug("close on release", "error", err)
		}
	}
}

// drain runs target and then whatever is left in the pending slot, one run
// at a time, until the slot is empty.
func (p *Pipeline) drain(target int) {
	for {
		p.runOnce(target)

		p.mu.Lock()
		next, ok := p.pending.take()
		if !ok || p.released {
			p.inFlight = false
			p.pending.clear()
			close(p.idle)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		target = next
	}
}

func (p *Pipeline) runOnce(target int) {
	p.mu.Lock()
	p.stats.Runs++
	p.mu.Unlock()
	p.metrics.DecodeRun(string(p.camera))

	start := time.Now()
	img, err := p.decodeRun(target)
	if err != nil {
		p.fail(target, err)
		return
	}

	p.mu.Lock()
	released := p.released
	if !released {
		p.stats.Renders++
	}
	p.mu.Unlock()
	if released {
		return
	}

	p.metrics.DecodeDone(string(p.camera), time.Since(start))

	frame, _ := p.index.Frame(target)
	if p.render != nil {
		p.render(media.Picture{
			Camera:      p.camera,
			FrameIndex:  target,
			TimestampMs: frame.TimestampMs,
			Image:       img,
		})
	}
}

// decodeRun decodes from the keyframe at or before target through target and
// returns the last picture produced. Intermediate pictures are discarded.
func (p *Pipeline) decodeRun(target int) (image.Image, error) {
	key, err := p.index.KeyframeAtOrBefore(target)
	if err != nil {
		return nil, err
	}

	dec, err := p.newDecoder(p.info)
	if err != nil {
		return nil, &ResourceError{Camera: p.camera, Err: err}
	}
	if !p.setActive(dec) {
		dec.Close()
		return nil, ErrDecoderClosed
	}
	defer p.clearActive(dec)

	var last image.Image
	for i := key; i <= target; i++ {
		frame, err := p.index.Frame(i)
		if err != nil {
			return nil, err
		}
		out, err := dec.Decode(p.ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", i, err)
		}
		if out != nil {
			last = out
		}
	}

	rest, err := dec.Flush(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	if len(rest) > 0 {
		last = rest[len(rest)-1]
	}
	if last == nil {
		return nil, ErrNoOutput
	}
	return last, nil
}

func (p *Pipeline) setActive(dec Decoder) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return false
	}
	p.active = dec
	return true
}

// clearActive closes dec unless Release already took ownership of it.
func (p *Pipeline) clearActive(dec Decoder) {
	p.mu.Lock()
	owned := p.active == dec
	if owned {
		p.active = nil
	}
	p.mu.Unlock()

	if owned {
		if err := dec.Close(); err != nil {
			p.log.Debug("decoder close", "error", err)
		}
	}
}

func (p *Pipeline) fail(target int, err error) {
	p.mu.Lock()
	cancelled := p.released || errors.Is(err, ErrDecoderClosed)
	if cancelled {
		p.stats.Suppressed++
	} else {
		p.stats.Errors++
	}
	p.mu.Unlock()

	if cancelled {
		p.metrics.DecodeSuppressed(string(p.camera))
		p.log.Debug("decode run cancelled", "target", target, "error", err)
		return
	}

	p.metrics.DecodeError(string(p.camera))
	runErr := &RunError{Camera: p.camera, Target: target, Err: err}
	p.log.Warn("decode run failed", "target", target, "error", err)
	if p.onError != nil {
		p.onError(runErr)
	}
}
