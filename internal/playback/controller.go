package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camreplay/internal/align"
	"github.com/zsiec/camreplay/internal/clock"
	"github.com/zsiec/camreplay/internal/collection"
	"github.com/zsiec/camreplay/internal/media"
	"github.com/zsiec/camreplay/internal/timeline"
)

// Controller is the playback state machine. Create it with New, start its
// event loop with Run, then drive it with the exported methods, which block
// until the controller goroutine has applied them.
type Controller struct {
	cfg      Config
	baseLog  *slog.Logger
	scrubber *timeline.Scrubber

	events  chan func()
	done    chan struct{}
	running atomic.Bool

	// Everything below is owned by the Run goroutine.
	ctx        context.Context
	log        *slog.Logger
	session    string
	mode       Mode
	token      uint64
	timer      clock.Timer
	timerGen   uint64
	master     media.Camera
	wantMaster media.Camera
	scrubGen   uint64
	streams    []*stream
	aligner    *align.Aligner
	index      int
	coll       *collectionState
	lastStatus Status
	notified   bool
}

// New creates a Controller. It does nothing until Run is called.
func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:     cfg,
		baseLog: cfg.Log.With("component", "playback"),
		events:  make(chan func(), eventBufferSize),
		done:    make(chan struct{}),
		ctx:     context.Background(),
	}
	c.log = c.baseLog
	c.scrubber = timeline.NewScrubber(cfg.Clock, cfg.ScrubQuantum, cfg.ScrubDebounce, c.commitScrub)
	return c
}

func (c *Controller) commitScrub(gen uint64, ms int64) {
	c.post(func() { c.applyScrub(gen, ms) })
}

// applyScrub seeks to a settled scrub position unless a later generation
// has already been applied.
func (c *Controller) applyScrub(gen uint64, ms int64) {
	if gen < c.scrubGen {
		c.log.Debug("dropping stale scrub commit", "position_ms", ms, "gen", gen, "current", c.scrubGen)
		return
	}
	c.scrubGen = gen
	c.seekTo(ms)
}

// Run processes commands and completions until ctx is done, then releases
// every decode pipeline. It may be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	defer c.teardown()

	c.ctx = ctx
	c.baseLog.Info("controller started")
	for {
		select {
		case <-ctx.Done():
			c.baseLog.Info("controller stopped")
			return nil
		case fn := <-c.events:
			fn()
			c.notify()
		}
	}
}

// post queues fn for the controller goroutine. It reports false once the
// controller has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the controller goroutine and waits for its result.
func (c *Controller) do(fn func() error) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	resp := make(chan error, 1)
	if !c.post(func() { resp <- fn() }) {
		return ErrNotRunning
	}
	select {
	case err := <-resp:
		return err
	case <-c.done:
		return ErrNotRunning
	}
}

// SelectStreams loads the given camera streams of one clip and makes them
// the active selection, resetting all playback state. master names the
// stream that drives the timeline; if empty the first source is used. The
// first keyframe of the master is shown.
func (c *Controller) SelectStreams(ctx context.Context, master media.Camera, sources ...collection.FrameSource) error {
	if len(sources) == 0 {
		return ErrNoStreams
	}
	if master == "" {
		master = sources[0].Camera()
	}

	var token uint64
	if err := c.do(func() error {
		token = c.reset()
		c.master, c.wantMaster = master, master
		return nil
	}); err != nil {
		return err
	}

	streams := make([]collection.Stream, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			s, err := collection.Load(gctx, "clip", src)
			if err != nil {
				return err
			}
			streams[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("select streams: %w", err)
	}

	return c.do(func() error {
		if token != c.token {
			return ErrSuperseded
		}
		c.install(streams)
		m := c.masterStream()
		c.log.Info("clip selected", "master", m.Camera(), "streams", len(c.streams), "frames", m.Index().Len())
		c.show(m.Index().FirstKeyframe())
		return nil
	})
}

// SelectCollection makes segments the active selection, resetting all
// playback state, and starts loading the segment at position 0.
func (c *Controller) SelectCollection(master media.Camera, segments []collection.Segment) error {
	segs := append([]collection.Segment(nil), segments...)
	collection.Sort(segs)
	tl, err := collection.Timeline(segs)
	if err != nil {
		return err
	}

	return c.do(func() error {
		c.reset()
		c.cfg.Loader.Purge()
		c.master, c.wantMaster = master, master
		c.coll = &collectionState{segments: segs, timeline: tl}
		c.log.Info("collection selected", "segments", len(segs), "duration_ms", tl.DurationMs())
		c.seekCollection(0)
		return nil
	})
}

// Play starts playback. It is a no-op when already playing or when nothing
// is selected.
func (c *Controller) Play() error {
	return c.do(func() error {
		c.play()
		return nil
	})
}

// Pause cancels the pending step and enters Paused. Idempotent.
func (c *Controller) Pause() error {
	return c.do(func() error {
		c.pause()
		return nil
	})
}

// Stop cancels playback, returns to the start of the selection, and enters
// Idle.
func (c *Controller) Stop() error {
	return c.do(func() error {
		c.stopTimer()
		c.setMode(Idle)
		switch {
		case c.coll != nil:
			c.seekCollection(0)
		case len(c.streams) > 0:
			c.show(c.masterStream().Index().FirstKeyframe())
		}
		return nil
	})
}

// SeekToFrame shows master frame i of the selected clip. i is clamped to
// the clip. Playback, if running, continues from the new frame.
func (c *Controller) SeekToFrame(i int) error {
	return c.do(func() error {
		if c.coll != nil {
			return ErrNotStream
		}
		if len(c.streams) == 0 {
			return ErrNoSelection
		}
		c.show(c.clampFrame(i))
		return nil
	})
}

// SeekToMs moves to ms on the virtual timeline of a collection, or to ms
// past the first master frame of a clip.
func (c *Controller) SeekToMs(ms int64) error {
	return c.do(func() error {
		if c.coll == nil && len(c.streams) == 0 {
			return ErrNoSelection
		}
		c.seekTo(ms)
		return nil
	})
}

// Scrub records an intermediate position of a drag gesture. Playback is
// paused; in collection mode the seek is quantized and debounced, in clip
// mode it is applied at once and decode coalescing absorbs the burst.
func (c *Controller) Scrub(ms int64) error {
	collectionMode := false
	if err := c.do(func() error {
		if c.coll == nil && len(c.streams) == 0 {
			return ErrNoSelection
		}
		c.pause()
		collectionMode = c.coll != nil
		if !collectionMode {
			c.seekTo(ms)
		}
		return nil
	}); err != nil {
		return err
	}
	if collectionMode {
		c.scrubber.Move(ms)
	}
	return nil
}

// EndScrub ends a drag gesture and commits ms exactly, without debounce.
func (c *Controller) EndScrub(ms int64) error {
	if err := c.do(func() error {
		if c.coll == nil && len(c.streams) == 0 {
			return ErrNoSelection
		}
		return nil
	}); err != nil {
		return err
	}
	c.scrubber.Release(ms)
	return c.do(func() error { return nil })
}

// StepFrames pauses and jumps delta master frames (negative steps back).
func (c *Controller) StepFrames(delta int) error {
	return c.do(func() error {
		if c.coll == nil && len(c.streams) == 0 {
			return ErrNoSelection
		}
		c.pause()
		if c.coll != nil {
			c.stepCollectionFrames(delta)
			return nil
		}
		c.show(c.clampFrame(c.index + delta))
		return nil
	})
}

// SetMaster makes camera the stream that drives the timeline and realigns
// every other stream to it.
func (c *Controller) SetMaster(camera media.Camera) error {
	return c.do(func() error {
		if c.coll == nil && len(c.streams) == 0 {
			return ErrNoSelection
		}
		if c.streamFor(camera) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownCamera, camera)
		}
		c.wantMaster = camera
		if camera == c.master {
			return nil
		}

		old := c.masterStream()
		oldTs := int64(0)
		if f, err := old.Index().Frame(c.currentFrame()); err == nil {
			oldTs = f.TimestampMs
		}

		c.master = camera
		c.rebuildAligner()
		c.log.Info("master camera changed", "master", camera)

		if c.coll != nil {
			c.seekCollection(c.coll.positionMs)
			return nil
		}
		c.show(c.masterStream().Index().Floor(oldTs))
		return nil
	})
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() (Status, error) {
	var st Status
	err := c.do(func() error {
		st = c.status()
		return nil
	})
	return st, err
}

// reset discards the current selection: timer, pipelines, cursor. It bumps
// the load token so in-flight loads of the old selection are discarded, and
// returns the new token.
func (c *Controller) reset() uint64 {
	c.stopTimer()
	c.scrubGen = c.scrubber.Cancel()
	c.releaseStreams()
	c.setMode(Idle)
	c.coll = nil
	c.index = 0
	c.token++
	c.session = uuid.NewString()
	c.log = c.baseLog.With("session", c.session)
	return c.token
}

func (c *Controller) teardown() {
	c.stopTimer()
	c.scrubber.Cancel()
	c.releaseStreams()
	c.cfg.Metrics.SetPlaying(false)
}

func (c *Controller) play() {
	if c.mode == Playing {
		return
	}
	if c.coll == nil {
		// A clip without master frames has nothing to play.
		if m := c.masterStream(); m == nil || m.Index().Empty() {
			return
		}
	}
	c.setMode(Playing)

	if cs := c.coll; cs != nil && (!cs.loaded || cs.cursor.Loading) {
		// Optimistic start: the step loop polls until the segment is in.
		c.seekCollection(cs.positionMs)
		c.schedule(c.cfg.LoadPollInterval)
		return
	}
	c.step()
}

func (c *Controller) pause() {
	c.stopTimer()
	if c.coll == nil && len(c.streams) == 0 {
		return
	}
	c.setMode(Paused)
}

func (c *Controller) setMode(m Mode) {
	if c.mode == m {
		return
	}
	c.log.Debug("mode", "from", c.mode, "to", m)
	c.mode = m
	c.cfg.Metrics.SetPlaying(m == Playing)
}

// schedule replaces the step timer. At most one timer is ever alive, and a
// replaced timer that already fired is ignored by generation.
func (c *Controller) schedule(d time.Duration) {
	c.stopTimer()
	gen := c.timerGen
	c.timer = c.cfg.Clock.AfterFunc(d, func() {
		c.post(func() { c.onTimer(gen) })
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Controller) onTimer(gen uint64) {
	if gen != c.timerGen || c.mode != Playing {
		return
	}
	c.timer = nil
	c.cfg.Metrics.Step()
	c.step()
}

func (c *Controller) step() {
	if c.coll != nil {
		c.stepCollection()
		return
	}
	c.stepStream()
}

// seekTo dispatches an absolute millisecond seek for either mode.
func (c *Controller) seekTo(ms int64) {
	if c.coll != nil {
		c.seekCollection(ms)
		return
	}
	m := c.masterStream()
	if m == nil || m.Index().Empty() {
		return
	}
	first, _ := m.Index().Frame(0)
	c.show(m.Index().Floor(first.TimestampMs + ms))
}

func (c *Controller) reportError(err error) {
	if c.cfg.Handlers.OnError != nil {
		c.cfg.Handlers.OnError(err)
	}
}

func (c *Controller) notify() {
	if c.cfg.Handlers.OnStatus == nil {
		return
	}
	st := c.status()
	if c.notified && st == c.lastStatus {
		return
	}
	c.lastStatus, c.notified = st, true
	c.cfg.Handlers.OnStatus(st)
}

func (c *Controller) status() Status {
	st := Status{
		Session: c.session,
		Mode:    c.mode,
		Master:  c.master,
	}
	m := c.masterStream()
	if m != nil {
		st.Frame = c.currentFrame()
		st.Frames = m.Index().Len()
	}

	if cs := c.coll; cs != nil {
		st.Collection = true
		st.PositionMs = cs.positionMs
		st.DurationMs = cs.timeline.DurationMs()
		st.Load = cs.state
		st.Cursor = cs.cursor
		st.Cursor.Token = c.token
		st.Segments = len(cs.segments)
	} else if m != nil && !m.Index().Empty() {
		first, _ := m.Index().Frame(0)
		cur, _ := m.Index().Frame(c.index)
		st.PositionMs = cur.TimestampMs - first.TimestampMs
		st.DurationMs = m.Index().DurationMs()
	}
	st.Clock = timeline.FormatClock(st.PositionMs)
	return st
}
