package playback

import (
	"github.com/zsiec/camreplay/internal/align"
	"github.com/zsiec/camreplay/internal/collection"
	"github.com/zsiec/camreplay/internal/decode"
	"github.com/zsiec/camreplay/internal/media"
)

// stream is an active decode pipeline. Requests before the first keyframe
// are raised to it, since nothing earlier can be decoded.
type stream struct {
	*decode.Pipeline
}

func (s *stream) RequestFrame(i int) {
	if first := s.Index().FirstKeyframe(); i < first {
		i = first
	}
	s.Pipeline.RequestFrame(i)
}

// install replaces the active pipelines with fresh ones for streams.
func (c *Controller) install(streams []collection.Stream) {
	c.releaseStreams()
	c.streams = make([]*stream, 0, len(streams))
	for _, st := range streams {
		s := &stream{}
		s.Pipeline = decode.New(c.ctx, decode.Config{
			Camera:     st.Camera,
			Index:      st.Index,
			Info:       st.Info,
			NewDecoder: c.cfg.NewDecoder,
			Render:     c.cfg.Handlers.OnRender,
			OnError: func(err error) {
				c.post(func() { c.onDecodeError(s, err) })
			},
			Log:     c.log,
			Metrics: c.cfg.Metrics,
		})
		c.streams = append(c.streams, s)
	}
	// The requested master survives segments that lack it.
	c.master = c.wantMaster
	if c.streamFor(c.master) == nil && len(c.streams) > 0 {
		c.log.Warn("master camera not in selection, using first stream",
			"requested", c.wantMaster, "master", c.streams[0].Camera())
		c.master = c.streams[0].Camera()
	}
	c.rebuildAligner()
}

func (c *Controller) releaseStreams() {
	for _, s := range c.streams {
		s.Release()
	}
	c.streams = nil
	c.aligner = nil
}

func (c *Controller) rebuildAligner() {
	targets := make([]align.Target, len(c.streams))
	for i, s := range c.streams {
		targets[i] = s
	}
	c.aligner = align.New(c.master, targets...)
}

func (c *Controller) streamFor(camera media.Camera) *stream {
	for _, s := range c.streams {
		if s.Camera() == camera {
			return s
		}
	}
	return nil
}

func (c *Controller) masterStream() *stream {
	return c.streamFor(c.master)
}

func (c *Controller) currentFrame() int {
	return c.index
}

func (c *Controller) clampFrame(i int) int {
	m := c.masterStream()
	if m == nil || m.Index().Empty() {
		return 0
	}
	if last := m.Index().Len() - 1; i > last {
		i = last
	}
	if i < 0 {
		i = 0
	}
	return i
}

// show makes master frame i current and requests it on every stream.
func (c *Controller) show(i int) {
	m := c.masterStream()
	if m == nil || m.Index().Empty() {
		return
	}
	c.index = i
	if c.coll != nil {
		c.coll.cursor.LocalFrame = i
	}
	frame, err := m.Index().Frame(i)
	if err != nil {
		return
	}
	m.RequestFrame(i)
	c.aligner.Align(frame.TimestampMs)
}

// stepStream advances a single clip by one master frame.
func (c *Controller) stepStream() {
	m := c.masterStream()
	if m == nil {
		c.pause()
		return
	}
	next := c.index + 1
	if next >= m.Index().Len() {
		c.log.Debug("end of clip")
		c.pause()
		return
	}
	c.show(next)
	frame, _ := m.Index().Frame(next)
	c.schedule(msDuration(frame.DurationMs))
}

// onDecodeError handles a failure reported by pipeline s. Errors from
// pipelines that are no longer active are dropped. A failing master pauses
// playback, since the timeline cannot advance without it.
func (c *Controller) onDecodeError(s *stream, err error) {
	active := false
	for _, cur := range c.streams {
		if cur == s {
			active = true
			break
		}
	}
	if !active {
		return
	}

	c.reportError(err)
	if s.Camera() == c.master && c.mode == Playing {
		c.log.Warn("pausing after master decode failure", "camera", s.Camera(), "error", err)
		c.pause()
	}
}
