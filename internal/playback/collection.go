package playback

import (
	"time"

	"github.com/zsiec/camreplay/internal/collection"
	"github.com/zsiec/camreplay/internal/metrics"
	"github.com/zsiec/camreplay/internal/timeline"
)

// collectionState is the stitcher state of a selected collection. cursor
// tracks the loaded segment; loadingSegment and targetLocalMs describe the
// load in flight, if any.
type collectionState struct {
	segments []collection.Segment
	timeline *timeline.VirtualTimeline

	cursor         Cursor
	state          LoadState
	loaded         bool
	loadingSegment int
	targetLocalMs  int64
	positionMs     int64
}

// seekCollection moves the virtual cursor to ms. A seek inside the loaded
// segment is served at once; a seek into another segment starts a load and
// supersedes any load already in flight.
func (c *Controller) seekCollection(ms int64) {
	cs := c.coll
	ms = cs.timeline.Clamp(ms)
	cs.positionMs = ms
	seg, local := cs.timeline.Locate(ms)

	if cs.cursor.Loading {
		if cs.loadingSegment == seg {
			cs.targetLocalMs = local
			return
		}
		c.token++
		cs.cursor.Loading = false
	}

	if cs.loaded && cs.cursor.Segment == seg {
		cs.state = Ready
		c.showLocal(local)
		return
	}
	c.startLoad(seg, local)
}

func (c *Controller) startLoad(seg int, local int64) {
	cs := c.coll
	c.token++
	token := c.token
	cs.cursor.Loading = true
	cs.loadingSegment = seg
	cs.targetLocalMs = local
	cs.state = SegmentLoading

	segment := cs.segments[seg]
	c.log.Debug("segment load started", "segment", segment.Name, "index", seg, "token", token)

	ctx := c.ctx
	go func() {
		streams, err := c.cfg.Loader.Load(ctx, segment)
		c.post(func() { c.onSegmentLoaded(token, seg, streams, err) })
	}()
}

// onSegmentLoaded applies a finished load if it is still the newest one.
func (c *Controller) onSegmentLoaded(token uint64, seg int, streams []collection.Stream, err error) {
	cs := c.coll
	if cs == nil || token != c.token {
		c.cfg.Metrics.SegmentLoad(metrics.LoadStale)
		c.log.Debug("discarding stale segment load", "index", seg, "token", token, "current", c.token)
		return
	}

	cs.cursor.Loading = false
	if err != nil {
		c.cfg.Metrics.SegmentLoad(metrics.LoadError)
		if cs.loaded {
			cs.state = Ready
		} else {
			cs.state = LoadIdle
		}
		c.log.Error("segment load failed", "segment", cs.segments[seg].Name, "error", err)
		if c.mode == Playing {
			c.pause()
		}
		c.reportError(err)
		return
	}

	c.cfg.Metrics.SegmentLoad(metrics.LoadOK)
	c.install(streams)
	cs.loaded = true
	cs.cursor.Segment = seg
	cs.state = Ready
	c.log.Info("segment ready", "segment", cs.segments[seg].Name, "index", seg, "streams", len(streams))
	c.showLocal(cs.targetLocalMs)
}

// showLocal shows the master frame at localMs past the start of the loaded
// segment and aligns the other streams to it.
func (c *Controller) showLocal(localMs int64) {
	m := c.masterStream()
	if m == nil || m.Index().Empty() {
		return
	}
	first, _ := m.Index().Frame(0)
	c.show(m.Index().Floor(first.TimestampMs + localMs))
}

// stepCollection advances the virtual cursor by the duration of the current
// master frame. While a segment is loading it polls instead.
func (c *Controller) stepCollection() {
	cs := c.coll
	if cs.cursor.Loading || !cs.loaded {
		c.schedule(c.cfg.LoadPollInterval)
		return
	}

	m := c.masterStream()
	if m == nil {
		c.pause()
		return
	}
	frame, err := m.Index().Frame(c.index)
	if err != nil {
		c.pause()
		return
	}

	next := cs.positionMs + frame.DurationMs
	if next > cs.timeline.DurationMs() {
		c.log.Debug("end of collection", "position_ms", cs.positionMs)
		c.pause()
		return
	}
	c.seekCollection(next)
	if cs.cursor.Loading {
		c.schedule(c.cfg.LoadPollInterval)
		return
	}
	c.schedule(msDuration(frame.DurationMs))
}

// stepCollectionFrames moves delta master frames within the loaded segment.
// Stepping past either end crosses into the neighboring segment.
func (c *Controller) stepCollectionFrames(delta int) {
	cs := c.coll
	m := c.masterStream()
	if cs.cursor.Loading || !cs.loaded || m == nil || m.Index().Empty() {
		return
	}

	seg := cs.cursor.Segment
	start := cs.timeline.Start(seg)
	target := c.index + delta
	switch {
	case target >= m.Index().Len() && seg+1 < cs.timeline.Len():
		c.seekCollection(cs.timeline.Start(seg + 1))
		return
	case target < 0 && seg > 0:
		c.seekCollection(start - 1)
		return
	}

	target = c.clampFrame(target)
	first, _ := m.Index().Frame(0)
	frame, _ := m.Index().Frame(target)
	c.seekCollection(start + frame.TimestampMs - first.TimestampMs)
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
