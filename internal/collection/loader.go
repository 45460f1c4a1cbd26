package collection

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Loader loads segments on demand. Every camera of a segment is loaded in
// parallel, results are cached, and concurrent loads of the same segment
// share one underlying load.
type Loader struct {
	log   *slog.Logger
	group singleflight.Group

	mu    sync.Mutex
	cache map[string][]Stream
	loads int
}

// NewLoader creates a Loader. If log is nil, slog.Default() is used.
func NewLoader(log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		log:   log.With("component", "segment-loader"),
		cache: make(map[string][]Stream),
	}
}

// Load returns the streams of seg in source order, loading them if needed.
// A caller whose ctx ends stops waiting; the shared load continues for any
// other waiters.
func (l *Loader) Load(ctx context.Context, seg Segment) ([]Stream, error) {
	key := seg.key()

	l.mu.Lock()
	if streams, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return streams, nil
	}
	l.mu.Unlock()

	ch := l.group.DoChan(key, func() (any, error) {
		return l.load(context.WithoutCancel(ctx), seg)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Stream), nil
	}
}

// Cached reports whether seg has been loaded.
func (l *Loader) Cached(seg Segment) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[seg.key()]
	return ok
}

// Loads returns how many underlying segment loads have run.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// Purge drops every cached segment.
func (l *Loader) Purge() {
	l.mu.Lock()
	l.cache = make(map[string][]Stream)
	l.mu.Unlock()
}

func (l *Loader) load(ctx context.Context, seg Segment) ([]Stream, error) {
	if len(seg.Sources) == 0 {
		return nil, &LoadError{Segment: seg.Name, Err: ErrEmptySegment}
	}

	l.mu.Lock()
	l.loads++
	l.mu.Unlock()

	streams := make([]Stream, len(seg.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range seg.Sources {
		g.Go(func() error {
			s, err := Load(gctx, seg.Name, src)
			if err != nil {
				return err
			}
			streams[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.log.Warn("segment load failed", "segment", seg.Name, "error", err)
		return nil, err
	}

	l.mu.Lock()
	l.cache[seg.key()] = streams
	l.mu.Unlock()

	l.log.Debug("segment loaded", "segment", seg.Name, "streams", len(streams))
	return streams, nil
}
