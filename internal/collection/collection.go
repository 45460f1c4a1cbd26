// Package collection describes the physically separate segments of one
// logical recording and loads their frame indexes lazily.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zsiec/camreplay/internal/frameindex"
	"github.com/zsiec/camreplay/internal/media"
	"github.com/zsiec/camreplay/internal/timeline"
)

var (
	ErrEmptySegment = errors.New("collection: segment has no sources")
	ErrNoSegments   = errors.New("collection: no segments")
)

// FrameSource yields the ordered frames of one camera stream plus the static
// decoder configuration. Load may perform I/O and is called at most once per
// segment by a Loader.
type FrameSource interface {
	Camera() media.Camera
	Load(ctx context.Context) ([]media.Frame, media.StreamInfo, error)
}

// Segment is one physical sub-recording of a collection.
type Segment struct {
	Name       string
	Created    time.Time // nominal creation time, positions the segment on the timeline
	DurationMs int64     // nominal length if known, 0 otherwise
	Sources    []FrameSource
}

func (s Segment) key() string {
	return s.Name + "@" + s.Created.UTC().Format(time.RFC3339Nano)
}

// Stream is a loaded camera stream of a segment.
type Stream struct {
	Camera media.Camera
	Index  *frameindex.Index
	Info   media.StreamInfo
}

// LoadError reports a source of a segment that failed to load.
type LoadError struct {
	Segment string
	Camera  media.Camera
	Err     error
}

func (e *LoadError) Error() string {
	if e.Camera == "" {
		return fmt.Sprintf("collection: load %s: %v", e.Segment, e.Err)
	}
	return fmt.Sprintf("collection: load %s/%s: %v", e.Segment, e.Camera, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Sort orders segments by creation time, keeping the input order for ties.
func Sort(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Created.Before(segments[j].Created)
	})
}

// Timeline derives the virtual timeline of segments, which must already be
// sorted. The last segment's nominal duration closes the timeline.
func Timeline(segments []Segment) (*timeline.VirtualTimeline, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	created := make([]time.Time, len(segments))
	for i, s := range segments {
		created[i] = s.Created
	}
	return timeline.FromCreated(created, segments[len(segments)-1].DurationMs)
}

// Load reads and indexes a single source.
func Load(ctx context.Context, segment string, src FrameSource) (Stream, error) {
	frames, info, err := src.Load(ctx)
	if err != nil {
		return Stream{}, &LoadError{Segment: segment, Camera: src.Camera(), Err: err}
	}
	idx, err := frameindex.New(frames)
	if err != nil {
		return Stream{}, &LoadError{Segment: segment, Camera: src.Camera(), Err: err}
	}
	return Stream{Camera: src.Camera(), Index: idx, Info: info}, nil
}
