// Package frameindex holds the immutable, timestamp-ordered frame list of a
// single stream and answers the two lookups the scheduler depends on: the
// floor frame for a timestamp and the keyframe that anchors a decode run.
package frameindex

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zsiec/camreplay/internal/media"
)

// Sentinel errors for index construction and lookup.
var (
	ErrUnsorted        = errors.New("frameindex: timestamps are not non-decreasing")
	ErrNoKeyframe      = errors.New("frameindex: stream has no keyframe")
	ErrNoKeyframeFound = errors.New("frameindex: no keyframe at or before target")
	ErrOutOfRange      = errors.New("frameindex: index out of range")
)

// Index is an immutable ordered frame list for one stream. It is safe for
// concurrent use once constructed.
type Index struct {
	frames        []media.Frame
	timestamps    []int64
	firstKeyframe int
}

// New builds an Index from frames in presentation order. The slice is copied
// and frames without a positive duration get media.DefaultFrameDurationMs.
// An empty frame list yields an empty Index; callers treat that as no data.
func New(frames []media.Frame) (*Index, error) {
	idx := &Index{
		frames:        make([]media.Frame, len(frames)),
		timestamps:    make([]int64, len(frames)),
		firstKeyframe: -1,
	}

	for i, f := range frames {
		if i > 0 && f.TimestampMs < frames[i-1].TimestampMs {
			return nil, fmt.Errorf("%w: frame %d at %dms follows %dms",
				ErrUnsorted, i, f.TimestampMs, frames[i-1].TimestampMs)
		}
		if f.DurationMs <= 0 {
			f.DurationMs = media.DefaultFrameDurationMs
		}
		if f.IsKeyframe && idx.firstKeyframe < 0 {
			idx.firstKeyframe = i
		}
		idx.frames[i] = f
		idx.timestamps[i] = f.TimestampMs
	}

	if len(frames) > 0 && idx.firstKeyframe < 0 {
		return nil, ErrNoKeyframe
	}
	if idx.firstKeyframe < 0 {
		idx.firstKeyframe = 0
	}
	return idx, nil
}

// Len returns the number of frames.
func (x *Index) Len() int {
	return len(x.frames)
}

// Empty reports whether the index holds no frames.
func (x *Index) Empty() bool {
	return len(x.frames) == 0
}

// Frame returns the frame at i.
func (x *Index) Frame(i int) (media.Frame, error) {
	if i < 0 || i >= len(x.frames) {
		return media.Frame{}, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(x.frames))
	}
	return x.frames[i], nil
}

// FirstKeyframe returns the index of the first keyframe, where playback of a
// freshly selected stream starts.
func (x *Index) FirstKeyframe() int {
	return x.firstKeyframe
}

// Floor returns the greatest index whose timestamp is <= ts, or 0 when ts
// precedes every frame or the index is empty. For non-decreasing queries the
// results are non-decreasing.
func (x *Index) Floor(ts int64) int {
	n := sort.Search(len(x.timestamps), func(i int) bool {
		return x.timestamps[i] > ts
	})
	if n == 0 {
		return 0
	}
	return n - 1
}

// KeyframeAtOrBefore scans backward from target for the keyframe that
// anchors a decode run ending at target.
func (x *Index) KeyframeAtOrBefore(target int) (int, error) {
	if target < 0 || target >= len(x.frames) {
		return 0, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, target, len(x.frames))
	}
	for i := target; i >= 0; i-- {
		if x.frames[i].IsKeyframe {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: target %d", ErrNoKeyframeFound, target)
}

// DurationMs returns the span from the first frame's timestamp to the end of
// the last frame.
func (x *Index) DurationMs() int64 {
	if len(x.frames) == 0 {
		return 0
	}
	last := x.frames[len(x.frames)-1]
	return last.TimestampMs + last.DurationMs - x.frames[0].TimestampMs
}
