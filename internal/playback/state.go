package playback

import "github.com/zsiec/camreplay/internal/media"

// Mode is the scheduler state.
type Mode int

const (
	Idle Mode = iota
	Playing
	Paused
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// LoadState is the state of the collection stitcher.
type LoadState int

const (
	LoadIdle LoadState = iota
	SegmentLoading
	Ready
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case SegmentLoading:
		return "segment-loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Cursor is the collection playback position. Token is the live load token;
// a segment load that captured an older value is discarded on completion.
type Cursor struct {
	Segment    int
	LocalFrame int
	Token      uint64
	Loading    bool
}

// Status is a snapshot of the controller, suitable for a time display.
type Status struct {
	Session    string
	Mode       Mode
	Collection bool
	Master     media.Camera

	// Frame and Frames describe the master stream (the current segment's in
	// collection mode).
	Frame  int
	Frames int

	// PositionMs is relative to the first master frame in clip mode and
	// absolute on the virtual timeline in collection mode.
	PositionMs int64
	DurationMs int64
	Clock      string

	Load     LoadState
	Cursor   Cursor
	Segments int
}
