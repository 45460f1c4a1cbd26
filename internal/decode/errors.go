package decode

import (
	"errors"
	"fmt"

	"github.com/zsiec/camreplay/internal/media"
)

// Sentinel errors for decode runs.
var (
	// ErrDecoderClosed is returned by decoders used after Close. The pipeline
	// treats it as cancellation noise and never reports it.
	ErrDecoderClosed = errors.New("decode: decoder closed")
	ErrNoOutput      = errors.New("decode: run produced no picture")
)

// ResourceError indicates the decoder factory rejected the stream
// configuration. It is fatal for the stream.
type ResourceError struct {
	Camera media.Camera
	Err    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("decode: %s: create decoder: %v", e.Camera, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// RunError reports a failed decode run for one target frame.
type RunError struct {
	Camera media.Camera
	Target int
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("decode: %s: frame %d: %v", e.Camera, e.Target, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
