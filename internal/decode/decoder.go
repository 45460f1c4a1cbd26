package decode

import (
	"context"
	"image"

	"github.com/zsiec/camreplay/internal/media"
)

// Decoder is an opaque picture decoder for one stream. Frames of a run are
// fed in order starting at a keyframe.
type Decoder interface {
	// Decode submits one frame. It returns a picture when the decoder has
	// output ready, or nil when the output is still buffered.
	Decode(ctx context.Context, frame media.Frame) (image.Image, error)
	// Flush drains pictures still held by the decoder, in output order.
	Flush(ctx context.Context) ([]image.Image, error)
	// Close releases the decoder. Calls after Close fail with ErrDecoderClosed.
	Close() error
}

// Factory creates a configured Decoder for a stream. An error here means the
// configuration was rejected.
type Factory func(info media.StreamInfo) (Decoder, error)
