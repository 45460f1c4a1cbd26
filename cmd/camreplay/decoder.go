package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync/atomic"

	"github.com/zsiec/camreplay/internal/decode"
	"github.com/zsiec/camreplay/internal/media"
)

var (
	errNotAnnexB   = errors.New("payload is not Annex B")
	errKeyframeSPS = errors.New("keyframe payload lacks SPS")
)

var startCode = []byte{0, 0, 0, 1}

// placeholderDecoder stands in for a platform H.264 decoder. It checks that
// payloads are decodable from their keyframe and outputs a flat picture of
// the stream's size whose shade tracks the frame timestamp.
type placeholderDecoder struct {
	picture *image.Gray
	started bool
	closed  atomic.Bool
}

func newPlaceholderDecoder(info media.StreamInfo) (decode.Decoder, error) {
	w, h := info.Width, info.Height
	if w <= 0 || h <= 0 {
		w, h = 16, 16
	}
	return &placeholderDecoder{picture: image.NewGray(image.Rect(0, 0, w, h))}, nil
}

func (d *placeholderDecoder) Decode(ctx context.Context, frame media.Frame) (image.Image, error) {
	if d.closed.Load() {
		return nil, decode.ErrDecoderClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(frame.Payload, startCode) {
		return nil, errNotAnnexB
	}
	if !d.started {
		if !frame.IsKeyframe || !bytes.Contains(frame.Payload, []byte{0, 0, 0, 1, 0x67}) {
			return nil, errKeyframeSPS
		}
		d.started = true
	}

	// Pictures of a run share one buffer; only the last is rendered.
	shade := 30 + uint8(frame.TimestampMs/40%200)
	for i := range d.picture.Pix {
		d.picture.Pix[i] = shade
	}
	return d.picture, nil
}

func (d *placeholderDecoder) Flush(ctx context.Context) ([]image.Image, error) {
	if d.closed.Load() {
		return nil, decode.ErrDecoderClosed
	}
	return nil, nil
}

func (d *placeholderDecoder) Close() error {
	d.closed.Store(true)
	return nil
}
