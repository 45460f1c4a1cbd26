// Package source reads camera recordings into the frame list and decoder
// configuration that playback indexes. Streams are raw H.264 Annex B
// elementary streams, one file per camera.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/zsiec/camreplay/internal/media"
)

// DefaultFrameRate is assumed when neither the caller nor the SPS supplies
// one.
const DefaultFrameRate = 30.0

var (
	ErrNoSPS    = errors.New("source: stream has no SPS")
	ErrNoFrames = errors.New("source: stream has no pictures")
)

// Opener opens the underlying byte stream.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// AnnexB is a FrameSource over an H.264 Annex B elementary stream. Each
// access unit becomes one frame; keyframe payloads carry the parameter sets
// so a decoder can start on any of them.
type AnnexB struct {
	camera    media.Camera
	open      Opener
	frameRate float64
	log       *slog.Logger
}

// Option configures an AnnexB source.
type Option func(*AnnexB)

// WithFrameRate fixes the frame rate instead of reading it from the SPS.
func WithFrameRate(fps float64) Option {
	return func(a *AnnexB) {
		if fps > 0 {
			a.frameRate = fps
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *AnnexB) {
		if log != nil {
			a.log = log
		}
	}
}

// New returns an AnnexB source for camera reading from open.
func New(camera media.Camera, open Opener, opts ...Option) *AnnexB {
	a := &AnnexB{camera: camera, open: open, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With("component", "source", "camera", string(camera))
	return a
}

// NewFile returns an AnnexB source reading the file at path.
func NewFile(camera media.Camera, path string, opts ...Option) *AnnexB {
	return New(camera, func(context.Context) (io.ReadCloser, error) {
		return os.Open(path)
	}, opts...)
}

// Camera implements collection.FrameSource.
func (a *AnnexB) Camera() media.Camera {
	return a.camera
}

// Load implements collection.FrameSource.
func (a *AnnexB) Load(ctx context.Context) ([]media.Frame, media.StreamInfo, error) {
	rc, err := a.open(ctx)
	if err != nil {
		return nil, media.StreamInfo{}, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(&ctxReader{ctx: ctx, r: rc})
	if err != nil {
		return nil, media.StreamInfo{}, fmt.Errorf("read: %w", err)
	}
	frames, info, err := a.parse(data)
	if err != nil {
		return nil, media.StreamInfo{}, err
	}
	a.log.Debug("stream indexed", "frames", len(frames), "codec", info.Codec,
		"width", info.Width, "height", info.Height)
	return frames, info, nil
}

func (a *AnnexB) parse(data []byte) ([]media.Frame, media.StreamInfo, error) {
	units := parseAnnexB(data)

	var sps, pps []byte
	for _, u := range units {
		switch {
		case u.typ == nalSPS && sps == nil:
			sps = u.data
		case u.typ == nalPPS && pps == nil:
			pps = u.data
		}
	}
	if sps == nil {
		return nil, media.StreamInfo{}, ErrNoSPS
	}
	spsInfo, err := ParseSPS(sps)
	if err != nil {
		return nil, media.StreamInfo{}, fmt.Errorf("parse SPS: %w", err)
	}

	fps := a.frameRate
	if fps <= 0 {
		fps = spsInfo.FrameRate
	}
	if fps <= 0 || fps > 240 {
		fps = DefaultFrameRate
	}

	aus := splitAccessUnits(units)
	if len(aus) == 0 {
		return nil, media.StreamInfo{}, ErrNoFrames
	}

	frames := make([]media.Frame, len(aus))
	for i, au := range aus {
		ts := frameTime(i, fps)
		frames[i] = media.Frame{
			TimestampMs: ts,
			DurationMs:  frameTime(i+1, fps) - ts,
			IsKeyframe:  au.idr,
			Payload:     au.payload(sps, pps),
		}
	}

	info := media.StreamInfo{
		Codec:  spsInfo.CodecString(),
		Width:  spsInfo.Width,
		Height: spsInfo.Height,
		SPS:    bytes.Clone(sps),
		PPS:    bytes.Clone(pps),
	}
	return frames, info, nil
}

func frameTime(i int, fps float64) int64 {
	return int64(math.Round(float64(i) * 1000 / fps))
}

// accessUnit is the NAL units of one coded picture.
type accessUnit struct {
	units          []nalUnit
	idr            bool
	hasSPS, hasPPS bool
}

// payload re-serializes the access unit as Annex B. IDR access units that
// lack parameter sets get the stream's prepended.
func (au accessUnit) payload(sps, pps []byte) []byte {
	var buf bytes.Buffer
	write := func(nal []byte) {
		buf.Write([]byte{0, 0, 0, 1})
		buf.Write(nal)
	}
	if au.idr && !au.hasSPS && sps != nil {
		write(sps)
	}
	if au.idr && !au.hasPPS && pps != nil {
		write(pps)
	}
	for _, u := range au.units {
		write(u.data)
	}
	return buf.Bytes()
}

// splitAccessUnits groups NAL units into pictures. A picture ends at an AUD,
// at a parameter set or SEI following its slices, or at a slice whose
// first_mb_in_slice is 0. Non-VCL units are carried into the next picture;
// trailing ones are dropped.
func splitAccessUnits(units []nalUnit) []accessUnit {
	var (
		out    []accessUnit
		cur    accessUnit
		hasVCL bool
	)
	flush := func() {
		if !hasVCL {
			return
		}
		out = append(out, cur)
		cur, hasVCL = accessUnit{}, false
	}

	for _, u := range units {
		switch {
		case u.typ == nalAUD:
			flush()
			continue
		case u.typ == nalSPS || u.typ == nalPPS || u.typ == nalSEI:
			flush()
		case u.vcl():
			if first, err := firstMbInSlice(u.data); err == nil && first == 0 {
				flush()
			}
			hasVCL = true
			if u.typ == nalIDR {
				cur.idr = true
			}
		}
		cur.hasSPS = cur.hasSPS || u.typ == nalSPS
		cur.hasPPS = cur.hasPPS || u.typ == nalPPS
		cur.units = append(cur.units, u)
	}
	flush()
	return out
}

// ctxReader aborts a read loop once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
