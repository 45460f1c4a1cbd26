// Package media defines the record types that flow through the replay core,
// from the frame sources through decoding to the render callback.
package media

import "image"

// DefaultFrameDurationMs is used for frames whose container did not carry a
// duration. Dashcam clips run at roughly 30 fps.
const DefaultFrameDurationMs = 33

// Camera identifies one stream of a recording (one physical camera).
type Camera string

// Camera names used by dashcam recordings.
const (
	CameraFront         Camera = "front"
	CameraBack          Camera = "back"
	CameraLeftRepeater  Camera = "left_repeater"
	CameraRightRepeater Camera = "right_repeater"
	CameraLeftPillar    Camera = "left_pillar"
	CameraRightPillar   Camera = "right_pillar"
)

// Frame is a single encoded access unit of one stream. Frames are immutable
// once produced and are ordered by TimestampMs (non-decreasing).
type Frame struct {
	TimestampMs int64
	DurationMs  int64
	IsKeyframe  bool
	Payload     []byte // Annex B access unit, parameter sets prepended on keyframes
}

// StreamInfo is the static configuration a decoder needs before the first
// keyframe can be decoded.
type StreamInfo struct {
	Codec  string // RFC 6381 codec string, e.g. "avc1.640028"
	Width  int
	Height int
	SPS    []byte
	PPS    []byte
}

// Picture is a decoded frame delivered to the rendering surface of its
// camera. Only the target frame of a decode run is ever delivered.
type Picture struct {
	Camera      Camera
	FrameIndex  int
	TimestampMs int64
	Image       image.Image
}
