package playback

import "errors"

var (
	ErrNotRunning     = errors.New("playback: controller not running")
	ErrAlreadyRunning = errors.New("playback: controller already running")
	ErrNoSelection    = errors.New("playback: nothing selected")
	ErrNoStreams      = errors.New("playback: selection has no streams")
	ErrNotStream      = errors.New("playback: operation requires single-clip mode")
	ErrUnknownCamera  = errors.New("playback: camera not in selection")
	ErrSuperseded     = errors.New("playback: selection superseded by a newer one")
)
