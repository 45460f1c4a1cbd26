package playback

import (
	"log/slog"
	"time"

	"github.com/zsiec/camreplay/internal/clock"
	"github.com/zsiec/camreplay/internal/collection"
	"github.com/zsiec/camreplay/internal/decode"
	"github.com/zsiec/camreplay/internal/media"
	"github.com/zsiec/camreplay/internal/metrics"
	"github.com/zsiec/camreplay/internal/timeline"
)

// Scheduler defaults.
const (
	DefaultLoadPollInterval = 50 * time.Millisecond
	eventBufferSize         = 64
)

// Handlers are the controller's outputs. Any of them may be nil.
type Handlers struct {
	// OnRender receives one picture per completed decode run, from the
	// decoding goroutine of the picture's camera.
	OnRender func(media.Picture)
	// OnError receives load and decode failures, on the controller goroutine.
	OnError func(error)
	// OnStatus receives a snapshot whenever the status changes, on the
	// controller goroutine.
	OnStatus func(Status)
}

// Config configures a Controller. Only NewDecoder is required.
type Config struct {
	NewDecoder decode.Factory
	Handlers   Handlers

	Clock   clock.Clock
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Loader  *collection.Loader

	LoadPollInterval time.Duration
	ScrubQuantum     time.Duration
	ScrubDebounce    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Loader == nil {
		c.Loader = collection.NewLoader(c.Log)
	}
	if c.LoadPollInterval <= 0 {
		c.LoadPollInterval = DefaultLoadPollInterval
	}
	if c.ScrubQuantum <= 0 {
		c.ScrubQuantum = timeline.DefaultScrubQuantum
	}
	if c.ScrubDebounce <= 0 {
		c.ScrubDebounce = timeline.DefaultScrubDebounce
	}
	return c
}
