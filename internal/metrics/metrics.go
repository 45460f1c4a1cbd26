// Package metrics exposes prometheus collectors for the replay core: decode
// runs and coalescing per camera, segment loads, and playback steps.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Segment load outcomes recorded by SegmentLoad.
const (
	LoadOK    = "ok"
	LoadStale = "stale"
	LoadError = "error"
)

// Metrics holds all replay collectors on a private registry. A nil *Metrics
// is valid and records nothing, so components can take it optionally.
type Metrics struct {
	registry *prometheus.Registry

	decodeRuns       *prometheus.CounterVec
	decodeCoalesced  *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	decodeSuppressed *prometheus.CounterVec
	decodeDuration   *prometheus.HistogramVec
	segmentLoads     *prometheus.CounterVec
	steps            prometheus.Counter
	playing          prometheus.Gauge
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decodeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_decode_runs_total",
			Help: "Keyframe-anchored decode runs started",
		}, []string{"camera"}),
		decodeCoalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_decode_requests_coalesced_total",
			Help: "Frame requests dropped because a newer request replaced them while busy",
		}, []string{"camera"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_decode_errors_total",
			Help: "Decode runs that failed and were reported",
		}, []string{"camera"}),
		decodeSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_decode_cancelled_total",
			Help: "Decode errors suppressed because the pipeline was released",
		}, []string{"camera"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replay_decode_run_seconds",
			Help:    "Wall time of completed decode runs",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 10),
		}, []string{"camera"}),
		segmentLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replay_segment_loads_total",
			Help: "Collection segment loads by outcome",
		}, []string{"result"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replay_playback_steps_total",
			Help: "Scheduler step timer firings that advanced playback",
		}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_playing",
			Help: "1 while the scheduler is in the Playing state",
		}),
	}

	m.registry.MustRegister(
		m.decodeRuns,
		m.decodeCoalesced,
		m.decodeErrors,
		m.decodeSuppressed,
		m.decodeDuration,
		m.segmentLoads,
		m.steps,
		m.playing,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in the prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DecodeRun(camera string) {
	if m == nil {
		return
	}
	m.decodeRuns.WithLabelValues(camera).Inc()
}

func (m *Metrics) DecodeCoalesced(camera string) {
	if m == nil {
		return
	}
	m.decodeCoalesced.WithLabelValues(camera).Inc()
}

func (m *Metrics) DecodeError(camera string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(camera).Inc()
}

func (m *Metrics) DecodeSuppressed(camera string) {
	if m == nil {
		return
	}
	m.decodeSuppressed.WithLabelValues(camera).Inc()
}

// DecodeDone records the duration of a completed run.
func (m *Metrics) DecodeDone(camera string, d time.Duration) {
	if m == nil {
		return
	}
	m.decodeDuration.WithLabelValues(camera).Observe(d.Seconds())
}

// SegmentLoad records a segment load outcome (LoadOK, LoadStale, LoadError).
func (m *Metrics) SegmentLoad(result string) {
	if m == nil {
		return
	}
	m.segmentLoads.WithLabelValues(result).Inc()
}

func (m *Metrics) Step() {
	if m == nil {
		return
	}
	m.steps.Inc()
}

// SetPlaying sets the playing gauge.
func (m *Metrics) SetPlaying(playing bool) {
	if m == nil {
		return
	}
	if playing {
		m.playing.Set(1)
	} else {
		m.playing.Set(0)
	}
}
