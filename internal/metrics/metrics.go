// Package metrics exposes Prometheus collectors for the speech subsystem.
// A Collector is created per process and handed to the orchestrator,
// playback manager and recognition manager as their observer.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

const namespace = "tingshuo"

// CacheSource reports cache statistics.
type CacheSource interface {
	Stats() cache.CacheStats
}

// Collector records synthesis, cache, playback and recognition metrics on
// its own registry.
type Collector struct {
	registry *prometheus.Registry

	synthesis        *prometheus.CounterVec
	synthesisLatency *prometheus.HistogramVec
	providerFailures *prometheus.CounterVec

	playbackActive   prometheus.Gauge
	playbackSessions *prometheus.CounterVec

	recognitions       *prometheus.CounterVec
	recognitionLatency prometheus.Histogram
	accuracy           *prometheus.HistogramVec
}

// New creates a collector with a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		synthesis: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Synthesis requests by serving source and outcome",
		}, []string{"source", "outcome"}),

		synthesisLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_seconds",
			Help:      "Time to resolve a synthesis request",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"source"}),

		providerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Provider attempts that failed and fell through",
		}, []string{"provider", "reason"}),

		playbackActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_active_sessions",
			Help:      "Playback sessions currently running",
		}),

		playbackSessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_sessions_total",
			Help:      "Finished playback sessions by result",
		}, []string{"result"}),

		recognitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognition attempts by outcome",
		}, []string{"outcome"}),

		recognitionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_duration_seconds",
			Help:      "Duration of recognition sessions",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 10, 30},
		}),

		accuracy: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pronunciation_accuracy",
			Help:      "Pronunciation accuracy of scored attempts",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"locale"}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WatchCache exports the store's counters and size.
func (c *Collector) WatchCache(src CacheSource) {
	f := promauto.With(c.registry)

	counter := func(name, help string, value func(cache.CacheStats) int64) {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(src.Stats())) })
	}
	gauge := func(name, help string, value func(cache.CacheStats) int64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(src.Stats())) })
	}

	counter("hits_total", "Cache lookups served", func(s cache.CacheStats) int64 { return s.Hits })
	counter("misses_total", "Cache lookups not served", func(s cache.CacheStats) int64 { return s.Misses })
	counter("evictions_total", "Entries evicted over capacity", func(s cache.CacheStats) int64 { return s.Evictions })
	counter("expired_total", "Entries dropped after their TTL", func(s cache.CacheStats) int64 { return s.Expired })
	counter("corrupted_total", "Entries dropped as corrupted", func(s cache.CacheStats) int64 { return s.Corrupted })
	counter("io_errors_total", "Backend I/O failures treated as misses", func(s cache.CacheStats) int64 { return s.IOErrors })
	gauge("entries", "Entries currently cached", func(s cache.CacheStats) int64 { return int64(s.Entries) })
	gauge("bytes", "Payload bytes currently cached", func(s cache.CacheStats) int64 { return s.Bytes })
}

// ObserveSynthesis records a resolved synthesis request.
func (c *Collector) ObserveSynthesis(source, outcome string, elapsed time.Duration) {
	if source == "" {
		source = "none"
	}
	c.synthesis.WithLabelValues(source, outcome).Inc()
	c.synthesisLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// ObserveProviderFailure records a provider attempt that fell through.
func (c *Collector) ObserveProviderFailure(provider string, err error) {
	c.providerFailures.WithLabelValues(provider, failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ttypes.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, ttypes.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// PlaybackStarted records a session start.
func (c *Collector) PlaybackStarted(string) {
	c.playbackActive.Inc()
}

// PlaybackEnded records a session end.
func (c *Collector) PlaybackEnded(_ string, completed bool, err error) {
	c.playbackActive.Dec()

	result := "stopped"
	switch {
	case err != nil:
		result = "failed"
	case completed:
		result = "completed"
	}
	c.playbackSessions.WithLabelValues(result).Inc()
}

// ObserveRecognition records a recognition outcome.
func (c *Collector) ObserveRecognition(outcome string, elapsed time.Duration) {
	c.recognitions.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		c.recognitionLatency.Observe(elapsed.Seconds())
	}
}

// ObserveAccuracy records a scored pronunciation attempt.
func (c *Collector) ObserveAccuracy(locale ttypes.Locale, accuracy float64) {
	c.accuracy.WithLabelValues(string(locale)).Observe(accuracy)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if logger == nil {
		logger = log.WithPrefix("metrics")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
