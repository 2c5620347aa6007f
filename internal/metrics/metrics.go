// Package metrics holds the Prometheus registry for Confluence Sentinel,
// constructed once by Core and passed to every component that observes it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus collectors.
type Registry struct {
	FetchDuration     *prometheus.HistogramVec
	DetectionDuration prometheus.Histogram
	CircuitState      *prometheus.GaugeVec
	AlertsEmitted     *prometheus.CounterVec
	AlertsPruned      prometheus.Counter
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	ObservationsFetched prometheus.Gauge
}

// NewRegistry builds and registers every collector.
func NewRegistry() *Registry {
	r := &Registry{
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_fetch_duration_seconds",
				Help:    "Duration of upstream fetch calls by endpoint kind.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),

		DetectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sentinel_detection_cycle_duration_seconds",
				Help:    "Duration of a full fetch+evaluate+persist detection cycle.",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0},
			},
		),

		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_circuit_breaker_state",
				Help: "Circuit breaker state per endpoint base (0=closed, 1=half-open, 2=open).",
			},
			[]string{"base_url"},
		),

		AlertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_emitted_total",
				Help: "Total alerts persisted, by setup type and severity.",
			},
			[]string{"setup_type", "severity"},
		),

		AlertsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_pruned_total",
				Help: "Total alerts removed by retention pruning.",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_hits_total",
				Help: "Total cache hits by key prefix.",
			},
			[]string{"key"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_misses_total",
				Help: "Total cache misses by key prefix.",
			},
			[]string{"key"},
		),

		ObservationsFetched: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_observations_fetched",
				Help: "Number of market observations in the most recent fetch snapshot.",
			},
		),
	}

	prometheus.MustRegister(
		r.FetchDuration,
		r.DetectionDuration,
		r.CircuitState,
		r.AlertsEmitted,
		r.AlertsPruned,
		r.CacheHits,
		r.CacheMisses,
		r.ObservationsFetched,
	)

	return r
}

// CycleTimer times a detection cycle and records it on Stop.
type CycleTimer struct {
	registry *Registry
	start    time.Time
}

// StartCycleTimer begins timing a detection cycle.
func (r *Registry) StartCycleTimer() *CycleTimer {
	return &CycleTimer{registry: r, start: time.Now()}
}

// Stop records the elapsed duration.
func (ct *CycleTimer) Stop() {
	elapsed := time.Since(ct.start)
	ct.registry.DetectionDuration.Observe(elapsed.Seconds())
	log.Debug().Dur("elapsed", elapsed).Msg("metrics: detection cycle recorded")
}

// RecordAlert increments the emitted counter for one alert.
func (r *Registry) RecordAlert(setupType, severity string) {
	r.AlertsEmitted.WithLabelValues(setupType, severity).Inc()
}

// RecordCacheHit increments the hit counter for key.
func (r *Registry) RecordCacheHit(key string) {
	r.CacheHits.WithLabelValues(key).Inc()
}

// RecordCacheMiss increments the miss counter for key.
func (r *Registry) RecordCacheMiss(key string) {
	r.CacheMisses.WithLabelValues(key).Inc()
}

// SetCircuitState records breaker state for a base URL: 0=closed, 1=half-open, 2=open.
func (r *Registry) SetCircuitState(baseURL string, state float64) {
	r.CircuitState.WithLabelValues(baseURL).Set(state)
}
