// Package monitoring - metrics.go exposes Prometheus metrics.
//
// DESIGN: One process-wide metric set, registered once. Labels are kept to
// closed, low-cardinality sets (cache name, verdict, tier, api type) so the
// hot path never allocates label values per caller.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects operational metrics for the filter gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	cacheEvictions  *prometheus.CounterVec
	cacheBytes      *prometheus.GaugeVec
	aiCallsTotal    *prometheus.CounterVec
	aiCallLatency   *prometheus.HistogramVec
	trackerFailures prometheus.Counter
}

// NewMetrics creates and registers the metric set on the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filtergate_requests_total",
			Help: "Filter requests processed, by verdict and source",
		}, []string{"verdict", "source"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filtergate_request_duration_seconds",
			Help:    "End-to-end filter request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"source"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filtergate_cache_hits_total",
			Help: "In-memory cache hits by cache name",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filtergate_cache_misses_total",
			Help: "In-memory cache misses by cache name",
		}, []string{"cache"}),
		cacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filtergate_cache_evictions_total",
			Help: "In-memory cache evictions by cache name",
		}, []string{"cache"}),
		cacheBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filtergate_cache_bytes",
			Help: "Bytes currently accounted in each in-memory cache",
		}, []string{"cache"}),
		aiCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filtergate_ai_calls_total",
			Help: "AI provider calls by tier and outcome",
		}, []string{"tier", "outcome"}),
		aiCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filtergate_ai_call_duration_seconds",
			Help:    "AI provider call latency by tier",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"tier"}),
		trackerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filtergate_tracker_write_failures_total",
			Help: "Counter-store writes dropped by the stats tracker",
		}),
	}
	reg.MustRegister(
		m.requestsTotal, m.requestLatency,
		m.cacheHits, m.cacheMisses, m.cacheEvictions, m.cacheBytes,
		m.aiCallsTotal, m.aiCallLatency, m.trackerFailures,
	)
	return m
}

// RecordRequest records a processed filter request.
// source is one of "cache", "prescreen", "ai".
func (m *Metrics) RecordRequest(blocked bool, source string, d time.Duration) {
	verdict := "allowed"
	if blocked {
		verdict = "blocked"
	}
	m.requestsTotal.WithLabelValues(verdict, source).Inc()
	m.requestLatency.WithLabelValues(source).Observe(d.Seconds())
}

// RecordCacheHit records a hit on the named cache.
func (m *Metrics) RecordCacheHit(cache string) { m.cacheHits.WithLabelValues(cache).Inc() }

// RecordCacheMiss records a miss on the named cache.
func (m *Metrics) RecordCacheMiss(cache string) { m.cacheMisses.WithLabelValues(cache).Inc() }

// RecordCacheEviction records an eviction from the named cache.
func (m *Metrics) RecordCacheEviction(cache string) { m.cacheEvictions.WithLabelValues(cache).Inc() }

// SetCacheBytes reports the current byte footprint of the named cache.
func (m *Metrics) SetCacheBytes(cache string, bytes int64) {
	m.cacheBytes.WithLabelValues(cache).Set(float64(bytes))
}

// RecordAICall records an AI provider call.
// outcome is one of "ok", "error", "open" (breaker short-circuit).
func (m *Metrics) RecordAICall(tier, outcome string, d time.Duration) {
	m.aiCallsTotal.WithLabelValues(tier, outcome).Inc()
	m.aiCallLatency.WithLabelValues(tier).Observe(d.Seconds())
}

// RecordTrackerFailure records a dropped tracker write.
func (m *Metrics) RecordTrackerFailure() { m.trackerFailures.Inc() }
