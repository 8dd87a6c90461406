// Package metrics exposes scrapehub's Prometheus surface. It replaces the
// teacher's hand-rolled text-exposition server (internal/observability/metrics.go)
// with real collectors from github.com/prometheus/client_golang, grounded on
// 99souls-ariadne's go.mod, and uses the metric names original_source's
// metrics.py established (genericized from the "facebook_*" prefix).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector named in SPEC_FULL.md §6.
type Metrics struct {
	ScrapesTotal        *prometheus.CounterVec
	ScrapesSuccessTotal *prometheus.CounterVec
	ScrapesFailedTotal  *prometheus.CounterVec
	RateLimitsTotal     prometheus.Counter
	CheckpointsTotal    prometheus.Counter

	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     *prometheus.CounterVec
	CacheEvictionTotal   *prometheus.CounterVec
	CacheTTLExpiryTotal  *prometheus.CounterVec
	CacheSizeCurrent     *prometheus.GaugeVec

	SingleFlightRequestsTotal    *prometheus.CounterVec
	SingleFlightTimeoutsTotal    *prometheus.CounterVec
	SingleFlightCoordFailsTotal  *prometheus.CounterVec
	SingleFlightCoordLatency     prometheus.Histogram

	QueueSize      *prometheus.GaugeVec
	ActiveContexts prometheus.Gauge
	ActivePages    prometheus.Gauge
	BrowserMemoryMB *prometheus.GaugeVec
	CurrentWorkers prometheus.Gauge

	ScrapeDuration      *prometheus.HistogramVec
	NavigationDuration  *prometheus.HistogramVec
	ExtractionDuration  *prometheus.HistogramVec
	QueueWaitDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
}

var scrapeBuckets = []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0}

// New creates and registers every collector against a fresh registry, so
// multiple Metrics instances (e.g. in tests) never collide on the default
// global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	const ns = "scrapehub"

	m := &Metrics{
		ScrapesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "scrapes_total", Help: "Total scrape attempts.",
		}, []string{"mode"}),
		ScrapesSuccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "scrapes_success_total", Help: "Successful scrapes.",
		}, []string{"mode"}),
		ScrapesFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "scrapes_failed_total", Help: "Failed scrapes by error kind.",
		}, []string{"error_kind", "mode"}),
		RateLimitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "rate_limits_total", Help: "Rate-limit wait events.",
		}),
		CheckpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "checkpoints_total", Help: "Upstream checkpoint/block events.",
		}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_hits_total", Help: "Cache hits.",
		}, []string{"cache_type"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_misses_total", Help: "Cache misses.",
		}, []string{"cache_type", "reason"}),
		CacheEvictionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_eviction_total", Help: "LRU evictions.",
		}, []string{"cache_type"}),
		CacheTTLExpiryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "cache_ttl_expiry_total", Help: "Entries observed expired.",
		}, []string{"cache_type"}),
		CacheSizeCurrent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "cache_size_current", Help: "Current cache size.",
		}, []string{"cache_type"}),
		SingleFlightRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "single_flight_requests_total", Help: "Direct vs coalesced requests.",
		}, []string{"type"}),
		SingleFlightTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "single_flight_timeouts_total", Help: "Single-flight await timeouts.",
		}, []string{"scope"}),
		SingleFlightCoordFailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "single_flight_coordination_failures_total", Help: "Cross-process coordination failures.",
		}, []string{"error_type"}),
		SingleFlightCoordLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "single_flight_coordination_latency_seconds", Help: "Lock+pubsub round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "queue_size", Help: "Per-mode queue length.",
		}, []string{"mode"}),
		ActiveContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_contexts", Help: "Live browser contexts.",
		}),
		ActivePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_pages", Help: "Live pages on loan.",
		}),
		BrowserMemoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "browser_memory_mb", Help: "Reported browser memory sample.",
		}, []string{"browser_id"}),
		CurrentWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "current_workers", Help: "Current worker count.",
		}),
		ScrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "scrape_duration_seconds", Help: "Total scrape duration.", Buckets: scrapeBuckets,
		}, []string{"mode"}),
		NavigationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "navigation_duration_seconds", Help: "Page navigation duration.", Buckets: scrapeBuckets,
		}, []string{"mode"}),
		ExtractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "extraction_duration_seconds", Help: "DOM extraction duration.", Buckets: scrapeBuckets,
		}, []string{"mode"}),
		QueueWaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "queue_wait_duration_seconds", Help: "Time a job waited in queue.", Buckets: scrapeBuckets,
		}, []string{"mode"}),
		registry: reg,
	}

	reg.MustRegister(
		m.ScrapesTotal, m.ScrapesSuccessTotal, m.ScrapesFailedTotal, m.RateLimitsTotal, m.CheckpointsTotal,
		m.CacheHitsTotal, m.CacheMissesTotal, m.CacheEvictionTotal, m.CacheTTLExpiryTotal, m.CacheSizeCurrent,
		m.SingleFlightRequestsTotal, m.SingleFlightTimeoutsTotal, m.SingleFlightCoordFailsTotal, m.SingleFlightCoordLatency,
		m.QueueSize, m.ActiveContexts, m.ActivePages, m.BrowserMemoryMB, m.CurrentWorkers,
		m.ScrapeDuration, m.NavigationDuration, m.ExtractionDuration, m.QueueWaitDuration,
	)
	return m
}

// Handler returns the HTTP handler to mount at the configured metrics path.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
