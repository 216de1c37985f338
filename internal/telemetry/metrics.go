// Package telemetry provides observability primitives for the shellcache gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	Revalidations      *prometheus.CounterVec
	Installs           *prometheus.CounterVec
	PrecacheFailures   *prometheus.CounterVec
	GenerationsPruned  prometheus.Counter
	RefreshQueueLength prometheus.Gauge
	OriginDuration     *prometheus.HistogramVec
	OriginErrors       *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "shellcache",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shellcache",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "cache_hits_total",
			Help:      "Total cache hits by request class.",
		}, []string{"class"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "cache_misses_total",
			Help:      "Total cache misses by request class.",
		}, []string{"class"}),

		Revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "revalidations_total",
			Help:      "Total background revalidations by result.",
		}, []string{"result"}),

		Installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "installs_total",
			Help:      "Total generation installs by result.",
		}, []string{"result"}),

		PrecacheFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "precache_failures_total",
			Help:      "Total precache fetch failures by request class.",
		}, []string{"class"}),

		GenerationsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "generations_pruned_total",
			Help:      "Total superseded cache generations deleted.",
		}),

		RefreshQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shellcache",
			Name:      "refresh_queue_length",
			Help:      "Current number of queued background refreshes.",
		}),

		OriginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "shellcache",
			Name:                            "origin_duration_seconds",
			Help:                            "Upstream fetch duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"class"}),

		OriginErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "origin_errors_total",
			Help:      "Total upstream fetch failures by request class.",
		}, []string{"class"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHits,
		m.CacheMisses,
		m.Revalidations,
		m.Installs,
		m.PrecacheFailures,
		m.GenerationsPruned,
		m.RefreshQueueLength,
		m.OriginDuration,
		m.OriginErrors,
	)

	return m
}
