package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     *prometheus.CounterVec
	CacheEvictionsTotal  *prometheus.CounterVec
	CacheDiskErrorsTotal *prometheus.CounterVec
	CacheEntries         *prometheus.GaugeVec

	// Report metrics
	ReportComputeTotal    *prometheus.CounterVec
	ReportComputeDuration *prometheus.HistogramVec
	CacheWipesTotal       prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpureport_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gpureport_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpureport_cache_hits_total",
				Help: "Total number of report cache hits",
			},
			[]string{"tier", "tag"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpureport_cache_misses_total",
				Help: "Total number of report cache misses",
			},
			[]string{"tag"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpureport_cache_evictions_total",
				Help: "Total number of report cache evictions",
			},
			[]string{"tier", "reason"},
		),
		CacheDiskErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpureport_cache_disk_errors_total",
				Help: "Total number of disk tier errors",
			},
			[]string{"operation"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gpureport_cache_entries",
				Help: "Current number of cached reports",
			},
			[]string{"tier"},
		),

		ReportComputeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpureport_report_compute_total",
				Help: "Total number of report computations",
			},
			[]string{"tag", "status"},
		),
		ReportComputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gpureport_report_compute_duration_seconds",
				Help:    "Report computation duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"tag"},
		),
		CacheWipesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gpureport_cache_version_wipes_total",
				Help: "Total number of disk cache wipes caused by a version change",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheDiskErrorsTotal,
		m.CacheEntries,
		m.ReportComputeTotal,
		m.ReportComputeDuration,
		m.CacheWipesTotal,
	)

	return m
}

// The recorders below accept a nil receiver so components can run without metrics.

// RecordCacheHit counts a hit on the given tier
func (m *Metrics) RecordCacheHit(tier, tag string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier, tag).Inc()
}

// RecordCacheMiss counts a miss on both tiers
func (m *Metrics) RecordCacheMiss(tag string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(tag).Inc()
}

// RecordEviction counts an entry removed from a tier
func (m *Metrics) RecordEviction(tier, reason string) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(tier, reason).Inc()
}

// RecordDiskError counts a failed disk tier operation
func (m *Metrics) RecordDiskError(operation string) {
	if m == nil {
		return
	}
	m.CacheDiskErrorsTotal.WithLabelValues(operation).Inc()
}

// SetCacheEntries publishes the current entry count of a tier
func (m *Metrics) SetCacheEntries(tier string, n int) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues(tier).Set(float64(n))
}

// RecordCompute counts one computation and its duration
func (m *Metrics) RecordCompute(tag string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ReportComputeTotal.WithLabelValues(tag, status).Inc()
	m.ReportComputeDuration.WithLabelValues(tag).Observe(d.Seconds())
}

// RecordVersionWipe counts a disk cache wipe
func (m *Metrics) RecordVersionWipe() {
	if m == nil {
		return
	}
	m.CacheWipesTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a bounded label, typically the route template.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
