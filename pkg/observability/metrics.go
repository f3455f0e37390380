package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every Record method is safe on a nil
// receiver so that libraries can run without metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge

	// Profile catalog metrics
	ProfileMutationsTotal *prometheus.CounterVec

	// Assignment metrics
	PopulationLoadsTotal    *prometheus.CounterVec
	PopulationSize          prometheus.Histogram
	AssignmentChunksTotal   *prometheus.CounterVec
	AssignmentChunkDuration *prometheus.HistogramVec
	AssignmentAccountsTotal *prometheus.CounterVec
	AssignmentCommitsTotal  *prometheus.CounterVec
	AssignmentConflicts     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accesskit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accesskit_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accesskit_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accesskit_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		ProfileMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_profile_mutations_total",
				Help: "Total number of access profile mutations",
			},
			[]string{"operation"},
		),

		PopulationLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_population_loads_total",
				Help: "Total number of assignable population loads",
			},
			[]string{"truncated"},
		),
		PopulationSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accesskit_population_size",
				Help:    "Number of accounts returned by a population load",
				Buckets: []float64{10, 50, 100, 500, 1000, 2500, 5000, 10000},
			},
		),
		AssignmentChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_assignment_chunks_total",
				Help: "Total number of assignment chunk writes",
			},
			[]string{"operation", "status"},
		),
		AssignmentChunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accesskit_assignment_chunk_duration_seconds",
				Help:    "Assignment chunk write duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		AssignmentAccountsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_assignment_accounts_total",
				Help: "Total number of accounts whose profile was written",
			},
			[]string{"operation"},
		),
		AssignmentCommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesskit_assignment_commits_total",
				Help: "Total number of assignment commits by outcome",
			},
			[]string{"status"},
		),
		AssignmentConflicts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accesskit_assignment_conflicts",
				Help:    "Number of overwrite conflicts detected per commit",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.ProfileMutationsTotal,
		m.PopulationLoadsTotal,
		m.PopulationSize,
		m.AssignmentChunksTotal,
		m.AssignmentChunkDuration,
		m.AssignmentAccountsTotal,
		m.AssignmentCommitsTotal,
		m.AssignmentConflicts,
	)

	return m
}

// RecordCacheHit counts a cache hit
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a cache miss
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// RecordDBStats publishes connection pool statistics
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// RecordProfileMutation counts a catalog write
func (m *Metrics) RecordProfileMutation(operation string) {
	if m == nil {
		return
	}
	m.ProfileMutationsTotal.WithLabelValues(operation).Inc()
}

// RecordPopulationLoad records the size of a loaded population
func (m *Metrics) RecordPopulationLoad(size int, truncated bool) {
	if m == nil {
		return
	}
	m.PopulationLoadsTotal.WithLabelValues(strconv.FormatBool(truncated)).Inc()
	m.PopulationSize.Observe(float64(size))
}

// RecordChunk records one chunk write. Accounts are counted only on success.
func (m *Metrics) RecordChunk(operation string, accounts int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.AssignmentChunksTotal.WithLabelValues(operation, status).Inc()
	m.AssignmentChunkDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err == nil {
		m.AssignmentAccountsTotal.WithLabelValues(operation).Add(float64(accounts))
	}
}

// RecordCommit records the outcome of an assignment commit
func (m *Metrics) RecordCommit(status string, conflicts int) {
	if m == nil {
		return
	}
	m.AssignmentCommitsTotal.WithLabelValues(status).Inc()
	m.AssignmentConflicts.Observe(float64(conflicts))
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
// Requests are labelled with the mux route template to bound cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *http.ServeMux, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
