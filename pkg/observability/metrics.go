package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// OAuth metrics
	OAuthGrantsTotal *prometheus.CounterVec

	// Access metrics
	AccessDecisionsTotal     *prometheus.CounterVec
	AccessDecisionDuration   *prometheus.HistogramVec
	PrivateCacheLookupsTotal *prometheus.CounterVec

	// Storage metrics
	StorageErrorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesscore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accesscore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		OAuthGrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesscore_oauth_grants_total",
				Help: "Token endpoint grants by type and outcome",
			},
			[]string{"grant_type", "status"},
		),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesscore_access_decisions_total",
				Help: "Access decisions by entity type and the rule that settled them",
			},
			[]string{"entity_type", "path"},
		),
		AccessDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accesscore_access_decision_duration_seconds",
				Help:    "Batched access decision latency",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"entity_type"},
		),
		PrivateCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesscore_private_cache_lookups_total",
				Help: "Private access cache lookups by result",
			},
			[]string{"result"},
		),

		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accesscore_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "backend"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OAuthGrantsTotal,
		m.AccessDecisionsTotal,
		m.AccessDecisionDuration,
		m.PrivateCacheLookupsTotal,
		m.StorageErrorsTotal,
	)

	return m
}

// RecordGrant counts a token endpoint outcome
func (m *Metrics) RecordGrant(grantType, status string) {
	if m == nil {
		return
	}
	m.OAuthGrantsTotal.WithLabelValues(grantType, status).Inc()
}

// RecordDecisions counts n decisions settled by path
func (m *Metrics) RecordDecisions(entityType, path string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.AccessDecisionsTotal.WithLabelValues(entityType, path).Add(float64(n))
}

// ObserveDecision records the latency of one batched decision
func (m *Metrics) ObserveDecision(entityType string, d time.Duration) {
	if m == nil {
		return
	}
	m.AccessDecisionDuration.WithLabelValues(entityType).Observe(d.Seconds())
}

// RecordCacheLookup counts a private cache hit, miss or refresh
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.PrivateCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordStorageError counts a failed storage operation
func (m *Metrics) RecordStorageError(operation, backend string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(operation, backend).Inc()
}

// RegisterDBStats exports connection pool statistics for db under name
func (m *Metrics) RegisterDBStats(db *sql.DB, name string) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
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
// Requests are labelled by route template so ids in paths do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

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
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
