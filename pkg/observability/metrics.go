package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/La-R19/fiverecruit/pkg/apperr"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	PermissionChecksTotal   *prometheus.CounterVec
	PermissionCheckDuration *prometheus.HistogramVec

	// Entitlement metrics
	EntitlementResolutionsTotal *prometheus.CounterVec
	EntitlementFailuresTotal    prometheus.Counter
	EntitlementCacheHitsTotal   *prometheus.CounterVec
	EntitlementCacheMissesTotal *prometheus.CounterVec
	EntitlementInvalidations    *prometheus.CounterVec
	QuotaDenialsTotal           *prometheus.CounterVec
	ServersByPlan               *prometheus.GaugeVec

	// Atomic claims: invite, license, subscription_bind, subscription_unbind
	ClaimsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBConnectionsWait   prometheus.Gauge

	// Worker metrics
	WorkerJobRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiverecruit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiverecruit_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_permission_checks_total",
				Help: "Total number of permission checks by capability and decision",
			},
			[]string{"capability", "decision"},
		),
		PermissionCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiverecruit_permission_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"capability"},
		),

		EntitlementResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_entitlement_resolutions_total",
				Help: "Total number of entitlement resolutions against storage",
			},
			[]string{"plan", "source"},
		),
		EntitlementFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fiverecruit_entitlement_failures_total",
				Help: "Entitlement resolutions that failed closed to the free plan",
			},
		),
		EntitlementCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_entitlement_cache_hits_total",
				Help: "Entitlement cache hits by layer",
			},
			[]string{"layer"},
		),
		EntitlementCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_entitlement_cache_misses_total",
				Help: "Entitlement cache misses by layer",
			},
			[]string{"layer"},
		),
		EntitlementInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_entitlement_invalidations_total",
				Help: "Entitlement cache invalidations by origin",
			},
			[]string{"origin"},
		),
		QuotaDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_quota_denials_total",
				Help: "Creations rejected by a plan quota",
			},
			[]string{"resource"},
		),
		ServersByPlan: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fiverecruit_servers_by_plan",
				Help: "Number of servers currently resolved to each plan",
			},
			[]string{"plan"},
		),

		ClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_claims_total",
				Help: "Atomic claim attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiverecruit_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiverecruit_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWait: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiverecruit_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		WorkerJobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiverecruit_worker_job_runs_total",
				Help: "Scheduled worker job runs by job and status",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.PermissionChecksTotal,
		m.PermissionCheckDuration,
		m.EntitlementResolutionsTotal,
		m.EntitlementFailuresTotal,
		m.EntitlementCacheHitsTotal,
		m.EntitlementCacheMissesTotal,
		m.EntitlementInvalidations,
		m.QuotaDenialsTotal,
		m.ServersByPlan,
		m.ClaimsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWait,
		m.WorkerJobRunsTotal,
	)

	return m
}

// ObservePermissionCheck records one permission decision
func (m *Metrics) ObservePermissionCheck(capability string, allowed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.PermissionChecksTotal.WithLabelValues(capability, decision).Inc()
	m.PermissionCheckDuration.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// ObserveClaim records the outcome of an atomic claim. Outcome is "ok",
// "conflict" or "error".
func (m *Metrics) ObserveClaim(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case apperr.IsConflict(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	m.ClaimsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordDBStats copies sql.DBStats into the connection gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWait.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
