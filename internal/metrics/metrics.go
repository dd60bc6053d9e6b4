// Package metrics defines the Prometheus collectors scraped on /metrics.
// Collectors are package-level so services and adapters can record without
// threading a registry through every constructor.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProvisioningTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantforge_provisioning_total",
		Help: "Provisioning requests by ledger outcome and final result",
	}, []string{"outcome", "result"}) // outcome: fresh|in_flight|cached; result: completed|failed|replayed|rejected

	CompensationStepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantforge_compensation_steps_total",
		Help: "Compensation steps executed by step and result",
	}, []string{"step", "result"}) // result: ok|error|skipped

	RotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantforge_credential_rotations_total",
		Help: "Credential rotations by field and result",
	}, []string{"field", "result"})

	SafetyViolationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenantforge_safety_violations_total",
		Help: "Mutations blocked because the target is a platform administrator",
	})

	RosterRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantforge_roster_refresh_total",
		Help: "Administrator roster loads from the store by result",
	}, []string{"result"})

	ReconciledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantforge_reconciled_total",
		Help: "Pending identity compensations retried by the reconciler",
	}, []string{"result"})

	IdentityBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tenantforge_identity_breaker_state",
		Help: "Identity service circuit breaker state (0 closed, 1 half-open, 2 open)",
	})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantforge_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantforge_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ProvisioningTotal, CompensationStepsTotal, RotationsTotal, SafetyViolationsTotal,
		RosterRefreshTotal, ReconciledTotal, IdentityBreakerState,
		httpRequestsTotal, httpRequestDuration,
	}
}

// Register registers every collector on reg (the default registerer if nil).
// Repeated registration is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := registerCollector(reg, c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterPool exposes connection pool gauges for pool.
func RegisterPool(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return registerCollector(reg, newPoolCollector(pool))
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// WithHTTP records request count and latency labelled by the chi route
// pattern, so ids never become label values.
func WithHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// poolCollector reports pgxpool connection gauges at scrape time.
type poolCollector struct {
	pool *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
}

func newPoolCollector(pool *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:     pool,
		acquired: prometheus.NewDesc("tenantforge_pg_acquired_conns", "Acquired pool connections", nil, nil),
		idle:     prometheus.NewDesc("tenantforge_pg_idle_conns", "Idle pool connections", nil, nil),
		total:    prometheus.NewDesc("tenantforge_pg_total_conns", "Total pool connections", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
}
