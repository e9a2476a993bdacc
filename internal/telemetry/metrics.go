package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the session lifecycle. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	loginAttempts   *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	logouts         *prometheus.CounterVec
	revokedSessions prometheus.Counter
	tokenReuse      prometheus.Counter
	sweepDeleted    prometheus.Counter
	sweepErrors     prometheus.Counter
	opDuration      *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry along with the Go and process
// collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh credential exchanges by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logouts_total",
			Help: "Logout requests by scope.",
		}, []string{"scope"}),
		revokedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_revoked_sessions_total",
			Help: "Refresh records revoked by logout.",
		}),
		tokenReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_token_reuse_total",
			Help: "Presentations of an already rotated or revoked refresh credential.",
		}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_ledger_sweep_deleted_total",
			Help: "Expired refresh records removed by the sweeper.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_ledger_sweep_errors_total",
			Help: "Failed sweeper runs.",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_operation_duration_seconds",
			Help:    "Session operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.loginAttempts, m.refreshes, m.logouts, m.revokedSessions,
		m.tokenReuse, m.sweepDeleted, m.sweepErrors, m.opDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveLogin(outcome, reason string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// ObserveLogout counts one logout and the records it revoked.
func (m *Metrics) ObserveLogout(everywhere bool, revoked int64) {
	if m == nil {
		return
	}
	scope := "single"
	if everywhere {
		scope = "everywhere"
	}
	m.logouts.WithLabelValues(scope).Inc()
	if revoked > 0 {
		m.revokedSessions.Add(float64(revoked))
	}
}

func (m *Metrics) ObserveTokenReuse() {
	if m == nil {
		return
	}
	m.tokenReuse.Inc()
}

// ObserveSweep satisfies the ledger sweeper's observer.
func (m *Metrics) ObserveSweep(deleted int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepErrors.Inc()
		return
	}
	m.sweepDeleted.Add(float64(deleted))
}

func (m *Metrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(operation).Observe(d.Seconds())
}
