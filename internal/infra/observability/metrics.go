package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/tradedesk-bfa-go/internal/domain"
)

// Reconcile outcomes.
const (
	OutcomeFound   = "found"
	OutcomeCreated = "created"
	OutcomeRace    = "race_recovered"
	OutcomeMissing = "missing"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Session command names.
const (
	CommandLogin    = "login"
	CommandRegister = "register"
	CommandLogout   = "logout"
	CommandUpdate   = "update_profile"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	authCommands      *prometheus.CounterVec
	reconciles        *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	forcedSignOuts    *prometheus.CounterVec
	hardResets        prometheus.Counter
	activeClients     prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		authCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_auth_commands_total",
				Help: "Session commands by outcome.",
			},
			[]string{"command", "result"},
		),
		reconciles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_reconcile_total",
				Help: "Profile reconciliations by outcome.",
			},
			[]string{"outcome"},
		),
		reconcileDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bfa_reconcile_duration_seconds",
				Help:    "Time spent resolving a principal to a profile.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		forcedSignOuts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_forced_signouts_total",
				Help: "Sessions invalidated because bootstrap could not complete.",
			},
			[]string{"reason"},
		),
		hardResets: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bfa_hard_resets_total",
				Help: "Hard authentication resets performed.",
			},
		),
		activeClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bfa_active_clients",
				Help: "Browser clients with a live session controller.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrAuthCommand counts a login, register, logout or profile update.
func (m *Metrics) IncrAuthCommand(command string, success bool) {
	result := resultFailure
	if success {
		result = resultSuccess
	}
	m.authCommands.WithLabelValues(command, result).Inc()
}

// ObserveReconcile records one reconciliation and its latency.
func (m *Metrics) ObserveReconcile(outcome string, d time.Duration) {
	m.reconciles.WithLabelValues(outcome).Inc()
	m.reconcileDuration.Observe(d.Seconds())
}

// IncrForcedSignOut counts a sign-out forced by the given reason code.
func (m *Metrics) IncrForcedSignOut(reason string) {
	m.forcedSignOuts.WithLabelValues(reason).Inc()
}

// IncrHardReset counts a hard authentication reset.
func (m *Metrics) IncrHardReset() {
	m.hardResets.Inc()
}

// SetActiveClients sets the live client gauge.
func (m *Metrics) SetActiveClients(n int) {
	m.activeClients.Set(float64(n))
}

// GetAuthSnapshot returns a snapshot of session metrics suitable for the
// GET /v1/metrics/auth endpoint.
func (m *Metrics) GetAuthSnapshot() *domain.AuthMetrics {
	forced := make(map[string]int64)
	for _, reason := range []domain.LoginReason{
		domain.ReasonProfileMissing,
		domain.ReasonProfileError,
		domain.ReasonTimeout,
		domain.ReasonSessionInvalid,
		domain.ReasonSessionError,
	} {
		if v := getCounterValue(m.forcedSignOuts, string(reason)); v > 0 {
			forced[string(reason)] = int64(v)
		}
	}

	avgLatency := float64(0)
	h := &dto.Metric{}
	if err := m.reconcileDuration.Write(h); err == nil && h.Histogram != nil {
		if n := h.Histogram.GetSampleCount(); n > 0 {
			avgLatency = h.Histogram.GetSampleSum() / float64(n) * 1000
		}
	}

	return &domain.AuthMetrics{
		LoginsSucceeded:     int64(getCounterValue(m.authCommands, CommandLogin, resultSuccess)),
		LoginsFailed:        int64(getCounterValue(m.authCommands, CommandLogin, resultFailure)),
		Registrations:       int64(getCounterValue(m.authCommands, CommandRegister, resultSuccess)),
		Logouts:             int64(getCounterValue(m.authCommands, CommandLogout, resultSuccess)),
		ProfilesCreated:     int64(getCounterValue(m.reconciles, OutcomeCreated)),
		ProfileRaces:        int64(getCounterValue(m.reconciles, OutcomeRace)),
		ForcedSignOuts:      forced,
		HardResets:          int64(counterValue(m.hardResets)),
		ActiveClients:       int64(gaugeValue(m.activeClients)),
		AvgReconcileLatency: avgLatency,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return counterValue(cv.WithLabelValues(labels...))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
