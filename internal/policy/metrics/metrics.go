package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for policy loading.
type Metrics struct {
	// Reload attempts by jurisdiction and result
	Reloads *prometheus.CounterVec

	// Documents rejected by validation
	ValidationFailures *prometheus.CounterVec

	// Jurisdictions that crossed the consecutive-failure alert threshold
	ValidationAlerts *prometheus.CounterVec

	// Snapshots installed
	SnapshotSwaps prometheus.Counter
}

// New creates a new Metrics instance with all policy metrics registered.
func New() *Metrics {
	return &Metrics{
		Reloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_policy_reloads_total",
			Help: "Policy reload attempts by jurisdiction and result",
		}, []string{"code", "result"}), // result: "changed", "unchanged", "invalid", "missing", "error"

		ValidationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_policy_validation_failures_total",
			Help: "Policy documents rejected by validation",
		}, []string{"code"}),

		ValidationAlerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_policy_validation_alerts_total",
			Help: "Jurisdictions failing validation repeatedly",
		}, []string{"code"}),

		SnapshotSwaps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_policy_snapshot_swaps_total",
			Help: "Policy snapshots installed",
		}),
	}
}

func (m *Metrics) IncrementReload(code, result string) {
	if m != nil {
		m.Reloads.WithLabelValues(code, result).Inc()
	}
}

func (m *Metrics) IncrementValidationFailure(code string) {
	if m != nil {
		m.ValidationFailures.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) IncrementValidationAlert(code string) {
	if m != nil {
		m.ValidationAlerts.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) IncrementSnapshotSwap() {
	if m != nil {
		m.SnapshotSwaps.Inc()
	}
}
