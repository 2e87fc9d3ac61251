package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision module. It satisfies
// the runner and ledger observer interfaces so one instance covers the
// whole check pipeline.
type Metrics struct {
	// Evaluator latencies by signal
	EvaluatorLatency *prometheus.HistogramVec

	// Signals scored at the degraded floor, by signal and reason
	DegradedSignals *prometheus.CounterVec

	// Verdicts by event type
	Verdicts *prometheus.CounterVec

	// Decisions that require a regulatory report
	Reports *prometheus.CounterVec

	// Overall check latency, policy resolution through append
	EvaluateLatency prometheus.Histogram

	// Ledger append latency and failures
	AppendLatency  prometheus.Histogram
	AppendFailures *prometheus.CounterVec

	// Record stream publish failures
	PublishFailures prometheus.Counter
}

// New creates a new Metrics instance with all decision module metrics registered.
func New() *Metrics {
	return &Metrics{
		EvaluatorLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiter_decision_evaluator_duration_seconds",
			Help:    "Duration of signal evaluators by signal",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"signal"}),

		DegradedSignals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_decision_degraded_signals_total",
			Help: "Signals scored at the degraded floor",
		}, []string{"signal", "reason"}), // reason: "timeout", "unavailable", "insufficient_input"

		Verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_decision_verdicts_total",
			Help: "Recorded verdicts by event type",
		}, []string{"verdict", "event_type"}),

		Reports: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_decision_reports_total",
			Help: "Decisions flagged for regulatory reporting",
		}, []string{"event_type"}),

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_decision_evaluate_duration_seconds",
			Help:    "Duration of a full check including the audit append",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbiter_ledger_append_duration_seconds",
			Help:    "Duration of audit ledger appends",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		AppendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiter_ledger_append_failures_total",
			Help: "Audit ledger append failures by stage",
		}, []string{"reason"}),

		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbiter_decision_publish_failures_total",
			Help: "Audit records that could not be published to the record stream",
		}),
	}
}

func (m *Metrics) ObserveEvaluatorLatency(signal string, d time.Duration) {
	if m != nil {
		m.EvaluatorLatency.WithLabelValues(signal).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementDegraded(signal, reason string) {
	if m != nil {
		m.DegradedSignals.WithLabelValues(signal, reason).Inc()
	}
}

// IncrementVerdict records a recorded decision.
func (m *Metrics) IncrementVerdict(verdict, eventType string, report bool) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(verdict, eventType).Inc()
	if report {
		m.Reports.WithLabelValues(eventType).Inc()
	}
}

// ObserveEvaluateLatency records the total check duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	if m != nil {
		m.AppendLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementAppendFailure(reason string) {
	if m != nil {
		m.AppendFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncrementPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}
