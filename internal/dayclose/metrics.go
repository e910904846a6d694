package dayclose

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/backoffice/internal/discrepancy"
)

// Metrics counts lifecycle transitions and reconciliation outcomes.
type Metrics struct {
	transitions *prometheus.CounterVec
	severities  *prometheus.CounterVec
}

// NewMetrics registers the collectors. A nil registerer yields nil metrics,
// which every method tolerates.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_day_transitions_total",
		Help: "Day lifecycle transitions by transition and outcome.",
	}, []string{"transition", "outcome"})
	severities := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backoffice_reconciliation_severity_total",
		Help: "Frozen reconciliation reports by day-level severity.",
	}, []string{"severity"})
	registerer.MustRegister(transitions, severities)
	return &Metrics{transitions: transitions, severities: severities}
}

// ObserveTransition records the outcome of a transition attempt.
func (m *Metrics) ObserveTransition(transition string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition, outcome(err)).Inc()
}

// ObserveSeverity counts a frozen report's severity.
func (m *Metrics) ObserveSeverity(severity discrepancy.Severity) {
	if m == nil {
		return
	}
	m.severities.WithLabelValues(string(severity)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConcurrentTransition):
		return "conflict"
	case errors.Is(err, ErrLifecycleViolation), errors.Is(err, ErrInvalidInput):
		return "rejected"
	default:
		return "error"
	}
}
