package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payout manager
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerCallsTotal *prometheus.CounterVec
	RevertsTotal     *prometheus.CounterVec

	// Business metrics
	PayoutTransitionsTotal *prometheus.CounterVec
	PayoutAmountTotal      *prometheus.CounterVec

	// Messaging metrics
	EventsPublishedTotal *prometheus.CounterVec
	SourceEventsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on reg. A nil reg means the
// default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "payout_manager"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of payout operations",
			},
			[]string{"operation", "result"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of payout operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		LedgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_calls_total",
				Help:      "Total number of ledger calls made by the saga",
			},
			[]string{"call", "status"},
		),

		RevertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reverts_total",
				Help:      "Total number of payout reverts",
			},
			[]string{"result"}, // "reverted", "compensated" or "inconsistent"
		),

		PayoutTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_transitions_total",
				Help:      "Total number of persisted payout status transitions",
			},
			[]string{"status"},
		),

		PayoutAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_amount_minor_units_total",
				Help:      "Sum of created payout amounts in minor units",
			},
			[]string{"currency"},
		),

		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of payout change notifications published",
			},
			[]string{"change", "status"},
		),

		SourceEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_events_total",
				Help:      "Total number of deposit source changes consumed",
			},
			[]string{"change", "status"},
		),
	}
}

// RecordOperation records the outcome and duration of a payout operation
func (m *Metrics) RecordOperation(operation, result string, durationSeconds float64) {
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordLedgerCall records a ledger call made by the saga
func (m *Metrics) RecordLedgerCall(call string, err error) {
	m.LedgerCallsTotal.WithLabelValues(call, statusLabel(err)).Inc()
}

// RecordRevert records how a revert ended
func (m *Metrics) RecordRevert(result string) {
	m.RevertsTotal.WithLabelValues(result).Inc()
}

// RecordTransition records a persisted status change
func (m *Metrics) RecordTransition(status string) {
	m.PayoutTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordPayoutCreated records the amount of a new payout
func (m *Metrics) RecordPayoutCreated(currency string, amount int64) {
	m.PayoutAmountTotal.WithLabelValues(currency).Add(float64(amount))
}

// RecordEventPublished records a change notification
func (m *Metrics) RecordEventPublished(change string, err error) {
	m.EventsPublishedTotal.WithLabelValues(change, statusLabel(err)).Inc()
}

// RecordSourceEvent records a consumed source change
func (m *Metrics) RecordSourceEvent(change string, err error) {
	m.SourceEventsTotal.WithLabelValues(change, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
