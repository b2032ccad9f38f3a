package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// Metrics implements entitlement.Metrics using Prometheus.
type Metrics struct {
	storeOpsDuration           *prometheus.HistogramVec
	storeOpsErrors             *prometheus.CounterVec
	decisionsTotal             *prometheus.CounterVec
	fallbackTotal              prometheus.Counter
	createConflictsTotal       prometheus.Counter
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of entitlement store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of entitlement store operation errors.",
		}, []string{"operation"}),

		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_decisions_total",
			Help:      "Total number of entitlement checks by status and outcome.",
		}, []string{"status", "allowed"}),

		fallbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_records_total",
			Help:      "Total number of fallback records synthesized after store failures.",
		}),

		createConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "create_conflicts_total",
			Help:      "Total number of record creation races recovered by re-fetch.",
		}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordDecision(status entitlement.Status, allowed bool) {
	m.decisionsTotal.WithLabelValues(string(status), strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) RecordFallback() {
	m.fallbackTotal.Inc()
}

func (m *Metrics) RecordCreateConflict() {
	m.createConflictsTotal.Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
