package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Majboor/smart-presentation-builder/pkg/billing"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	paymentsCreatedTotal *prometheus.CounterVec
	verificationsTotal   *prometheus.CounterVec
	webhookEventsTotal   *prometheus.CounterVec
	webhookErrorsTotal   *prometheus.CounterVec
	apiCallsTotal        *prometheus.CounterVec
	apiCallDuration      *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation for payment gateways.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		paymentsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "payments_created_total",
			Help:      "Total number of payment intentions registered with a gateway.",
		}, []string{"gateway", "status"}),

		verificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "verifications_total",
			Help:      "Total number of payment confirmation attempts by result.",
		}, []string{"gateway", "result"}),

		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from payment gateways.",
		}, []string{"gateway", "event_type", "status"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"gateway", "error_type"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to payment gateways.",
		}, []string{"gateway", "endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to payment gateways in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "endpoint"}),
	}
}

func (m *Metrics) RecordPaymentCreated(gateway, status string) {
	m.paymentsCreatedTotal.WithLabelValues(gateway, status).Inc()
}

func (m *Metrics) RecordVerification(gateway, result string) {
	m.verificationsTotal.WithLabelValues(gateway, result).Inc()
}

func (m *Metrics) RecordWebhookEvent(gateway, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(gateway, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookError(gateway, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(gateway, errorType).Inc()
}

func (m *Metrics) RecordAPICall(gateway, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(gateway, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(gateway, endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(gateway, endpoint).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
