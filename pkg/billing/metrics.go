package billing

import "time"

// Metrics defines the interface for tracking payment gateway operations.
// All methods are optional - gateways should gracefully handle nil metrics.
type Metrics interface {
	// RecordPaymentCreated records a payment intention.
	// status: "success" or "error"
	RecordPaymentCreated(gateway, status string)

	// RecordVerification records a payment confirmation attempt.
	// result: "verified", "rejected" or "error"
	RecordVerification(gateway, result string)

	// RecordWebhookEvent records a webhook event received from the gateway.
	// status: "success" or "error"
	RecordWebhookEvent(gateway, eventType, status string)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(gateway, errorType string)

	// RecordAPICall records an API call to the gateway.
	// status: HTTP status code as string (e.g., "200", "500") or "error"
	RecordAPICall(gateway, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(gateway, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordPaymentCreated(_, _ string)                   {}
func (n *NoopMetrics) RecordVerification(_, _ string)                     {}
func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                  {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                     {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                       {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration) {}
