package billing

import (
	"fmt"
	"net/http"
)

// Config defines the standard configuration all gateways accept
type Config struct {
	// APIURL is the gateway's payment creation endpoint
	APIURL string

	// APIKey is used for outbound API calls to the gateway (if it needs one)
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for tracking gateway operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics
}

// Validate checks a payment request before it is sent to a gateway.
// The redirect URL is optional; gateways that need one check it themselves.
func (r PaymentRequest) Validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPaymentRequest)
	}
	return nil
}
