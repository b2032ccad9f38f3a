package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a gateway is not properly configured
	ErrProviderNotConfigured = errors.New("payment gateway not configured")

	// ErrInvalidPaymentRequest is returned for a non-positive amount
	ErrInvalidPaymentRequest = errors.New("invalid payment request")

	// ErrProviderAPIError is returned when the gateway's API returns an error
	ErrProviderAPIError = errors.New("payment gateway API error")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrNotSupported is returned when a gateway doesn't support an operation
	ErrNotSupported = errors.New("operation not supported by this gateway")
)
