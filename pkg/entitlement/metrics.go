package entitlement

import "time"

// Metrics defines the interface for tracking entitlement operations.
type Metrics interface {
	// RecordStoreOperation records the duration and status of a store operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordDecision records the outcome of an entitlement check.
	RecordDecision(status Status, allowed bool)

	// RecordFallback records that the degraded fallback record was synthesized.
	RecordFallback()

	// RecordCreateConflict records a lost create race that was recovered by re-fetch.
	RecordCreateConflict()

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordDecision(status Status, allowed bool)                              {}
func (n *NoopMetrics) RecordFallback()                                                         {}
func (n *NoopMetrics) RecordCreateConflict()                                                   {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                            {}
