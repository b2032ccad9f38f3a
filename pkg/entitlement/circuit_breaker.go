package entitlement

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute executes the given function within the circuit breaker.
	Execute(ctx context.Context, fn func() error) error
	// Success records a successful execution.
	Success()
	// Failure records a failed execution.
	Failure(err error)
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker is a simple circuit breaker implementation.
// Domain outcomes (ErrConflict, ErrNotFound) count as successes: the store answered.
type DefaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
		cb.Failure(err)
		return err
	}

	cb.Success()
	return err
}

func (cb *DefaultCircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentState() != StateClosed {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *DefaultCircuitBreaker) Failure(_ error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState()
	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.changeState(StateOpen)
	} else if state == StateHalfOpen {
		cb.state = StateOpen
		if cb.onStateChange != nil {
			cb.onStateChange(StateOpen)
		}
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// CircuitBreakerStore wraps a Store implementation with circuit breaker protection.
type CircuitBreakerStore struct {
	store Store
	cb    CircuitBreaker
}

// NewCircuitBreakerStore creates a new store wrapper with circuit breaker.
func NewCircuitBreakerStore(store Store, cb CircuitBreaker) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		store: store,
		cb:    cb,
	}
}

func (s *CircuitBreakerStore) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	var records []*Record
	err := s.cb.Execute(ctx, func() error {
		var e error
		records, e = s.store.ListByUser(ctx, userID)
		return e
	})
	return records, err
}

func (s *CircuitBreakerStore) Insert(ctx context.Context, rec *Record) (*Record, error) {
	var inserted *Record
	err := s.cb.Execute(ctx, func() error {
		var e error
		inserted, e = s.store.Insert(ctx, rec)
		return e
	})
	return inserted, err
}

func (s *CircuitBreakerStore) UpdateByUser(ctx context.Context, userID string, update Update) (*Record, error) {
	var updated *Record
	err := s.cb.Execute(ctx, func() error {
		var e error
		updated, e = s.store.UpdateByUser(ctx, userID, update)
		return e
	})
	return updated, err
}
