package entitlement

import (
	"time"
)

// Status is the subscription status of an entitlement record
type Status string

const (
	// StatusFree grants a single complimentary generation
	StatusFree Status = "free"
	// StatusPaid grants unlimited generations
	StatusPaid Status = "paid"
)

// FallbackRecordID is the reserved id of the in-memory degraded record.
// It is never persisted.
const FallbackRecordID = "fallback"

// Record is a user's subscription record (one per user in the store)
type Record struct {
	ID                     string `json:"id"`
	UserID                 string `json:"user_id"`
	Status                 Status `json:"status"`
	FreeTrialUsed          bool   `json:"free_trial_used"`
	PresentationsGenerated int    `json:"presentations_generated"`
	IsActive               bool   `json:"is_active"`

	// PaymentReference is set by payment reconciliation
	PaymentReference *string `json:"payment_reference,omitempty"`

	// Amount and ExpiresAt are informational only
	Amount    *int64     `json:"amount,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultRecord returns the record created lazily for a user seen for the first time
func DefaultRecord(userID string) *Record {
	return &Record{
		UserID:                 userID,
		Status:                 StatusFree,
		FreeTrialUsed:          false,
		PresentationsGenerated: 0,
		IsActive:               true,
	}
}

// FallbackRecord returns the non-persisted record used when the store is unreachable
func FallbackRecord(userID string) *Record {
	rec := DefaultRecord(userID)
	rec.ID = FallbackRecordID
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec
}

// IsFallback reports whether r is the degraded in-memory copy
func (r *Record) IsFallback() bool {
	return r != nil && r.ID == FallbackRecordID
}

// Clone returns a deep copy of r
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.PaymentReference != nil {
		ref := *r.PaymentReference
		c.PaymentReference = &ref
	}
	if r.Amount != nil {
		amount := *r.Amount
		c.Amount = &amount
	}
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// Update is a partial update applied to a user's record.
// Nil fields are left untouched.
type Update struct {
	Status                 *Status
	PresentationsGenerated *int
	FreeTrialUsed          *bool
	PaymentReference       *string
	Amount                 *int64
}

// Apply writes the non-nil fields of u onto rec and bumps UpdatedAt.
// PresentationsGenerated never decreases: a lower value is ignored.
func (u Update) Apply(rec *Record, now time.Time) {
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.PresentationsGenerated != nil && *u.PresentationsGenerated > rec.PresentationsGenerated {
		rec.PresentationsGenerated = *u.PresentationsGenerated
	}
	if u.FreeTrialUsed != nil {
		rec.FreeTrialUsed = *u.FreeTrialUsed
	}
	if u.PaymentReference != nil {
		ref := *u.PaymentReference
		rec.PaymentReference = &ref
	}
	if u.Amount != nil {
		amount := *u.Amount
		rec.Amount = &amount
	}
	rec.UpdatedAt = now
}

// CanCreate is the entitlement predicate.
// Paid users may always generate; free users only until the first success.
func CanCreate(rec *Record) bool {
	if rec == nil {
		return false
	}
	return rec.Status == StatusPaid || rec.PresentationsGenerated == 0
}

// Latest returns the most recently created record, or nil for an empty slice
func Latest(records []*Record) *Record {
	var latest *Record
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	return latest
}

// NoticeLevel classifies a user-visible notification
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible notification (toast)
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Notifier delivers user-visible notifications
type Notifier interface {
	Notify(n Notice)
}

// NoopNotifier discards notifications
type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ Notice) {}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config holds manager configuration
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking store operations and decisions (default: NoopMetrics)
	Metrics Metrics

	// Notifier receives user-visible notifications (default: NoopNotifier)
	Notifier Notifier

	// CircuitBreakerConfig wraps the store with a circuit breaker when enabled
	CircuitBreakerConfig *CircuitBreakerConfig
}
