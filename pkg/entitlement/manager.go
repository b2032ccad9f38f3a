package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Majboor/smart-presentation-builder/pkg/identity"
)

const (
	msgLoadFailed  = "Failed to load your subscription. Some features may be limited."
	msgPaidSuccess = "Subscription activated! You now have unlimited presentations."
	msgPaidFailed  = "Failed to update your subscription. Please contact support."
)

// Manager owns the subscription state of one session.
// It is bound to the lifetime of the session's identity: SetIdentity(nil)
// on logout drops the cached record without touching the store.
type Manager struct {
	store    Store
	logger   Logger
	metrics  Metrics
	notifier Notifier

	mu     sync.Mutex
	user   *identity.Identity
	epoch  uint64
	record *Record

	// writes counts local changes to record; a load that started before
	// the latest write merges instead of replacing
	writes uint64

	loading        bool
	fetchAttempted bool
	errorShown     bool
	established    bool

	creates singleflight.Group
}

// NewManager creates a new session-scoped entitlement manager
func NewManager(store Store, config Config) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Notifier == nil {
		config.Notifier = &NoopNotifier{}
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		metrics := config.Metrics
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
		})
		store = NewCircuitBreakerStore(store, cb)
	}

	return &Manager{
		store:    store,
		logger:   config.Logger,
		metrics:  config.Metrics,
		notifier: config.Notifier,
	}, nil
}

// SetIdentity re-synchronizes the manager with the current identity.
// It supersedes any load still in flight for a previous identity.
func (m *Manager) SetIdentity(ctx context.Context, id *identity.Identity) {
	m.mu.Lock()
	changed := m.user == nil || id == nil || m.user.UserID != id.UserID
	m.epoch++
	epoch := m.epoch
	if changed {
		m.fetchAttempted = false
		m.errorShown = false
		m.established = false
		m.record = nil
	}
	m.user = id.Clone()
	if id == nil {
		m.loading = false
		m.mu.Unlock()
		return
	}
	m.loading = true
	m.fetchAttempted = true
	writes := m.writes
	m.mu.Unlock()

	m.load(ctx, epoch, writes, id.UserID)
}

// EnsureLoaded loads the record if no fetch was attempted yet for the current identity
func (m *Manager) EnsureLoaded(ctx context.Context) {
	m.mu.Lock()
	if m.user == nil || m.fetchAttempted {
		m.mu.Unlock()
		return
	}
	m.fetchAttempted = true
	m.loading = true
	epoch := m.epoch
	userID := m.user.UserID
	writes := m.writes
	m.mu.Unlock()

	m.load(ctx, epoch, writes, userID)
}

// Refresh re-fetches the record for the current identity
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return
	}
	m.epoch++
	epoch := m.epoch
	userID := m.user.UserID
	m.loading = true
	m.fetchAttempted = true
	writes := m.writes
	m.mu.Unlock()

	m.load(ctx, epoch, writes, userID)
}

// Subscription returns a copy of the cached record, or nil
func (m *Manager) Subscription() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.Clone()
}

// Loading reports whether the identity-triggered load is outstanding
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// User returns a copy of the current identity, or nil when logged out
func (m *Manager) User() *identity.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.Clone()
}

// CanCreatePresentation reports whether the user may generate a presentation now
func (m *Manager) CanCreatePresentation() bool {
	m.mu.Lock()
	rec := m.record
	allowed := CanCreate(rec)
	var status Status
	if rec != nil {
		status = rec.Status
	}
	m.mu.Unlock()

	if rec != nil {
		m.metrics.RecordDecision(status, allowed)
	}
	return allowed
}

// IncrementPresentationCount records one successful generation.
// The cached record changes immediately; persistence failures are logged only.
func (m *Manager) IncrementPresentationCount(ctx context.Context) {
	m.applyOptimistic(ctx, "increment",
		func(rec *Record) Update {
			newCount := rec.PresentationsGenerated + 1
			used := newCount >= 1
			return Update{PresentationsGenerated: &newCount, FreeTrialUsed: &used}
		},
		func(cached, server *Record) {
			// Out-of-order responses must not move the counter backwards
			if server.PresentationsGenerated < cached.PresentationsGenerated {
				return
			}
			cached.PresentationsGenerated = server.PresentationsGenerated
			cached.FreeTrialUsed = server.FreeTrialUsed
			cached.UpdatedAt = server.UpdatedAt
		},
	)
}

// PaidOption customizes a paid-status transition
type PaidOption func(*Update)

// WithPaymentReference records the gateway's order reference on the record
func WithPaymentReference(ref string) PaidOption {
	return func(u *Update) {
		if ref != "" {
			u.PaymentReference = &ref
		}
	}
}

// WithAmount records the amount paid (minor units)
func WithAmount(amount int64) PaidOption {
	return func(u *Update) {
		u.Amount = &amount
	}
}

// SetPaidStatus marks the user's record as paid once the store confirms it.
// Returns ErrNoIdentity or ErrNoRecord without side effects when there is
// nothing to update.
func (m *Manager) SetPaidStatus(ctx context.Context, opts ...PaidOption) error {
	paid := StatusPaid
	update := Update{Status: &paid}
	for _, opt := range opts {
		opt(&update)
	}

	err := m.applyConfirmed(ctx, "set_paid", update, func(cached, server *Record) *Record {
		return server.Clone()
	})
	if err != nil {
		if !errors.Is(err, ErrNoIdentity) && !errors.Is(err, ErrNoRecord) {
			m.notifier.Notify(Notice{Level: NoticeError, Message: msgPaidFailed})
		}
		return err
	}

	m.notifier.Notify(Notice{Level: NoticeSuccess, Message: msgPaidSuccess})
	return nil
}

// applyOptimistic mutates the cached record first, then persists.
// On store failure the local change stays in place.
func (m *Manager) applyOptimistic(
	ctx context.Context, op string,
	mutate func(rec *Record) Update,
	reconcile func(cached, server *Record),
) {
	m.mu.Lock()
	if m.user == nil || m.record == nil {
		m.mu.Unlock()
		return
	}
	userID := m.user.UserID
	update := mutate(m.record)
	update.Apply(m.record, time.Now().UTC())
	m.writes++
	fallback := m.record.IsFallback()
	m.mu.Unlock()

	if fallback {
		// Writing absolute values from a degraded copy could clobber the real row
		m.logger.Debug("skipping persistence for fallback record",
			Field{"userId", userID}, Field{"operation", op})
		return
	}

	server, err := m.update(ctx, op, userID, update)
	if err != nil {
		m.logger.Warn("optimistic update not persisted",
			Field{"userId", userID}, Field{"operation", op}, Field{"error", err})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isCurrent(userID) || m.record == nil {
		return
	}
	reconcile(m.record, server)
}

// applyConfirmed persists first and commits the store's response to the cache
// only after success.
func (m *Manager) applyConfirmed(
	ctx context.Context, op string, update Update,
	commit func(cached, server *Record) *Record,
) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	if m.record == nil {
		m.mu.Unlock()
		return ErrNoRecord
	}
	userID := m.user.UserID
	m.mu.Unlock()

	server, err := m.update(ctx, op, userID, update)
	if err != nil {
		m.logger.Error("confirmed update failed",
			Field{"userId", userID}, Field{"operation", op}, Field{"error", err})
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isCurrent(userID) {
		m.logger.Debug("discarding update for previous identity", Field{"userId", userID})
		return nil
	}
	m.record = commit(m.record, server)
	m.writes++
	m.established = true
	return nil
}

// isCurrent reports whether userID is still the session's identity. Caller holds mu.
func (m *Manager) isCurrent(userID string) bool {
	return m.user != nil && m.user.UserID == userID
}

// load fetches or creates the record and commits it if epoch is still current.
// writes is the local write count observed when the load started.
func (m *Manager) load(ctx context.Context, epoch, writes uint64, userID string) {
	rec, err := m.fetchOrCreate(ctx, userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		m.logger.Debug("discarding stale subscription load", Field{"userId", userID})
		return
	}
	m.loading = false

	if err != nil {
		m.logger.Error("failed to load subscription", Field{"userId", userID}, Field{"error", err})
		if !m.errorShown {
			m.errorShown = true
			m.notifier.Notify(Notice{Level: NoticeError, Message: msgLoadFailed})
		}
		if !m.established && m.record == nil {
			m.record = FallbackRecord(userID)
			m.metrics.RecordFallback()
			m.logger.Warn("using fallback subscription record", Field{"userId", userID})
		}
		return
	}

	if m.writes != writes {
		m.logger.Debug("merging subscription load older than local writes", Field{"userId", userID})
		rec = mergeLoaded(m.record, rec)
	}
	m.record = rec
	m.established = true
}

// mergeLoaded folds local state into a record read before the latest local
// write: paid status never reverts and the counter never moves backwards.
func mergeLoaded(cached, loaded *Record) *Record {
	if cached == nil || loaded == nil || cached.UserID != loaded.UserID {
		return loaded
	}
	if cached.Status == StatusPaid && loaded.Status != StatusPaid {
		loaded.Status = StatusPaid
		if loaded.PaymentReference == nil && cached.PaymentReference != nil {
			ref := *cached.PaymentReference
			loaded.PaymentReference = &ref
		}
		if loaded.Amount == nil && cached.Amount != nil {
			amount := *cached.Amount
			loaded.Amount = &amount
		}
	}
	if cached.PresentationsGenerated > loaded.PresentationsGenerated {
		loaded.PresentationsGenerated = cached.PresentationsGenerated
		loaded.FreeTrialUsed = loaded.FreeTrialUsed || cached.FreeTrialUsed
	}
	return loaded
}

// fetchOrCreate returns the user's latest record, creating the default one on a miss
func (m *Manager) fetchOrCreate(ctx context.Context, userID string) (*Record, error) {
	records, err := m.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec := Latest(records); rec != nil {
		return rec.Clone(), nil
	}

	v, err, _ := m.creates.Do(userID, func() (interface{}, error) {
		return m.create(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*Record)
	return rec.Clone(), nil
}

// create is the compare-and-create path: re-check, insert, and recover from a
// lost race by re-reading the winner
func (m *Manager) create(ctx context.Context, userID string) (*Record, error) {
	records, err := m.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec := Latest(records); rec != nil {
		return rec, nil
	}

	inserted, err := m.insert(ctx, DefaultRecord(userID))
	if err == nil {
		m.logger.Info("created subscription record", Field{"userId", userID})
		return inserted, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, err
	}

	m.metrics.RecordCreateConflict()
	m.logger.Info("subscription created concurrently, using existing record", Field{"userId", userID})

	records, err = m.list(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec := Latest(records); rec != nil {
		return rec, nil
	}
	return nil, fmt.Errorf("record missing after create conflict: %w", ErrNotFound)
}

func (m *Manager) list(ctx context.Context, userID string) ([]*Record, error) {
	start := time.Now()
	records, err := m.store.ListByUser(ctx, userID)
	m.metrics.RecordStoreOperation("list", time.Since(start), err)
	return records, err
}

func (m *Manager) insert(ctx context.Context, rec *Record) (*Record, error) {
	start := time.Now()
	inserted, err := m.store.Insert(ctx, rec)
	m.metrics.RecordStoreOperation("insert", time.Since(start), err)
	return inserted, err
}

func (m *Manager) update(ctx context.Context, op, userID string, update Update) (*Record, error) {
	start := time.Now()
	rec, err := m.store.UpdateByUser(ctx, userID, update)
	m.metrics.RecordStoreOperation(op, time.Since(start), err)
	if err == nil && rec == nil {
		err = ErrNotFound
	}
	return rec, err
}
