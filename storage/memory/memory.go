// Package memory provides an in-memory implementation of the entitlement.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// Storage implements entitlement.Store using in-memory maps
type Storage struct {
	mu      sync.RWMutex
	records map[string][]*entitlement.Record
	now     func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		records: make(map[string][]*entitlement.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListByUser implements entitlement.Store
func (s *Storage) ListByUser(_ context.Context, userID string) ([]*entitlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.records[userID]
	out := make([]*entitlement.Record, 0, len(rows))
	for _, rec := range rows {
		// Return copies to prevent external mutations
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Insert implements entitlement.Store with a unique constraint on the user id
func (s *Storage) Insert(_ context.Context, rec *entitlement.Record) (*entitlement.Record, error) {
	if rec == nil || rec.UserID == "" {
		return nil, entitlement.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records[rec.UserID]) > 0 {
		return nil, entitlement.ErrConflict
	}

	stored := rec.Clone()
	stored.ID = uuid.NewString()
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[rec.UserID] = []*entitlement.Record{stored}

	return stored.Clone(), nil
}

// UpdateByUser implements entitlement.Store.
// Every row of the user is updated; the most recent one is returned.
func (s *Storage) UpdateByUser(
	_ context.Context, userID string, update entitlement.Update,
) (*entitlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.records[userID]
	if len(rows) == 0 {
		return nil, entitlement.ErrNotFound
	}

	now := s.now()
	for _, rec := range rows {
		update.Apply(rec, now)
	}
	return entitlement.Latest(rows).Clone(), nil
}

// Seed stores records as-is, bypassing the unique constraint.
// Useful for reproducing duplicate rows left behind by older clients.
func (s *Storage) Seed(records ...*entitlement.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		stored := rec.Clone()
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = s.now()
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = stored.CreatedAt
		}
		s.records[stored.UserID] = append(s.records[stored.UserID], stored)
	}
}

// Put replaces the user's rows with rec. Used when the store serves as a cache tier.
func (s *Storage) Put(_ context.Context, rec *entitlement.Record) error {
	if rec == nil || rec.UserID == "" {
		return entitlement.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = []*entitlement.Record{rec.Clone()}
	return nil
}

// Evict drops every row of the user
func (s *Storage) Evict(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

// Count returns the number of rows stored for a user
func (s *Storage) Count(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[userID])
}

// Users returns the ids of all users with at least one row, sorted
func (s *Storage) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.records))
	for userID := range s.records {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string][]*entitlement.Record)
}
