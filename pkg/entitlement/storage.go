package entitlement

import (
	"context"
)

// Store defines the interface for subscription record persistence.
// A unique constraint on the user id is enforced by the backend.
type Store interface {
	// ListByUser returns every record owned by the user.
	// An empty slice (not an error) means the user has none yet.
	ListByUser(ctx context.Context, userID string) ([]*Record, error)

	// Insert stores a new record. The store assigns ID, CreatedAt and UpdatedAt.
	// Returns ErrConflict if a record already exists for rec.UserID.
	Insert(ctx context.Context, rec *Record) (*Record, error)

	// UpdateByUser applies a partial update to the user's record and returns
	// the updated row. Returns ErrNotFound if the user has no record.
	UpdateByUser(ctx context.Context, userID string, update Update) (*Record, error)
}
