package entitlement

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned by Store.Insert when a record already exists for the user
	ErrConflict = errors.New("entitlement record already exists")

	// ErrNotFound is returned when the user has no record
	ErrNotFound = errors.New("entitlement record not found")

	// ErrStoreUnavailable is returned when the store is unavailable
	ErrStoreUnavailable = errors.New("entitlement store unavailable")

	// ErrInvalidRecord is returned for records without a user id
	ErrInvalidRecord = errors.New("invalid entitlement record")

	// ErrNoIdentity is returned when an operation needs a logged-in user
	ErrNoIdentity = errors.New("no authenticated user")

	// ErrNoRecord is returned when an operation needs a cached record
	ErrNoRecord = errors.New("no subscription record loaded")
)

// IsTransient reports whether err is a store availability problem rather than
// a domain outcome
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded)
}
