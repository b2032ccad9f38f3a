package payment

import "errors"

var (
	// ErrNoRedirect is returned when the request carries no redirect parameters
	ErrNoRedirect = errors.New("no payment redirect parameters")

	// ErrIdentityPending is returned when the session has no user yet.
	// The caller keeps the parameters and retries once identity resolves.
	ErrIdentityPending = errors.New("identity not resolved yet")

	// ErrRecordPending is returned while the session's subscription record is
	// still loading. Nothing is consumed; the caller retries.
	ErrRecordPending = errors.New("subscription record not loaded yet")
)
