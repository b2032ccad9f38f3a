// Package identity resolves the logged-in user from a session token.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingToken is returned when the request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when a token fails verification
	ErrInvalidToken = errors.New("invalid user token")
)

// Identity is the authenticated user as issued by the identity provider
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Token  string `json:"-"`
}

// Clone returns a copy of id (nil-safe)
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// Provider verifies session tokens
type Provider interface {
	// Authenticate returns the identity the token was issued to.
	// Returns ErrInvalidToken for forged, expired or malformed tokens.
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

type contextKey struct{}

// WithIdentity returns a context carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, if any
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}
