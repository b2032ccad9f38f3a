package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
)

// Account is the session state the handler renders
type Account interface {
	User() *identity.Identity
	Subscription() *entitlement.Record
	Loading() bool
	CanCreatePresentation() bool
	EnsureLoaded(ctx context.Context)
}

// Config holds configuration for the subscription API handler
type Config struct {
	// GetAccount resolves the request's session account (required).
	// A nil account is answered with 401.
	GetAccount func(*http.Request) Account

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.GetAccount == nil {
		return fmt.Errorf("getAccount is required")
	}
	return nil
}

// NewHandler creates a new subscription API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{
		config: config,
	}, nil
}
