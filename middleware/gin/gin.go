// Package gin provides Gin middleware for gating presentation generation
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/Majboor/smart-presentation-builder/pkg/gate"
)

// AccountExtractor resolves the session account from a Gin context
// Return nil if the request has no session
type AccountExtractor func(c *gongin.Context) gate.Account

// Config holds middleware configuration
type Config struct {
	// GetAccount resolves the account of the request (required)
	GetAccount AccountExtractor

	// PaymentRequiredStatusCode is the HTTP status code returned when the
	// free presentation is used up
	// Default: 402 (Payment Required)
	PaymentRequiredStatusCode int

	// OnUnauthorized is called when no user is logged in
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnPaymentRequired is called when the account may not create a presentation
	// If nil, uses default response: PaymentRequiredStatusCode JSON with the upgrade message
	OnPaymentRequired func(c *gongin.Context)
}

// Middleware creates a Gin middleware that gates generation on the account's
// entitlement and records one generation for every 2xx response
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.GetAccount == nil {
		panic("slideai/gin: Config.GetAccount is required")
	}

	// Set defaults
	if cfg.PaymentRequiredStatusCode == 0 {
		cfg.PaymentRequiredStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		acct := cfg.GetAccount(c)
		if acct == nil || acct.User() == nil {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		if !acct.CanCreatePresentation() {
			if cfg.OnPaymentRequired != nil {
				cfg.OnPaymentRequired(c)
			} else {
				defaultPaymentRequired(c, cfg.PaymentRequiredStatusCode)
			}
			c.Abort()
			return
		}

		c.Next()

		if status := c.Writer.Status(); status >= 200 && status < 300 && len(c.Errors) == 0 {
			acct.IncrementPresentationCount(c.Request.Context())
		}
	}
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultPaymentRequired(c *gongin.Context, statusCode int) {
	c.JSON(statusCode, gongin.H{
		"error":   "Payment required",
		"message": gate.UpgradeMessage,
	})
}

// FromContext returns an AccountExtractor that gets the account from Gin
// context values set by session middleware via c.Set(key, account)
func FromContext(key string) AccountExtractor {
	return func(c *gongin.Context) gate.Account {
		if val, exists := c.Get(key); exists {
			if acct, ok := val.(gate.Account); ok {
				return acct
			}
		}
		return nil
	}
}
