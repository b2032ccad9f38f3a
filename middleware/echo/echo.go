// Package echo provides Echo middleware for gating presentation generation
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Majboor/smart-presentation-builder/pkg/gate"
)

// AccountExtractor resolves the session account from an Echo context
// Return nil if the request has no session
type AccountExtractor func(c echo.Context) gate.Account

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
	OnUnauthorized func(c echo.Context) error

	// OnPaymentRequired is called when the account may not create a presentation
	// If nil, uses default response: PaymentRequiredStatusCode JSON with the upgrade message
	OnPaymentRequired func(c echo.Context) error
}

// Middleware creates an Echo middleware that gates generation on the
// account's entitlement and records one generation when the handler
// returns no error and a 2xx status
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.GetAccount == nil {
		panic("slideai/echo: Config.GetAccount is required")
	}

	// Set defaults
	if cfg.PaymentRequiredStatusCode == 0 {
		cfg.PaymentRequiredStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acct := cfg.GetAccount(c)
			if acct == nil || acct.User() == nil {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			if !acct.CanCreatePresentation() {
				if cfg.OnPaymentRequired != nil {
					return cfg.OnPaymentRequired(c)
				}
				return defaultPaymentRequired(c, cfg.PaymentRequiredStatusCode)
			}

			if err := next(c); err != nil {
				return err
			}

			if status := c.Response().Status; status >= 200 && status < 300 {
				acct.IncrementPresentationCount(c.Request().Context())
			}
			return nil
		}
	}
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultPaymentRequired(c echo.Context, statusCode int) error {
	return c.JSON(statusCode, map[string]string{
		"error":   "Payment required",
		"message": gate.UpgradeMessage,
	})
}

// FromContext returns an AccountExtractor that gets the account from Echo
// context values set by session middleware via c.Set(key, account)
func FromContext(key string) AccountExtractor {
	return func(c echo.Context) gate.Account {
		if acct, ok := c.Get(key).(gate.Account); ok {
			return acct
		}
		return nil
	}
}
