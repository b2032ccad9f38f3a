// Package fiber provides Fiber middleware for gating presentation generation
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Majboor/smart-presentation-builder/pkg/gate"
)

// AccountExtractor resolves the session account from a Fiber context
// Return nil if the request has no session
type AccountExtractor func(c *fiber.Ctx) gate.Account

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
	OnUnauthorized func(c *fiber.Ctx) error

	// OnPaymentRequired is called when the account may not create a presentation
	// If nil, uses default response: PaymentRequiredStatusCode JSON with the upgrade message
	OnPaymentRequired func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that gates generation on the
// account's entitlement and records one generation when the handler
// returns no error and a 2xx status
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.GetAccount == nil {
		panic("slideai/fiber: Config.GetAccount is required")
	}

	// Set defaults
	if cfg.PaymentRequiredStatusCode == 0 {
		cfg.PaymentRequiredStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
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

		if err := c.Next(); err != nil {
			return err
		}

		if status := c.Response().StatusCode(); status >= 200 && status < 300 {
			acct.IncrementPresentationCount(c.UserContext())
		}
		return nil
	}
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultPaymentRequired(c *fiber.Ctx, statusCode int) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"error":   "Payment required",
		"message": gate.UpgradeMessage,
	})
}

// FromLocals returns an AccountExtractor that gets the account from Fiber
// locals set by session middleware via c.Locals(key, account)
func FromLocals(key string) AccountExtractor {
	return func(c *fiber.Ctx) gate.Account {
		if acct, ok := c.Locals(key).(gate.Account); ok {
			return acct
		}
		return nil
	}
}
