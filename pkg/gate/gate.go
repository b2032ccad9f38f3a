// Package gate is the policy checkpoint in front of presentation generation.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/Majboor/smart-presentation-builder/pkg/billing"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/generation"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
)

// UpgradeMessage is shown when a free user has used the complimentary generation
const UpgradeMessage = "You've used your free presentation. Upgrade to create unlimited presentations."

const (
	msgGenerated      = "Presentation generated successfully!"
	msgGenerateFailed = "Failed to generate presentation. Please try again."
	msgLoginToPay     = "You must be logged in to make a payment"
	msgPaymentFailed  = "Payment processing failed. Please try again."
)

var (
	// ErrLoginRequired is returned by StartPayment for logged-out sessions
	ErrLoginRequired = errors.New("login required")

	// ErrPaymentPending is returned while a payment session is being created
	ErrPaymentPending = errors.New("payment session already being created")

	// ErrNotConfigured is returned when the gate lacks a generator or gateway
	ErrNotConfigured = errors.New("gate not configured")
)

// Account is the part of the entitlement manager the gate consults
type Account interface {
	User() *identity.Identity
	CanCreatePresentation() bool
	IncrementPresentationCount(ctx context.Context)
}

// Outcome of a generation attempt
type Outcome string

const (
	OutcomeLoginRequired   Outcome = "login_required"
	OutcomePaymentRequired Outcome = "payment_required"
	OutcomeGenerated       Outcome = "generated"
)

// Result is returned by Generate when no error occurred
type Result struct {
	Outcome     Outcome `json:"outcome"`
	DownloadURL string  `json:"download_url,omitempty"`
}

// Config configures a Gate
type Config struct {
	Account   Account
	Generator generation.Generator
	Gateway   billing.Gateway

	// Notifier receives user-visible notices (default: NoopNotifier)
	Notifier entitlement.Notifier

	// Logger (default: NoopLogger)
	Logger entitlement.Logger
}

// Gate guards generation for one session and owns the payment dialog state
type Gate struct {
	account   Account
	generator generation.Generator
	gateway   billing.Gateway
	notifier  entitlement.Notifier
	logger    entitlement.Logger

	mu             sync.Mutex
	dialogOpen     bool
	paymentPending bool
}

// New creates a session gate
func New(config Config) (*Gate, error) {
	if config.Account == nil {
		return nil, errors.New("account is required")
	}
	if config.Notifier == nil {
		config.Notifier = &entitlement.NoopNotifier{}
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	return &Gate{
		account:   config.Account,
		generator: config.Generator,
		gateway:   config.Gateway,
		notifier:  config.Notifier,
		logger:    config.Logger,
	}, nil
}

// Generate runs the generator if the session's user is entitled to it.
// Logged-out users get OutcomeLoginRequired before any entitlement check.
// A generator error is returned as is and never consumes the free trial.
func (g *Gate) Generate(ctx context.Context, req generation.Request) (*Result, error) {
	user := g.account.User()
	if user == nil {
		return &Result{Outcome: OutcomeLoginRequired}, nil
	}

	if !g.account.CanCreatePresentation() {
		g.OpenPayment()
		return &Result{Outcome: OutcomePaymentRequired}, nil
	}

	if g.generator == nil {
		return nil, ErrNotConfigured
	}
	res, err := g.generator.Generate(ctx, req)
	if err != nil {
		g.logger.Warn("presentation generation failed",
			entitlement.Field{Key: "user_id", Value: user.UserID},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		g.notifier.Notify(entitlement.Notice{Level: entitlement.NoticeError, Message: msgGenerateFailed})
		return nil, err
	}

	g.account.IncrementPresentationCount(ctx)
	g.notifier.Notify(entitlement.Notice{Level: entitlement.NoticeSuccess, Message: msgGenerated})
	return &Result{Outcome: OutcomeGenerated, DownloadURL: res.DownloadURL}, nil
}

// OpenPayment opens the payment dialog. The upgrade notice is emitted only
// when the dialog was closed.
func (g *Gate) OpenPayment() {
	g.mu.Lock()
	opened := !g.dialogOpen
	g.dialogOpen = true
	g.mu.Unlock()

	if opened {
		g.notifier.Notify(entitlement.Notice{Level: entitlement.NoticeInfo, Message: UpgradeMessage})
	}
}

// DismissPayment closes the payment dialog
func (g *Gate) DismissPayment() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialogOpen = false
}

// PaymentDialogOpen reports whether the payment dialog is showing
func (g *Gate) PaymentDialogOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dialogOpen
}

// PaymentPending reports whether a payment session is being created
func (g *Gate) PaymentPending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paymentPending
}

// StartPayment creates a gateway session for the subscription amount.
// redirectURL is where the gateway returns the user, normally
// <origin>/payment-success.
func (g *Gate) StartPayment(ctx context.Context, redirectURL string) (*billing.PaymentSession, error) {
	user := g.account.User()
	if user == nil {
		g.notifier.Notify(entitlement.Notice{Level: entitlement.NoticeError, Message: msgLoginToPay})
		return nil, ErrLoginRequired
	}
	if g.gateway == nil {
		return nil, ErrNotConfigured
	}

	g.mu.Lock()
	if g.paymentPending {
		g.mu.Unlock()
		return nil, ErrPaymentPending
	}
	g.paymentPending = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.paymentPending = false
		g.mu.Unlock()
	}()

	session, err := g.gateway.CreatePayment(ctx, billing.PaymentRequest{
		Amount:      billing.SubscriptionAmount,
		RedirectURL: redirectURL,
		UserID:      user.UserID,
	})
	if err != nil {
		g.logger.Error("failed to create payment session",
			entitlement.Field{Key: "user_id", Value: user.UserID},
			entitlement.Field{Key: "gateway", Value: g.gateway.Name()},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		g.notifier.Notify(entitlement.Notice{Level: entitlement.NoticeError, Message: msgPaymentFailed})
		return nil, err
	}

	g.logger.Info("payment session created",
		entitlement.Field{Key: "user_id", Value: user.UserID},
		entitlement.Field{Key: "gateway", Value: g.gateway.Name()},
		entitlement.Field{Key: "reference", Value: session.SpecialReference},
	)
	return session, nil
}
