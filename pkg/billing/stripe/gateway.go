package stripe

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Majboor/smart-presentation-builder/internal/httpx"
	"github.com/Majboor/smart-presentation-builder/pkg/billing"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

const (
	gatewayName              = "stripe"
	defaultCurrency          = "usd"
	defaultProductName       = "SlideAI unlimited presentations"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	endpointCheckoutSessions = "/checkout/sessions"
	metadataUserID           = "user_id"

	// sessionIDPlaceholder is substituted by Stripe on redirect
	sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config

	StripeAPIKey        string
	StripeWebhookSecret string

	// Currency of the one-time charge (default: usd)
	Currency string

	// ProductName shown on the hosted checkout page
	ProductName string

	// CancelURL is where Stripe sends users who abandon checkout.
	// Defaults to the request's redirect URL without the result parameters.
	CancelURL string

	// Store receives paid-status updates from the webhook (optional).
	// Without it the webhook handler answers 503.
	Store entitlement.Store

	// Logger is used by the webhook handler (default: NoopLogger)
	Logger entitlement.Logger

	// RateLimiter throttles the webhook per client (default: 100/minute)
	RateLimiter *httpx.RateLimiter
}

// checkoutSessions is the subset of the Stripe client used by the gateway
type checkoutSessions interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	Retrieve(ctx context.Context, id string, params *stripe.CheckoutSessionRetrieveParams) (*stripe.CheckoutSession, error)
}

// Gateway implements billing.Gateway and billing.Verifier on Stripe Checkout
type Gateway struct {
	sessions      checkoutSessions
	currency      string
	productName   string
	cancelURL     string
	webhookSecret string
	store         entitlement.Store
	logger        entitlement.Logger
	metrics       billing.Metrics
	rateLimiter   *httpx.RateLimiter
}

// NewGateway creates a Stripe gateway
func NewGateway(config Config) (*Gateway, error) {
	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	var opts []stripe.ClientOption
	if config.HTTPClient != nil {
		opts = append(opts, stripe.WithBackends(
			stripe.NewBackendsWithConfig(&stripe.BackendConfig{HTTPClient: config.HTTPClient}),
		))
	}
	sc := stripe.NewClient(apiKey, opts...)

	return newGateway(config, sc.V1CheckoutSessions), nil
}

func newGateway(config Config, sessions checkoutSessions) *Gateway {
	currency := strings.ToLower(strings.TrimSpace(config.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	productName := config.ProductName
	if productName == "" {
		productName = defaultProductName
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &entitlement.NoopLogger{}
	}
	limiter := config.RateLimiter
	if limiter == nil {
		limiter = httpx.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow)
	}

	return &Gateway{
		sessions:      sessions,
		currency:      currency,
		productName:   productName,
		cancelURL:     config.CancelURL,
		webhookSecret: strings.TrimSpace(config.StripeWebhookSecret),
		store:         config.Store,
		logger:        logger,
		metrics:       metrics,
		rateLimiter:   limiter,
	}
}

// Name returns "stripe"
func (g *Gateway) Name() string {
	return gatewayName
}

// CreatePayment opens a one-time Checkout Session for the requested amount.
// The success URL carries the approved redirect parameters and the session id
// as merchant_order_id, so the same reconciliation path serves both gateways.
func (g *Gateway) CreatePayment(ctx context.Context, req billing.PaymentRequest) (*billing.PaymentSession, error) {
	if err := req.Validate(); err != nil {
		g.metrics.RecordPaymentCreated(gatewayName, "error")
		return nil, err
	}
	if req.RedirectURL == "" {
		g.metrics.RecordPaymentCreated(gatewayName, "error")
		return nil, fmt.Errorf("%w: redirect URL is required", billing.ErrInvalidPaymentRequest)
	}

	successURL, err := successURL(req.RedirectURL)
	if err != nil {
		g.metrics.RecordPaymentCreated(gatewayName, "error")
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidPaymentRequest, err)
	}
	cancelURL := g.cancelURL
	if cancelURL == "" {
		cancelURL = req.RedirectURL
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(g.currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(g.productName),
					},
					UnitAmount: stripe.Int64(req.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	if req.UserID != "" {
		params.ClientReferenceID = stripe.String(req.UserID)
		params.Metadata = map[string]string{metadataUserID: req.UserID}
	}

	start := time.Now()
	session, err := g.sessions.Create(ctx, params)
	g.metrics.RecordAPICallDuration(gatewayName, endpointCheckoutSessions, time.Since(start))
	if err != nil {
		g.metrics.RecordAPICall(gatewayName, endpointCheckoutSessions, "error")
		g.metrics.RecordPaymentCreated(gatewayName, "error")
		return nil, fmt.Errorf("%w: failed to create checkout session: %v", billing.ErrProviderAPIError, err)
	}
	g.metrics.RecordAPICall(gatewayName, endpointCheckoutSessions, "success")
	g.metrics.RecordPaymentCreated(gatewayName, "success")

	return &billing.PaymentSession{
		PaymentURL:       session.URL,
		SpecialReference: session.ID,
	}, nil
}

// VerifyPayment retrieves the Checkout Session named by the redirect's
// merchant order id and reports whether Stripe considers it paid for userID.
// Sessions created for another user, or without an owner, never verify.
func (g *Gateway) VerifyPayment(ctx context.Context, userID string, redirect billing.Redirect) (bool, error) {
	if redirect.MerchantOrderID == "" || userID == "" {
		g.metrics.RecordVerification(gatewayName, "rejected")
		return false, nil
	}

	start := time.Now()
	session, err := g.sessions.Retrieve(ctx, redirect.MerchantOrderID, nil)
	g.metrics.RecordAPICallDuration(gatewayName, endpointCheckoutSessions, time.Since(start))
	if err != nil {
		g.metrics.RecordAPICall(gatewayName, endpointCheckoutSessions, "error")
		g.metrics.RecordVerification(gatewayName, "error")
		return false, fmt.Errorf("%w: failed to retrieve checkout session: %v", billing.ErrProviderAPIError, err)
	}
	g.metrics.RecordAPICall(gatewayName, endpointCheckoutSessions, "success")

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		g.metrics.RecordVerification(gatewayName, "rejected")
		return false, nil
	}
	if owner := sessionOwner(session); owner != userID {
		g.logger.Warn("checkout session belongs to another user",
			entitlement.Field{Key: "session_id", Value: session.ID},
			entitlement.Field{Key: "user_id", Value: userID},
		)
		g.metrics.RecordVerification(gatewayName, "rejected")
		return false, nil
	}
	g.metrics.RecordVerification(gatewayName, "verified")
	return true, nil
}

// sessionOwner returns the user a Checkout Session was created for
func sessionOwner(session *stripe.CheckoutSession) string {
	if session.ClientReferenceID != "" {
		return session.ClientReferenceID
	}
	return session.Metadata[metadataUserID]
}

// successURL appends the approved redirect parameters to base.
// The session placeholder is appended verbatim; url.Values would escape its braces.
func successURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("redirect URL must be absolute: %q", base)
	}

	q := u.Query()
	q.Set("success", billing.RedirectSuccess)
	q.Set("txn_response_code", billing.RedirectApproved)
	q.Set("data.message", billing.RedirectMessage)
	u.RawQuery = q.Encode() + "&merchant_order_id=" + sessionIDPlaceholder
	return u.String(), nil
}
