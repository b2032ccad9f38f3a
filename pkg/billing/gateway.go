package billing

import (
	"context"
)

// SubscriptionAmount is the price of the paid subscription in minor units
const SubscriptionAmount int64 = 5141

// PaymentRequest describes a one-time payment the user is about to make
type PaymentRequest struct {
	// Amount in minor units
	Amount int64

	// RedirectURL is where the gateway sends the user after checkout
	RedirectURL string

	// UserID is the internal user identifier (optional for gateways that ignore it)
	UserID string
}

// PaymentSession is the gateway's answer to a payment request
type PaymentSession struct {
	// PaymentURL is the hosted checkout page the user must be sent to
	PaymentURL string `json:"payment_url"`

	// SpecialReference is the gateway's reference for the payment
	SpecialReference string `json:"special_reference"`
}

// Gateway is the generic interface that any payment backend must implement.
// The application can swap TechRealm for Stripe with zero logic changes.
type Gateway interface {
	// Name returns the gateway name (e.g., "techrealm", "stripe")
	Name() string

	// CreatePayment registers a payment intention and returns the checkout URL
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
}

// Redirect is the query contract the gateway appends to the redirect URL
// after checkout: success, txn_response_code, data.message and merchant_order_id.
type Redirect struct {
	Success         string
	TxnResponseCode string
	Message         string
	MerchantOrderID string
}

// Redirect literal values reported by an approved payment
const (
	RedirectSuccess  = "true"
	RedirectApproved = "APPROVED"
	RedirectMessage  = "Approved"
)

// Approved reports whether all three status fields carry the approved literals
func (r Redirect) Approved() bool {
	return r.Success == RedirectSuccess &&
		r.TxnResponseCode == RedirectApproved &&
		r.Message == RedirectMessage
}

// Verifier confirms a payment with the gateway itself rather than trusting
// the redirect parameters. A payment only verifies for the user it was
// created for.
type Verifier interface {
	VerifyPayment(ctx context.Context, userID string, redirect Redirect) (bool, error)
}
