package payment

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/Majboor/smart-presentation-builder/pkg/billing"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
)

const (
	// AccountPath is where a successful payment sends the user
	AccountPath = "/account"
	// HomePath is the secondary recovery link of the failure screen
	HomePath = "/"

	msgPaymentSucceeded = "Payment successful! You now have premium access."
	msgPaymentRejected  = "Payment verification failed. Please try again or contact support."
	msgPaymentError     = "Error processing payment. Please contact support."
)

// Account is the part of the entitlement manager reconciliation needs
type Account interface {
	User() *identity.Identity
	Subscription() *entitlement.Record
	Loading() bool
	SetPaidStatus(ctx context.Context, opts ...entitlement.PaidOption) error
}

// Result classifies a reconciliation outcome
type Result string

const (
	ResultSucceeded Result = "success"
	ResultRejected  Result = "rejected"
	ResultError     Result = "error"
)

// Outcome is what the result screen renders after a redirect was consumed
type Outcome struct {
	Result   Result             `json:"result"`
	Redirect billing.Redirect   `json:"-"`
	Next     string             `json:"next,omitempty"`
	Links    []string           `json:"links,omitempty"`
	Notice   entitlement.Notice `json:"notice"`
	Replayed bool               `json:"replayed,omitempty"`
}

// Verified reports whether the payment was committed
func (o *Outcome) Verified() bool {
	return o != nil && o.Result == ResultSucceeded
}

// Config configures a Reconciler
type Config struct {
	// Verifier confirms payments with the gateway (optional).
	// When nil the three redirect literals are trusted alone.
	Verifier billing.Verifier

	// Notifier receives the result notice (default: NoopNotifier)
	Notifier entitlement.Notifier

	// Logger (default: NoopLogger)
	Logger entitlement.Logger
}

// Reconciler consumes payment redirects for one session.
// An order id reconciled once replays its stored outcome instead of
// committing again. Attempts that could not reach a final outcome are not
// remembered.
type Reconciler struct {
	verifier billing.Verifier
	notifier entitlement.Notifier
	logger   entitlement.Logger

	mu     sync.Mutex
	orders map[string]*order
	last   *Outcome
}

// order tracks one merchant order id. done closes once outcome is final;
// a nil outcome means the attempt was abandoned and may be retried.
type order struct {
	done    chan struct{}
	outcome *Outcome
}

// NewReconciler creates a session-scoped reconciler
func NewReconciler(config Config) *Reconciler {
	if config.Notifier == nil {
		config.Notifier = &entitlement.NoopNotifier{}
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	return &Reconciler{
		verifier: config.Verifier,
		notifier: config.Notifier,
		logger:   config.Logger,
		orders:   make(map[string]*order),
	}
}

// Reconcile verifies the redirect in values and, when approved, marks the
// account paid. Returns ErrNoRedirect, ErrIdentityPending or ErrRecordPending
// without side effects. Concurrent calls for one order id commit once; the
// others wait and replay its outcome.
func (r *Reconciler) Reconcile(ctx context.Context, acct Account, values url.Values) (*Outcome, error) {
	if !HasParams(values) {
		return nil, ErrNoRedirect
	}
	user := acct.User()
	if user == nil {
		return nil, ErrIdentityPending
	}
	if acct.Loading() || acct.Subscription() == nil {
		return nil, ErrRecordPending
	}

	redirect := ParseRedirect(values)
	orderID := redirect.MerchantOrderID

	var claim *order
	if orderID != "" {
		o, prev, err := r.claim(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			replay := *prev
			replay.Replayed = true
			return &replay, nil
		}
		claim = o
	}

	outcome, err := r.reconcile(ctx, acct, user.UserID, redirect)
	if err != nil {
		r.release(orderID, claim, nil)
		return nil, err
	}

	r.logger.Info("payment redirect reconciled",
		entitlement.Field{Key: "user_id", Value: user.UserID},
		entitlement.Field{Key: "merchant_order_id", Value: orderID},
		entitlement.Field{Key: "result", Value: string(outcome.Result)},
	)
	r.notifier.Notify(outcome.Notice)
	r.release(orderID, claim, outcome)
	return outcome, nil
}

// claim reserves orderID for the caller, or waits for the caller holding it
// and returns that caller's outcome.
func (r *Reconciler) claim(ctx context.Context, orderID string) (*order, *Outcome, error) {
	for {
		r.mu.Lock()
		o, ok := r.orders[orderID]
		if !ok {
			o = &order{done: make(chan struct{})}
			r.orders[orderID] = o
			r.mu.Unlock()
			return o, nil, nil
		}
		r.mu.Unlock()

		select {
		case <-o.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if o.outcome != nil {
			return nil, o.outcome, nil
		}
		// abandoned attempt; try to claim again
	}
}

// release finalizes a claim. A nil outcome forgets the order so a later
// redirect can retry it.
func (r *Reconciler) release(orderID string, claim *order, outcome *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if outcome != nil {
		r.last = outcome
	}
	if claim == nil {
		return
	}
	claim.outcome = outcome
	if outcome == nil {
		delete(r.orders, orderID)
	}
	close(claim.done)
}

// Last returns a copy of the most recent outcome, or nil before any redirect
// was reconciled. The result screen renders it once the parameters are gone.
func (r *Reconciler) Last() *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	out := *r.last
	return &out
}

// reconcile returns the final outcome, or ErrIdentityPending/ErrRecordPending
// when the account changed underneath and nothing was committed
func (r *Reconciler) reconcile(
	ctx context.Context, acct Account, userID string, redirect billing.Redirect,
) (*Outcome, error) {
	if !redirect.Approved() {
		return failed(redirect, ResultRejected, msgPaymentRejected), nil
	}

	if r.verifier != nil {
		ok, err := r.verifier.VerifyPayment(ctx, userID, redirect)
		if err != nil {
			r.logger.Error("payment verification failed",
				entitlement.Field{Key: "user_id", Value: userID},
				entitlement.Field{Key: "error", Value: err.Error()},
			)
			return failed(redirect, ResultError, msgPaymentError), nil
		}
		if !ok {
			return failed(redirect, ResultRejected, msgPaymentRejected), nil
		}
	}

	err := acct.SetPaidStatus(ctx, entitlement.WithPaymentReference(redirect.MerchantOrderID))
	switch {
	case errors.Is(err, entitlement.ErrNoIdentity):
		return nil, ErrIdentityPending
	case errors.Is(err, entitlement.ErrNoRecord):
		return nil, ErrRecordPending
	case err != nil:
		r.logger.Error("failed to commit paid status",
			entitlement.Field{Key: "user_id", Value: userID},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		return failed(redirect, ResultError, msgPaymentError), nil
	}

	return &Outcome{
		Result:   ResultSucceeded,
		Redirect: redirect,
		Next:     AccountPath,
		Notice:   entitlement.Notice{Level: entitlement.NoticeSuccess, Message: msgPaymentSucceeded},
	}, nil
}

func failed(redirect billing.Redirect, result Result, msg string) *Outcome {
	return &Outcome{
		Result:   result,
		Redirect: redirect,
		Links:    []string{AccountPath, HomePath},
		Notice:   entitlement.Notice{Level: entitlement.NoticeError, Message: msg},
	}
}
