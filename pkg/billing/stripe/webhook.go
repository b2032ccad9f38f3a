package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/Majboor/smart-presentation-builder/internal/httpx"
	"github.com/Majboor/smart-presentation-builder/pkg/billing"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

const maxWebhookBytes = 256 * 1024

const (
	eventCheckoutCompleted     = "checkout.session.completed"
	eventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// WebhookHandler returns the rate-limited HTTP handler for Stripe webhooks
func (g *Gateway) WebhookHandler() http.Handler {
	return g.rateLimiter.Middleware(http.HandlerFunc(g.handleWebhook))
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.webhookSecret == "" || g.store == nil {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := httpx.ReadBody(w, r, maxWebhookBytes)
	if err != nil {
		if errors.Is(err, httpx.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			g.metrics.RecordWebhookError(gatewayName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			g.metrics.RecordWebhookError(gatewayName, "invalid_payload")
		}
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), g.webhookSecret)
	if err != nil {
		g.logger.Warn("stripe webhook signature rejected", entitlement.Field{Key: "error", Value: err.Error()})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		g.metrics.RecordWebhookError(gatewayName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if err := g.processEvent(r.Context(), &event); err != nil {
		g.logger.Error("stripe webhook processing failed",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: eventType},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		status := http.StatusInternalServerError
		if errors.Is(err, billing.ErrInvalidWebhookPayload) {
			// Stripe must not retry a payload that will never parse
			status = http.StatusBadRequest
		}
		http.Error(w, "failed to process webhook", status)
		g.metrics.RecordWebhookEvent(gatewayName, eventType, "error")
		g.metrics.RecordWebhookError(gatewayName, "processing_error")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	g.metrics.RecordWebhookEvent(gatewayName, eventType, "success")
}

func (g *Gateway) processEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case eventCheckoutCompleted, eventAsyncPaymentSucceeded:
		return g.handleCheckoutPaid(ctx, event)
	default:
		// Unknown event type - ignore silently
		return nil
	}
}

// handleCheckoutPaid marks the paying user's record as paid.
// Sessions still awaiting an asynchronous payment are skipped; Stripe sends
// async_payment_succeeded once the funds arrive.
func (g *Gateway) handleCheckoutPaid(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil
	}

	userID := sessionOwner(&session)
	if userID == "" {
		return fmt.Errorf("%w: checkout session %s has no user", billing.ErrInvalidWebhookPayload, session.ID)
	}

	paid := entitlement.StatusPaid
	ref := session.ID
	update := entitlement.Update{Status: &paid, PaymentReference: &ref}
	if session.AmountTotal > 0 {
		amount := session.AmountTotal
		update.Amount = &amount
	}

	_, err := g.store.UpdateByUser(ctx, userID, update)
	if errors.Is(err, entitlement.ErrNotFound) {
		// Paid before the first session load created the record
		err = g.insertPaid(ctx, userID, update)
	}
	if err != nil {
		return fmt.Errorf("failed to mark user paid: %w", err)
	}

	g.logger.Info("subscription marked paid by stripe webhook",
		entitlement.Field{Key: "user_id", Value: userID},
		entitlement.Field{Key: "session_id", Value: session.ID},
	)
	return nil
}

func (g *Gateway) insertPaid(ctx context.Context, userID string, update entitlement.Update) error {
	rec := entitlement.DefaultRecord(userID)
	update.Apply(rec, time.Now().UTC())
	_, err := g.store.Insert(ctx, rec)
	if errors.Is(err, entitlement.ErrConflict) {
		_, err = g.store.UpdateByUser(ctx, userID, update)
	}
	return err
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
