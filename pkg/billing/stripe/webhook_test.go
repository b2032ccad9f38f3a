package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/Majboor/smart-presentation-builder/internal/httpx"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/storage/memory"
)

func newWebhookGateway(store entitlement.Store) *Gateway {
	return newGateway(Config{
		StripeWebhookSecret: testStripeWebhookSecret,
		Store:               store,
	}, newFakeSessions())
}

func eventPayload(t *testing.T, eventType string, session map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)
	return payload
}

func paidSession(userID string) map[string]any {
	return map[string]any{
		"id":                  testSessionID,
		"object":              "checkout.session",
		"payment_status":      "paid",
		"amount_total":        5141,
		"client_reference_id": userID,
		"metadata":            map[string]string{"user_id": userID},
	}
}

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.RemoteAddr = "192.0.2.10:443"
	return req
}

func TestWebhook_CheckoutCompletedMarksPaid(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_, err := store.Insert(ctx, entitlement.DefaultRecord(testUserID))
	require.NoError(t, err)

	g := newWebhookGateway(store)
	w := httptest.NewRecorder()
	g.WebhookHandler().ServeHTTP(w, signedRequest(t,
		eventPayload(t, "checkout.session.completed", paidSession(testUserID)), testStripeWebhookSecret))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	records, err := store.ListByUser(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entitlement.StatusPaid, records[0].Status)
	require.NotNil(t, records[0].PaymentReference)
	assert.Equal(t, testSessionID, *records[0].PaymentReference)
	require.NotNil(t, records[0].Amount)
	assert.Equal(t, int64(5141), *records[0].Amount)
}

func TestWebhook_CreatesRecordWhenMissing(t *testing.T) {
	store := memory.New()
	g := newWebhookGateway(store)

	w := httptest.NewRecorder()
	g.WebhookHandler().ServeHTTP(w, signedRequest(t,
		eventPayload(t, "checkout.session.completed", paidSession("user-new")), testStripeWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, 1, store.Count("user-new"))
	records, err := store.ListByUser(context.Background(), "user-new")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusPaid, records[0].Status)
	assert.Equal(t, 0, records[0].PresentationsGenerated)
}

func TestWebhook_UnpaidSessionIgnored(t *testing.T) {
	store := memory.New()
	_, err := store.Insert(context.Background(), entitlement.DefaultRecord(testUserID))
	require.NoError(t, err)

	session := paidSession(testUserID)
	session["payment_status"] = "unpaid"

	g := newWebhookGateway(store)
	w := httptest.NewRecorder()
	g.WebhookHandler().ServeHTTP(w, signedRequest(t,
		eventPayload(t, "checkout.session.completed", session), testStripeWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	records, _ := store.ListByUser(context.Background(), testUserID)
	assert.Equal(t, entitlement.StatusFree, records[0].Status)
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	g := newWebhookGateway(memory.New())
	w := httptest.NewRecorder()
	g.WebhookHandler().ServeHTTP(w, signedRequest(t,
		eventPayload(t, "invoice.created", map[string]any{"id": "in_1", "object": "invoice"}), testStripeWebhookSecret))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_MissingUserIsBadRequest(t *testing.T) {
	session := paidSession("")
	delete(session, "metadata")

	g := newWebhookGateway(memory.New())
	w := httptest.NewRecorder()
	g.WebhookHandler().ServeHTTP(w, signedRequest(t,
		eventPayload(t, "checkout.session.completed", session), testStripeWebhookSecret))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_UsesConfiguredLimiter(t *testing.T) {
	store := memory.New()
	g := newGateway(Config{
		StripeWebhookSecret: testStripeWebhookSecret,
		Store:               store,
		RateLimiter:         httpx.NewRateLimiter(1, time.Minute),
	}, newFakeSessions())
	payload := eventPayload(t, "checkout.session.completed", paidSession(testUserID))

	w := httptest.NewRecorder()
	g.WebhookHandler().ServeHTTP(w, signedRequest(t, payload, testStripeWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	g.WebhookHandler().ServeHTTP(w, signedRequest(t, payload, testStripeWebhookSecret))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWebhook_Rejections(t *testing.T) {
	payload := eventPayload(t, "checkout.session.completed", paidSession(testUserID))

	t.Run("wrong secret", func(t *testing.T) {
		g := newWebhookGateway(memory.New())
		w := httptest.NewRecorder()
		g.WebhookHandler().ServeHTTP(w, signedRequest(t, payload, "whsec_other"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		g := newWebhookGateway(memory.New())
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		g.WebhookHandler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("method", func(t *testing.T) {
		g := newWebhookGateway(memory.New())
		w := httptest.NewRecorder()
		g.WebhookHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", http.NoBody))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		g := newWebhookGateway(memory.New())
		w := httptest.NewRecorder()
		g.WebhookHandler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", http.NoBody))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not configured", func(t *testing.T) {
		g := newGateway(Config{}, newFakeSessions())
		w := httptest.NewRecorder()
		g.WebhookHandler().ServeHTTP(w, signedRequest(t, payload, testStripeWebhookSecret))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	})
}
