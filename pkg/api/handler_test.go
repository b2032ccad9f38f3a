package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
	"github.com/Majboor/smart-presentation-builder/storage/memory"
)

const testUserID = "user123"

type unreachableStore struct{}

func (unreachableStore) ListByUser(context.Context, string) ([]*entitlement.Record, error) {
	return nil, entitlement.ErrStoreUnavailable
}

func (unreachableStore) Insert(context.Context, *entitlement.Record) (*entitlement.Record, error) {
	return nil, entitlement.ErrStoreUnavailable
}

func (unreachableStore) UpdateByUser(context.Context, string, entitlement.Update) (*entitlement.Record, error) {
	return nil, entitlement.ErrStoreUnavailable
}

func newTestManager(t *testing.T, store entitlement.Store) *entitlement.Manager {
	t.Helper()
	manager, err := entitlement.NewManager(store, entitlement.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func serve(t *testing.T, acct Account) (*httptest.ResponseRecorder, SubscriptionResponse) {
	t.Helper()
	handler, err := NewHandler(Config{
		GetAccount: func(_ *http.Request) Account { return acct },
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	w := httptest.NewRecorder()
	handler.GetSubscription(w, httptest.NewRequest(http.MethodGet, "/api/subscription", http.NoBody))

	var resp SubscriptionResponse
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return w, resp
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Error("Expected error for missing GetAccount")
	}
}

func TestHandler_GetSubscription_NewUser(t *testing.T) {
	manager := newTestManager(t, memory.New())
	manager.SetIdentity(context.Background(), &identity.Identity{UserID: testUserID, Email: "a@example.com"})

	w, resp := serve(t, manager)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type, got %q", w.Header().Get("Content-Type"))
	}
	if resp.Loading {
		t.Error("Expected loading=false after identity load")
	}
	if resp.Subscription == nil || resp.Subscription.Status != entitlement.StatusFree {
		t.Fatalf("Expected free subscription, got %+v", resp.Subscription)
	}
	if !resp.CanCreate {
		t.Error("Expected can_create=true for a new user")
	}
	if resp.UsageLabel != "0/1 presentations used" {
		t.Errorf("Unexpected usage label %q", resp.UsageLabel)
	}
	if resp.Plan != "Free Trial" {
		t.Errorf("Unexpected plan %q", resp.Plan)
	}
	if resp.Email != "a@example.com" {
		t.Errorf("Unexpected email %q", resp.Email)
	}
}

func TestHandler_GetSubscription_TrialUsed(t *testing.T) {
	manager := newTestManager(t, memory.New())
	ctx := context.Background()
	manager.SetIdentity(ctx, &identity.Identity{UserID: testUserID})
	manager.IncrementPresentationCount(ctx)

	_, resp := serve(t, manager)
	if resp.CanCreate {
		t.Error("Expected can_create=false once the trial is used")
	}
	if resp.UsageLabel != "1/1 presentations used" {
		t.Errorf("Unexpected usage label %q", resp.UsageLabel)
	}
}

func TestHandler_GetSubscription_Paid(t *testing.T) {
	manager := newTestManager(t, memory.New())
	ctx := context.Background()
	manager.SetIdentity(ctx, &identity.Identity{UserID: testUserID})
	manager.IncrementPresentationCount(ctx)
	if err := manager.SetPaidStatus(ctx); err != nil {
		t.Fatalf("SetPaidStatus failed: %v", err)
	}

	_, resp := serve(t, manager)
	if !resp.CanCreate {
		t.Error("Expected paid user to be able to create")
	}
	if resp.UsageLabel != "Unlimited presentations" {
		t.Errorf("Unexpected usage label %q", resp.UsageLabel)
	}
	if resp.Plan != "Starter Package" {
		t.Errorf("Unexpected plan %q", resp.Plan)
	}
}

func TestHandler_GetSubscription_Degraded(t *testing.T) {
	manager := newTestManager(t, unreachableStore{})
	manager.SetIdentity(context.Background(), &identity.Identity{UserID: testUserID})

	_, resp := serve(t, manager)
	if !resp.Degraded {
		t.Error("Expected degraded=true for the fallback record")
	}
	if !resp.CanCreate {
		t.Error("Expected fallback record to allow one generation")
	}
}

func TestHandler_GetSubscription_Unauthenticated(t *testing.T) {
	w, _ := serve(t, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without account, got %d", w.Code)
	}

	w, _ = serve(t, newTestManager(t, memory.New()))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for logged-out manager, got %d", w.Code)
	}
}

func TestHandler_CustomErrorHandler(t *testing.T) {
	var got error
	handler, err := NewHandler(Config{
		GetAccount: func(_ *http.Request) Account { return nil },
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		},
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	w := httptest.NewRecorder()
	handler.GetSubscription(w, httptest.NewRequest(http.MethodGet, "/api/subscription", http.NoBody))
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected custom status, got %d", w.Code)
	}
	if !errors.Is(got, errUnauthenticated) {
		t.Errorf("Expected errUnauthenticated, got %v", got)
	}
}

func TestUsageLabel(t *testing.T) {
	if got := UsageLabel(nil); got != "0/1 presentations used" {
		t.Errorf("UsageLabel(nil) = %q", got)
	}
	rec := entitlement.DefaultRecord(testUserID)
	rec.PresentationsGenerated = 3
	if got := UsageLabel(rec); got != "3/1 presentations used" {
		t.Errorf("UsageLabel = %q", got)
	}
}
