package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	gongin "github.com/gin-gonic/gin"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
	"github.com/Majboor/smart-presentation-builder/storage/memory"
)

func init() {
	gongin.SetMode(gongin.TestMode)
}

func setupTestManager(t *testing.T, userID string) *entitlement.Manager {
	t.Helper()

	manager, err := entitlement.NewManager(memory.New(), entitlement.Config{})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if userID != "" {
		manager.SetIdentity(context.Background(), &identity.Identity{UserID: userID})
	}
	return manager
}

func setupRouter(manager *entitlement.Manager, status int, cfg Config) *gongin.Engine {
	r := gongin.New()
	r.Use(func(c *gongin.Context) {
		if manager != nil {
			c.Set("account", manager)
		}
		c.Next()
	})
	cfg.GetAccount = FromContext("account")
	r.POST("/generate", Middleware(cfg), func(c *gongin.Context) {
		c.String(status, "done")
	})
	return r
}

func perform(r *gongin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", http.NoBody))
	return w
}

func TestMiddleware_FreeThenPaymentRequired(t *testing.T) {
	manager := setupTestManager(t, "user1")
	r := setupRouter(manager, http.StatusOK, Config{})

	if w := perform(r); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	w := perform(r)
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", w.Code)
	}
	if got := manager.Subscription().PresentationsGenerated; got != 1 {
		t.Errorf("Expected 1 presentation recorded, got %d", got)
	}
}

func TestMiddleware_HandlerFailureDoesNotCount(t *testing.T) {
	manager := setupTestManager(t, "user1")
	r := setupRouter(manager, http.StatusInternalServerError, Config{})

	perform(r)
	if got := manager.Subscription().PresentationsGenerated; got != 0 {
		t.Errorf("Expected no presentation recorded, got %d", got)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	for name, manager := range map[string]*entitlement.Manager{
		"no session": nil,
		"logged out": setupTestManager(t, ""),
	} {
		t.Run(name, func(t *testing.T) {
			w := perform(setupRouter(manager, http.StatusOK, Config{}))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestMiddleware_CustomStatusCode(t *testing.T) {
	manager := setupTestManager(t, "user1")
	manager.IncrementPresentationCount(context.Background())

	w := perform(setupRouter(manager, http.StatusOK, Config{PaymentRequiredStatusCode: http.StatusForbidden}))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}
