package payment

import (
	"errors"
	"net/http"

	"github.com/Majboor/smart-presentation-builder/internal/httpx"
	"github.com/Majboor/smart-presentation-builder/pkg/billing"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "GET, POST, OPTIONS"
)

// VerifyHandlerConfig configures the server-side verification endpoint
type VerifyHandlerConfig struct {
	// Identity resolves the caller's bearer token (required)
	Identity identity.Provider

	// Store is written with the service's own credentials (required)
	Store entitlement.Store

	// Verifier confirms approved redirects with the gateway (optional)
	Verifier billing.Verifier

	// AllowedOrigin for CORS (default: "*")
	AllowedOrigin string

	// Logger (default: NoopLogger)
	Logger entitlement.Logger
}

// VerifyHandler re-derives the redirect check for an authenticated caller and
// commits paid status directly to the store. It is the authoritative path for
// marking a subscription paid.
type VerifyHandler struct {
	identity      identity.Provider
	store         entitlement.Store
	verifier      billing.Verifier
	allowedOrigin string
	logger        entitlement.Logger
}

// VerifyResponse is the endpoint's JSON body for authenticated callers
type VerifyResponse struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	Subscription *entitlement.Record `json:"subscription,omitempty"`
}

// NewVerifyHandler creates the verification endpoint
func NewVerifyHandler(config VerifyHandlerConfig) (*VerifyHandler, error) {
	if config.Identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if config.Store == nil {
		return nil, entitlement.ErrStoreUnavailable
	}
	if config.AllowedOrigin == "" {
		config.AllowedOrigin = "*"
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	return &VerifyHandler{
		identity:      config.Identity,
		store:         config.Store,
		verifier:      config.Verifier,
		allowedOrigin: config.AllowedOrigin,
		logger:        config.Logger,
	}, nil
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
	w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
	w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet, http.MethodPost:
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := identity.BearerToken(r)
	if token == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "No authorization header")
		return
	}
	user, err := h.identity.Authenticate(r.Context(), token)
	if err != nil || user == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid user token")
		return
	}

	redirect := ParseRedirect(r.URL.Query())
	approved := redirect.Approved()
	if approved && h.verifier != nil {
		approved, err = h.verifier.VerifyPayment(r.Context(), user.UserID, redirect)
		if err != nil {
			h.logger.Error("gateway verification failed",
				entitlement.Field{Key: "user_id", Value: user.UserID},
				entitlement.Field{Key: "error", Value: err.Error()},
			)
			httpx.WriteError(w, http.StatusInternalServerError, "Failed to verify payment")
			return
		}
	}

	if !approved {
		h.logger.Info("payment verification rejected", entitlement.Field{Key: "user_id", Value: user.UserID})
		_ = httpx.WriteJSON(w, http.StatusOK, VerifyResponse{Message: "Payment verification failed"})
		return
	}

	paid := entitlement.StatusPaid
	update := entitlement.Update{Status: &paid}
	if ref := redirect.MerchantOrderID; ref != "" {
		update.PaymentReference = &ref
	}
	rec, err := h.store.UpdateByUser(r.Context(), user.UserID, update)
	if err != nil {
		h.logger.Error("failed to update subscription",
			entitlement.Field{Key: "user_id", Value: user.UserID},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		httpx.WriteError(w, http.StatusInternalServerError, "Failed to update subscription")
		return
	}

	h.logger.Info("payment verified", entitlement.Field{Key: "user_id", Value: user.UserID})
	_ = httpx.WriteJSON(w, http.StatusOK, VerifyResponse{
		Success:      true,
		Message:      "Payment verified and subscription updated",
		Subscription: rec,
	})
}
