package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

const (
	planFree    = "Free Trial"
	planPremium = "Starter Package"

	labelUnlimited = "Unlimited presentations"
	freeAllowance  = 1
)

var errUnauthenticated = errors.New("user not authenticated")

// Handler provides HTTP endpoints for subscription inspection
type Handler struct {
	config Config
}

// GetSubscription renders the session's subscription record and entitlement.
// It triggers the mount-time load when the session has not fetched yet.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	acct := h.config.GetAccount(r)
	if acct == nil {
		h.handleError(w, r, errUnauthenticated, http.StatusUnauthorized)
		return
	}
	user := acct.User()
	if user == nil {
		h.handleError(w, r, errUnauthenticated, http.StatusUnauthorized)
		return
	}

	acct.EnsureLoaded(r.Context())

	rec := acct.Subscription()
	response := SubscriptionResponse{
		Loading:      acct.Loading(),
		UserID:       user.UserID,
		Email:        user.Email,
		Plan:         PlanName(rec),
		Subscription: rec,
		CanCreate:    acct.CanCreatePresentation(),
		UsageLabel:   UsageLabel(rec),
		Degraded:     rec.IsFallback(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Log encoding error but response already sent
		return
	}
}

// UsageLabel renders usage as the account page shows it,
// e.g. "0/1 presentations used" or "Unlimited presentations".
func UsageLabel(rec *entitlement.Record) string {
	if rec != nil && rec.Status == entitlement.StatusPaid {
		return labelUnlimited
	}
	used := 0
	if rec != nil {
		used = rec.PresentationsGenerated
	}
	return fmt.Sprintf("%d/%d presentations used", used, freeAllowance)
}

// PlanName returns the display name of the record's plan
func PlanName(rec *entitlement.Record) string {
	if rec != nil && rec.Status == entitlement.StatusPaid {
		return planPremium
	}
	return planFree
}

// handleError handles errors using the configured error handler or default
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
