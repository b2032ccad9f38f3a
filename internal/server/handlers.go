package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/Majboor/smart-presentation-builder/internal/httpx"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/gate"
	"github.com/Majboor/smart-presentation-builder/pkg/generation"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
	"github.com/Majboor/smart-presentation-builder/pkg/payment"
)

const maxRequestBytes = 16 << 10

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	User         *identity.Identity  `json:"user"`
	Subscription *entitlement.Record `json:"subscription"`
	CanCreate    bool                `json:"can_create"`
}

type presentationRequest struct {
	Topic     string `json:"topic"`
	NumSlides int    `json:"num_slides,omitempty"`
	Format    string `json:"format,omitempty"`
}

type dialogResponse struct {
	Open    bool `json:"open"`
	Pending bool `json:"pending"`
}

type noticesResponse struct {
	Notices []entitlement.Notice `json:"notices"`
}

// handleLogin binds the identity of a bearer or body token to the session
// and loads its subscription record
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	token := identity.BearerToken(r)
	if token == "" {
		var req loginRequest
		if err := httpx.DecodeJSON(w, r, maxRequestBytes, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
			if errors.Is(err, httpx.ErrPayloadTooLarge) {
				httpx.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
				return
			}
			httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		token = req.Token
	}
	if token == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "No authorization token")
		return
	}

	id, err := s.identity.Authenticate(r.Context(), token)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid user token")
		return
	}

	sess.Manager.SetIdentity(r.Context(), id)
	s.logger.Info("session logged in",
		entitlement.Field{Key: "session_id", Value: sess.ID},
		entitlement.Field{Key: "user_id", Value: id.UserID},
	)

	_ = httpx.WriteJSON(w, http.StatusOK, loginResponse{
		User:         sess.Manager.User(),
		Subscription: sess.Manager.Subscription(),
		CanCreate:    sess.Manager.CanCreatePresentation(),
	})
}

// handleLogout drops the session and its cached record
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(w, r); err != nil {
		s.logger.Error("failed to expire session cookie", entitlement.Field{Key: "error", Value: err.Error()})
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerate runs the gate for one presentation request
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var req presentationRequest
	if err := httpx.DecodeJSON(w, r, maxRequestBytes, &req); err != nil {
		if errors.Is(err, httpx.ErrPayloadTooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := sess.Gate.Generate(r.Context(), generation.Request{
		Topic:     req.Topic,
		NumSlides: req.NumSlides,
		Format:    generation.Format(req.Format),
	})
	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, gate.ErrNotConfigured):
		httpx.WriteError(w, http.StatusServiceUnavailable, "Presentation generation is not configured")
		return
	case err != nil:
		httpx.WriteError(w, http.StatusBadGateway, "Failed to generate presentation. Please try again.")
		return
	}

	code := http.StatusOK
	switch result.Outcome {
	case gate.OutcomeLoginRequired:
		code = http.StatusUnauthorized
	case gate.OutcomePaymentRequired:
		code = http.StatusPaymentRequired
	}
	_ = httpx.WriteJSON(w, code, result)
}

// handleRawGenerate calls the generator directly and answers with its
// response. Entitlement and usage counting are left to the middleware.
func (s *Server) handleRawGenerate(w http.ResponseWriter, r *http.Request) {
	var req presentationRequest
	if err := httpx.DecodeJSON(w, r, maxRequestBytes, &req); err != nil {
		if errors.Is(err, httpx.ErrPayloadTooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := s.config.Generator.Generate(r.Context(), generation.Request{
		Topic:     req.Topic,
		NumSlides: req.NumSlides,
		Format:    generation.Format(req.Format),
	})
	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Warn("raw generation failed", entitlement.Field{Key: "error", Value: err.Error()})
		httpx.WriteError(w, http.StatusBadGateway, "Failed to generate presentation. Please try again.")
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, resp)
}

// handleStartPayment creates a gateway session that returns to /payment-success
func (s *Server) handleStartPayment(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	ps, err := sess.Gate.StartPayment(r.Context(), s.publicURL(r)+PaymentSuccessPath)
	switch {
	case errors.Is(err, gate.ErrLoginRequired):
		httpx.WriteError(w, http.StatusUnauthorized, "You must be logged in to make a payment")
		return
	case errors.Is(err, gate.ErrPaymentPending):
		httpx.WriteError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, gate.ErrNotConfigured):
		httpx.WriteError(w, http.StatusServiceUnavailable, "Payments are not configured")
		return
	case err != nil:
		httpx.WriteError(w, http.StatusBadGateway, "Payment processing failed. Please try again.")
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, ps)
}

func (s *Server) handlePaymentDialog(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	_ = httpx.WriteJSON(w, http.StatusOK, dialogResponse{
		Open:    sess.Gate.PaymentDialogOpen(),
		Pending: sess.Gate.PaymentPending(),
	})
}

func (s *Server) handleDismissPayment(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r.Context()).Gate.DismissPayment()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	_ = httpx.WriteJSON(w, http.StatusOK, noticesResponse{Notices: sess.Notices.Drain()})
}

// handlePaymentSuccess consumes the gateway's redirect parameters and sends
// the browser to the same URL without them. Without parameters it renders
// the session's last outcome.
func (s *Server) handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	values := r.URL.Query()

	outcome, err := sess.Reconciler.Reconcile(r.Context(), sess.Manager, values)
	switch {
	case errors.Is(err, payment.ErrNoRedirect):
		if last := sess.Reconciler.Last(); last != nil {
			_ = httpx.WriteJSON(w, http.StatusOK, last)
			return
		}
		http.Redirect(w, r, payment.HomePath, http.StatusSeeOther)
		return
	case errors.Is(err, payment.ErrRecordPending):
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "Subscription is still loading. Please retry.")
		return
	case errors.Is(err, payment.ErrIdentityPending):
		// Parameters are kept so the redirect can be replayed after login
		httpx.WriteError(w, http.StatusUnauthorized, "Login required to confirm payment")
		return
	case err != nil:
		httpx.WriteError(w, http.StatusInternalServerError, "Error processing payment. Please contact support.")
		return
	}

	s.logger.Info("payment redirect consumed",
		entitlement.Field{Key: "session_id", Value: sess.ID},
		entitlement.Field{Key: "result", Value: string(outcome.Result)},
		entitlement.Field{Key: "replayed", Value: outcome.Replayed},
	)

	target := url.URL{Path: r.URL.Path, RawQuery: payment.StripParams(values).Encode()}
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// handleHealth reports liveness and, when configured, backend readiness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.config.Health != nil {
		if err := s.config.Health(r.Context()); err != nil {
			_ = httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
