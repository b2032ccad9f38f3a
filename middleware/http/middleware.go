// Package http provides HTTP middleware for gating presentation generation
package http

import (
	"encoding/json"
	"net/http"

	"github.com/Majboor/smart-presentation-builder/pkg/gate"
)

// AccountExtractor resolves the session account of a request.
// Return nil if the request has no session.
type AccountExtractor func(r *http.Request) gate.Account

// Config holds middleware configuration
type Config struct {
	// GetAccount resolves the account of the request (required)
	GetAccount AccountExtractor

	// OnUnauthorized is called when no user is logged in
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnPaymentRequired is called when the free presentation is used up
	// If nil, returns 402 Payment Required
	OnPaymentRequired func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that admits a request only when the
// account may create a presentation, and records one generation when the
// wrapped handler answers with a 2xx status.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetAccount == nil {
		panic("slideai/http: Config.GetAccount is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acct := config.GetAccount(r)
			if acct == nil || acct.User() == nil {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				}
				return
			}

			if !acct.CanCreatePresentation() {
				if config.OnPaymentRequired != nil {
					config.OnPaymentRequired(w, r)
				} else {
					writeJSON(w, http.StatusPaymentRequired, map[string]string{
						"error":   "Payment required",
						"message": gate.UpgradeMessage,
					})
				}
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				acct.IncrementPresentationCount(r.Context())
			}
		})
	}
}

// HandlerFunc creates an HTTP middleware for handler funcs
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
