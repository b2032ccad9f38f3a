// Package server wires the session registry, gate and payment flow into the
// application's HTTP surface.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Majboor/smart-presentation-builder/internal/httpx"
	"github.com/Majboor/smart-presentation-builder/internal/session"
	httpmw "github.com/Majboor/smart-presentation-builder/middleware/http"
	"github.com/Majboor/smart-presentation-builder/pkg/api"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	"github.com/Majboor/smart-presentation-builder/pkg/gate"
	"github.com/Majboor/smart-presentation-builder/pkg/generation"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
)

// PaymentSuccessPath is where gateways send the user after checkout
const PaymentSuccessPath = "/payment-success"

// Config configures the HTTP server
type Config struct {
	// Sessions holds per-browser state (required)
	Sessions *session.Registry

	// Identity verifies login tokens (required)
	Identity identity.Provider

	// PublicURL is the externally visible origin used for payment redirects.
	// If empty, it is derived from the request.
	PublicURL string

	// VerifyPayment is mounted at /functions/verify-payment (optional)
	VerifyPayment http.Handler

	// Webhook is mounted at /webhooks/stripe (optional)
	Webhook http.Handler

	// Generator backs the raw /api/generate endpoint (optional)
	Generator generation.Generator

	// PaymentLimiter throttles payment creation per client (default: 10/minute)
	PaymentLimiter *httpx.RateLimiter

	// Gatherer backs /metrics (default: prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer

	// Health reports backend readiness for /healthz (optional)
	Health func(ctx context.Context) error

	// Logger (default: NoopLogger)
	Logger entitlement.Logger
}

// Server is the application's HTTP handler
type Server struct {
	config   Config
	sessions *session.Registry
	identity identity.Provider
	logger   entitlement.Logger
	account  *api.Handler
	router   chi.Router
}

// New creates the server and registers its routes
func New(config Config) (*Server, error) {
	if config.Sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if config.Identity == nil {
		return nil, errors.New("identity provider is required")
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	if config.PaymentLimiter == nil {
		config.PaymentLimiter = httpx.NewRateLimiter(10, time.Minute)
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	config.PublicURL = strings.TrimRight(config.PublicURL, "/")

	s := &Server{
		config:   config,
		sessions: config.Sessions,
		identity: config.Identity,
		logger:   config.Logger,
	}

	account, err := api.NewHandler(api.Config{
		GetAccount: func(r *http.Request) api.Account {
			if sess := sessionFrom(r.Context()); sess != nil {
				return sess.Manager
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.account = account
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	if s.config.VerifyPayment != nil {
		r.Handle("/functions/verify-payment", s.config.VerifyPayment)
	}
	if s.config.Webhook != nil {
		r.Handle("/webhooks/stripe", s.config.Webhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Post("/auth/session", s.handleLogin)
		r.Delete("/auth/session", s.handleLogout)
		r.Get(PaymentSuccessPath, s.handlePaymentSuccess)

		r.Route("/api", func(r chi.Router) {
			r.Get("/subscription", s.account.GetSubscription)
			r.Post("/presentations", s.handleGenerate)
			r.With(s.config.PaymentLimiter.Middleware).Post("/payments", s.handleStartPayment)
			r.Get("/payments/dialog", s.handlePaymentDialog)
			r.Delete("/payments/dialog", s.handleDismissPayment)
			r.Get("/notices", s.handleNotices)

			if s.config.Generator != nil {
				entitled := httpmw.Middleware(httpmw.Config{GetAccount: gateAccount})
				r.With(entitled).Post("/generate", s.handleRawGenerate)
			}
		})
	})

	return r
}

type contextKey struct{}

// withSession resolves or creates the browser session and stores it on the context
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(w, r)
		if err != nil {
			s.logger.Error("failed to resolve session", entitlement.Field{Key: "error", Value: err.Error()})
			httpx.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, sess)))
	})
}

// gateAccount returns the session manager, or nil before a session exists
func gateAccount(r *http.Request) gate.Account {
	if sess := sessionFrom(r.Context()); sess != nil {
		return sess.Manager
	}
	return nil
}

func sessionFrom(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(contextKey{}).(*session.Session)
	return sess
}

// logRequests logs one line per request
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			entitlement.Field{Key: "method", Value: r.Method},
			entitlement.Field{Key: "path", Value: r.URL.Path},
			entitlement.Field{Key: "status", Value: ww.Status()},
			entitlement.Field{Key: "duration", Value: time.Since(start)},
			entitlement.Field{Key: "request_id", Value: middleware.GetReqID(r.Context())},
		)
	})
}

// publicURL returns the origin payment redirects should point at
func (s *Server) publicURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return s.config.PublicURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
