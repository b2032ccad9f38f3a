package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Majboor/smart-presentation-builder/internal/config"
	"github.com/Majboor/smart-presentation-builder/internal/httpx"
	"github.com/Majboor/smart-presentation-builder/internal/server"
	"github.com/Majboor/smart-presentation-builder/internal/session"
	"github.com/Majboor/smart-presentation-builder/pkg/billing"
	billingprom "github.com/Majboor/smart-presentation-builder/pkg/billing/metrics/prometheus"
	"github.com/Majboor/smart-presentation-builder/pkg/billing/stripe"
	"github.com/Majboor/smart-presentation-builder/pkg/billing/techrealm"
	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
	zerologadapter "github.com/Majboor/smart-presentation-builder/pkg/entitlement/logger/zerolog"
	entitlementprom "github.com/Majboor/smart-presentation-builder/pkg/entitlement/metrics/prometheus"
	"github.com/Majboor/smart-presentation-builder/pkg/generation"
	"github.com/Majboor/smart-presentation-builder/pkg/identity"
	"github.com/Majboor/smart-presentation-builder/pkg/payment"
)

const (
	metricsNamespace = "slideai"
	sweepInterval    = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// payments is the configured gateway plus its optional server-side hooks
type payments struct {
	gateway  billing.Gateway
	verifier billing.Verifier
	webhook  http.Handler
}

func newPayments(cfg config.Config, store entitlement.Store, metrics billing.Metrics, logger entitlement.Logger) (*payments, error) {
	switch cfg.PaymentGateway {
	case config.GatewayStripe:
		gw, err := stripe.NewGateway(stripe.Config{
			Config:              billing.Config{Metrics: metrics},
			StripeAPIKey:        cfg.StripeAPIKey,
			StripeWebhookSecret: cfg.StripeWebhookSecret,
			Currency:            cfg.StripeCurrency,
			Store:               store,
			Logger:              logger,
			RateLimiter:         httpx.NewRateLimiter(cfg.WebhookRateLimit, time.Minute),
		})
		if err != nil {
			return nil, err
		}
		return &payments{gateway: gw, verifier: gw, webhook: gw.WebhookHandler()}, nil
	default:
		gw, err := techrealm.NewGateway(billing.Config{
			APIURL:  cfg.PaymentAPIURL,
			APIKey:  cfg.PaymentAPIKey,
			Metrics: metrics,
		})
		if err != nil {
			return nil, err
		}
		return &payments{gateway: gw}, nil
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zl := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger := zerologadapter.NewLogger(zl)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	entitlementMetrics := entitlementprom.NewMetrics(reg, metricsNamespace)
	billingMetrics := billingprom.NewMetrics(reg, metricsNamespace)

	be, err := openBackend(ctx, cfg, logger.With("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			zl.Error().Err(err).Msg("Failed to close record store")
		}
	}()

	pay, err := newPayments(cfg, be.store, billingMetrics, logger.With("billing"))
	if err != nil {
		return fmt.Errorf("failed to configure payment gateway: %w", err)
	}

	jwtConfig := identity.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	provider, err := identity.NewJWTProvider(jwtConfig)
	if err != nil {
		return err
	}

	generator := generation.NewClient(generation.Config{BaseURL: cfg.GenerationAPIURL})
	sessions, err := session.NewRegistry(session.Config{
		Store:     be.store,
		Secret:    []byte(cfg.SessionSecret),
		Generator: generator,
		Gateway:   pay.gateway,
		Verifier:  pay.verifier,
		Logger:    logger.With("session"),
		Metrics:   entitlementMetrics,
		CircuitBreakerConfig: &entitlement.CircuitBreakerConfig{
			Enabled: cfg.CircuitBreaker,
		},
		Secure: cfg.SessionSecure,
	})
	if err != nil {
		return err
	}

	verify, err := payment.NewVerifyHandler(payment.VerifyHandlerConfig{
		Identity: provider,
		Store:    be.store,
		Verifier: pay.verifier,
		Logger:   logger.With("verify-payment"),
	})
	if err != nil {
		return err
	}

	handler, err := server.New(server.Config{
		Sessions:       sessions,
		Identity:       provider,
		PublicURL:      cfg.PublicURL,
		VerifyPayment:  verify,
		Webhook:        pay.webhook,
		Generator:      generator,
		PaymentLimiter: httpx.NewRateLimiter(cfg.PaymentRateLimit, time.Minute),
		Gatherer:       reg,
		Health:         be.health,
		Logger:         logger.With("http"),
	})
	if err != nil {
		return err
	}

	go sweepSessions(ctx, sessions, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      90 * time.Second, // generation calls take up to a minute
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info().
			Str("addr", cfg.Addr).
			Str("store", cfg.Store).
			Str("gateway", pay.gateway.Name()).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	zl.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// sweepSessions evicts idle sessions until ctx is done
func sweepSessions(ctx context.Context, sessions *session.Registry, logger entitlement.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				logger.Debug("expired sessions swept", entitlement.Field{Key: "count", Value: n})
			}
		}
	}
}
