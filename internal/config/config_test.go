package config

import (
	"errors"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("SESSION_SECRET", "session-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.PaymentGateway != GatewayTechRealm {
		t.Errorf("PaymentGateway = %q, want techrealm", cfg.PaymentGateway)
	}
	if !cfg.CircuitBreaker {
		t.Error("CircuitBreaker should default to true")
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.LogFormat != "console" || cfg.LogLevel != "info" {
		t.Errorf("unexpected log settings %q/%q", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.PaymentRateLimit != 10 || cfg.WebhookRateLimit != 100 {
		t.Errorf("rate limits = %d/%d, want 10/100", cfg.PaymentRateLimit, cfg.WebhookRateLimit)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SLIDEAI_ADDR", ":9000")
	t.Setenv("SLIDEAI_STORE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/slideai")
	t.Setenv("PAYMENT_GATEWAY", "stripe")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
	t.Setenv("SESSION_SECURE", "yes")
	t.Setenv("STORE_CIRCUIT_BREAKER", "off")
	t.Setenv("SHUTDOWN_TIMEOUT", "3")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("PAYMENT_RATE_LIMIT", "3")
	t.Setenv("WEBHOOK_RATE_LIMIT", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.Store != StorePostgres || cfg.PaymentGateway != GatewayStripe {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.SessionSecure || cfg.CircuitBreaker {
		t.Errorf("bool overrides not applied: secure=%v breaker=%v", cfg.SessionSecure, cfg.CircuitBreaker)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.PaymentRateLimit != 3 {
		t.Errorf("PaymentRateLimit = %d, want 3", cfg.PaymentRateLimit)
	}
	if cfg.WebhookRateLimit != 100 {
		t.Errorf("invalid WebhookRateLimit should fall back to 100, got %d", cfg.WebhookRateLimit)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Store:          StoreMemory,
		PaymentGateway: GatewayTechRealm,
		JWTSecret:      "jwt",
		SessionSecret:  "session",
		LogFormat:      "console",
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Store = StorePostgres }},
		{"tiered without dsn", func(c *Config) { c.Store = StoreTiered }},
		{"firestore without project", func(c *Config) { c.Store = StoreFirestore }},
		{"unknown gateway", func(c *Config) { c.PaymentGateway = "paypal" }},
		{"stripe without key", func(c *Config) { c.PaymentGateway = GatewayStripe }},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }},
		{"missing session secret", func(c *Config) { c.SessionSecret = "" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", " postgres://localhost/slideai ")
	if got := DatabaseURL(); got != "postgres://localhost/slideai" {
		t.Errorf("DatabaseURL() = %q", got)
	}
}
