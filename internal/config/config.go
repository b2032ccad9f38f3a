// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
	StoreTiered    = "tiered"
)

// Payment gateways
const (
	GatewayTechRealm = "techrealm"
	GatewayStripe    = "stripe"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration.
type Config struct {
	Addr            string
	PublicURL       string
	ShutdownTimeout time.Duration

	Store            string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	FirestoreProject string
	CircuitBreaker   bool

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	SessionSecret string
	SessionSecure bool

	PaymentGateway      string
	PaymentAPIURL       string
	PaymentAPIKey       string
	StripeAPIKey        string
	StripeWebhookSecret string
	StripeCurrency      string

	// Per-client requests per minute
	PaymentRateLimit int
	WebhookRateLimit int

	GenerationAPIURL string

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables and an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:            getenv("SLIDEAI_ADDR", ":8080"),
		PublicURL:       strings.TrimSpace(getenv("PUBLIC_URL", "")),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		Store:            strings.ToLower(getenv("SLIDEAI_STORE", StoreMemory)),
		DatabaseURL:      strings.TrimSpace(getenv("DATABASE_URL", "")),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		FirestoreProject: strings.TrimSpace(getenv("FIRESTORE_PROJECT", "")),
		CircuitBreaker:   getenvBool("STORE_CIRCUIT_BREAKER", true),

		JWTSecret:   strings.TrimSpace(getenv("JWT_SECRET", "")),
		JWTIssuer:   getenv("JWT_ISSUER", ""),
		JWTAudience: getenv("JWT_AUDIENCE", ""),

		SessionSecret: strings.TrimSpace(getenv("SESSION_SECRET", "")),
		SessionSecure: getenvBool("SESSION_SECURE", false),

		PaymentGateway:      strings.ToLower(getenv("PAYMENT_GATEWAY", GatewayTechRealm)),
		PaymentAPIURL:       getenv("PAYMENT_API_URL", ""),
		PaymentAPIKey:       getenv("PAYMENT_API_KEY", ""),
		StripeAPIKey:        strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		StripeCurrency:      getenv("STRIPE_CURRENCY", "usd"),

		PaymentRateLimit: getenvInt("PAYMENT_RATE_LIMIT", 10),
		WebhookRateLimit: getenvInt("WEBHOOK_RATE_LIMIT", 100),

		GenerationAPIURL: getenv("GENERATION_API_URL", ""),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "console")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DatabaseURL returns DATABASE_URL without validating the rest of the
// configuration. Used by the migrate command.
func DatabaseURL() string {
	_ = godotenv.Load()
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

// Validate checks that the selected backends have what they need
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrInvalidConfig)
		}
	case StoreTiered:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for the tiered store", ErrInvalidConfig)
		}
	case StoreFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("%w: FIRESTORE_PROJECT is required for the firestore store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}

	switch c.PaymentGateway {
	case GatewayTechRealm:
	case GatewayStripe:
		if c.StripeAPIKey == "" {
			return fmt.Errorf("%w: STRIPE_API_KEY is required for the stripe gateway", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown payment gateway %q", ErrInvalidConfig, c.PaymentGateway)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("%w: JWT_SECRET is required", ErrInvalidConfig)
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("%w: SESSION_SECRET is required", ErrInvalidConfig)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return n
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
