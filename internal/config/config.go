// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway (Stripe)
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string // ISO currency code for checkout sessions

	// Checkout
	CheckoutExpiryMinutes int    // Checkout session expiry passed to the gateway
	CheckoutSuccessURL    string // Where the gateway redirects after payment
	CheckoutCancelURL     string // Where the gateway redirects on abandon

	// Security
	AuthSecret string // HMAC secret for bearer tokens issued by the identity service

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultCurrency       = "brl"
	DefaultCheckoutExpiry = 30
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:              getEnv("CURRENCY", DefaultCurrency),
		CheckoutExpiryMinutes: getEnvInt("CHECKOUT_EXPIRY_MINUTES", DefaultCheckoutExpiry),
		CheckoutSuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		CheckoutCancelURL:     getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
		AuthSecret:            os.Getenv("AUTH_SECRET"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	if c.IsProduction() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}

	if c.CheckoutExpiryMinutes < 30 {
		// Stripe rejects sessions expiring in under 30 minutes
		return fmt.Errorf("CHECKOUT_EXPIRY_MINUTES must be at least 30")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
