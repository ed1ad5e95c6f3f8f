package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-auth-secret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.Equal(t, DefaultCheckoutExpiry, cfg.CheckoutExpiryMinutes)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_MissingAuthSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingWebhookSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "test-auth-secret")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ProductionRequiresStripeKey(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "production")
	t.Setenv("STRIPE_SECRET_KEY", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STRIPE_SECRET_KEY", "sk_live_x")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_CheckoutExpiryTooShort(t *testing.T) {
	setRequired(t)
	t.Setenv("CHECKOUT_EXPIRY_MINUTES", "5")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9999")
	t.Setenv("CURRENCY", "usd")
	t.Setenv("CHECKOUT_EXPIRY_MINUTES", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, 60, cfg.CheckoutExpiryMinutes)
}
