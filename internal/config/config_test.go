package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("ENT_ADMIN_KEY", "admin-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, StoreRedis, cfg.StoreBackend)
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 5*time.Second, cfg.GateTimeout)
	assert.Equal(t, "noreply@geonexus.live", cfg.EmailFrom)
	assert.Equal(t, "https://geonexus.live", cfg.AppURL)
	assert.False(t, cfg.PublicMetrics)
	assert.Empty(t, cfg.Allowlist)
	assert.Equal(t, 120, cfg.RateLimit)
	assert.Equal(t, 30, cfg.ProfileRateLimit)
	assert.Empty(t, cfg.StripeSecretKey)
	assert.Empty(t, cfg.CheckoutPrices)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENT_PORT", "9090")
	t.Setenv("ENT_STORE", "Memory")
	t.Setenv("ENT_GATE_TIMEOUT", "2s")
	t.Setenv("ENT_ALLOWLIST", "staff-1, qa-* ,,")
	t.Setenv("ENT_PUBLIC_METRICS", "true")
	t.Setenv("ENT_PROFILE_RATE_LIMIT", "5")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("ENT_CHECKOUT_PRICES", "price_m=analyst/Monthly, price_a=analyst/annual,price_x=team")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ProfileRateLimit)
	assert.Equal(t, "sk_test_123", cfg.StripeSecretKey)
	assert.Equal(t, []CheckoutPrice{
		{ID: "price_m", Plan: "analyst", BillingCycle: "monthly"},
		{ID: "price_a", Plan: "analyst", BillingCycle: "annual"},
		{ID: "price_x", Plan: "team"},
	}, cfg.CheckoutPrices)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 2*time.Second, cfg.GateTimeout)
	assert.Equal(t, []string{"staff-1", "qa-*"}, cfg.Allowlist)
	assert.True(t, cfg.PublicMetrics)
}

func TestLoad_ListsAllMissing(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("ENT_ADMIN_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL, STRIPE_WEBHOOK_SECRET, ENT_ADMIN_KEY")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "port range", key: "ENT_PORT", val: "70000", want: "ENT_PORT must be between"},
		{name: "port syntax", key: "ENT_PORT", val: "eighty", want: "ENT_PORT must be a valid integer"},
		{name: "duration", key: "ENT_STORE_TIMEOUT", val: "soon", want: "ENT_STORE_TIMEOUT must be a valid duration"},
		{name: "backend", key: "ENT_STORE", val: "etcd", want: "ENT_STORE must be"},
		{name: "redis scheme", key: "REDIS_URL", val: "http://localhost:6379", want: "redis or rediss"},
		{name: "app url", key: "ENT_APP_URL", val: "ftp://geonexus.live", want: "ENT_APP_URL must use http"},
		{name: "profile rate limit", key: "ENT_PROFILE_RATE_LIMIT", val: "0", want: "ENT_PROFILE_RATE_LIMIT must be greater than 0"},
		{name: "checkout price", key: "ENT_CHECKOUT_PRICES", val: "price_m", want: "ENT_CHECKOUT_PRICES entry"},
		{name: "bool", key: "ENT_PUBLIC_METRICS", val: "maybe", want: "ENT_PUBLIC_METRICS must be true or false"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadStore_IgnoresServerSecrets(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("ENT_ADMIN_KEY", "")
	t.Setenv("ENT_STORE", "memory")

	cfg, err := LoadStore()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
}
