// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all configuration for the entitlement service.
type Config struct {
	BindAddress string
	Port        int
	LogLevel    string
	LogFormat   string

	StoreBackend string
	RedisURL     string
	KeyPrefix    string
	StoreTimeout time.Duration

	StripeWebhookSecret string
	StripeSecretKey     string // optional; checkout sessions are disabled when empty
	CheckoutPrices      []CheckoutPrice
	AdminKey            string // plain text or bcrypt hash

	Allowlist     []string
	AllowlistFile string
	GateTimeout   time.Duration

	PostmarkToken string // optional; emails are logged when empty
	EmailFrom     string
	AppURL        string

	PublicMetrics    bool
	RateLimit        int // check-subscription requests per minute per client
	ProfileRateLimit int // profile and checkout requests per minute per client
}

// CheckoutPrice maps a Stripe price ID to the plan and billing cycle it sells.
type CheckoutPrice struct {
	ID           string
	Plan         string
	BillingCycle string
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Load reads the full server configuration. A .env file is loaded if
// present but not required.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadStore reads configuration for operator commands, which only need the
// store settings.
func LoadStore() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateStore(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("ENT_PORT", 8080)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("ENT_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	profileRateLimit, err := envOrDefaultInt("ENT_PROFILE_RATE_LIMIT", 30)
	if err != nil {
		return nil, err
	}
	prices, err := parseCheckoutPrices(os.Getenv("ENT_CHECKOUT_PRICES"))
	if err != nil {
		return nil, err
	}
	storeTimeout, err := envOrDefaultDuration("ENT_STORE_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, err
	}
	gateTimeout, err := envOrDefaultDuration("ENT_GATE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	publicMetrics, err := envOrDefaultBool("ENT_PUBLIC_METRICS", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		BindAddress:         envOrDefault("ENT_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		LogLevel:            envOrDefault("ENT_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("ENT_LOG_FORMAT", "auto"),
		StoreBackend:        strings.ToLower(envOrDefault("ENT_STORE", StoreRedis)),
		RedisURL:            strings.TrimSpace(os.Getenv("REDIS_URL")),
		KeyPrefix:           strings.TrimSpace(os.Getenv("ENT_KEY_PREFIX")),
		StoreTimeout:        storeTimeout,
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		CheckoutPrices:      prices,
		AdminKey:            strings.TrimSpace(os.Getenv("ENT_ADMIN_KEY")),
		Allowlist:           splitList(os.Getenv("ENT_ALLOWLIST")),
		AllowlistFile:       strings.TrimSpace(os.Getenv("ENT_ALLOWLIST_FILE")),
		GateTimeout:         gateTimeout,
		PostmarkToken:       strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("ENT_EMAIL_FROM", "noreply@geonexus.live"),
		AppURL:              envOrDefault("ENT_APP_URL", "https://geonexus.live"),
		PublicMetrics:       publicMetrics,
		RateLimit:           rateLimit,
		ProfileRateLimit:    profileRateLimit,
	}, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.StoreBackend == StoreRedis && c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.AdminKey == "" {
		missing = append(missing, "ENT_ADMIN_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("ENT_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("ENT_RATE_LIMIT must be greater than 0, got %d", c.RateLimit)
	}
	if c.ProfileRateLimit <= 0 {
		return fmt.Errorf("ENT_PROFILE_RATE_LIMIT must be greater than 0, got %d", c.ProfileRateLimit)
	}
	if c.GateTimeout <= 0 {
		return fmt.Errorf("ENT_GATE_TIMEOUT must be positive, got %s", c.GateTimeout)
	}

	parsedAppURL, err := url.Parse(c.AppURL)
	if err != nil {
		return fmt.Errorf("ENT_APP_URL must be a valid URL: %w", err)
	}
	if parsedAppURL.Scheme != "http" && parsedAppURL.Scheme != "https" {
		return fmt.Errorf("ENT_APP_URL must use http or https scheme")
	}
	return c.validateStore()
}

func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("missing required environment variables: REDIS_URL")
		}
		u, err := url.Parse(c.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL must be a valid URL: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("REDIS_URL must use redis or rediss scheme")
		}
	default:
		return fmt.Errorf("ENT_STORE must be %q or %q, got %q", StoreRedis, StoreMemory, c.StoreBackend)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("ENT_STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be true or false: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

// parseCheckoutPrices reads entries of the form price_id=plan or
// price_id=plan/cycle.
func parseCheckoutPrices(v string) ([]CheckoutPrice, error) {
	var out []CheckoutPrice
	for _, entry := range splitList(v) {
		id, rest, ok := strings.Cut(entry, "=")
		id, rest = strings.TrimSpace(id), strings.TrimSpace(rest)
		if !ok || id == "" || rest == "" {
			return nil, fmt.Errorf("ENT_CHECKOUT_PRICES entry %q must be price_id=plan[/cycle]", entry)
		}
		plan, cycle, _ := strings.Cut(rest, "/")
		out = append(out, CheckoutPrice{
			ID:           id,
			Plan:         strings.TrimSpace(plan),
			BillingCycle: strings.ToLower(strings.TrimSpace(cycle)),
		})
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
