package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// StripeSecretKey authenticates calls to the Stripe API.
	StripeSecretKey string

	// StripeWebhookSecret verifies the Stripe-Signature header on webhook deliveries.
	StripeWebhookSecret string

	// AppBaseURL is the public origin of the web tier, used for checkout redirects.
	AppBaseURL string

	// InternalAPISecret is shared with the web tier, which forwards member identity.
	InternalAPISecret string

	// Currency is the ISO currency code for every charge. Defaults to "usd".
	Currency string

	// RedisURL enables the catalog cache when set.
	RedisURL string

	// CatalogCacheTTL is how long cached catalog reads live. Defaults to 5m.
	CatalogCacheTTL time.Duration

	// WorkerConcurrency is the number of reconciliation processors. Defaults to 2.
	WorkerConcurrency int

	// WorkerPollInterval is the idle wait between queue polls. Defaults to 2s.
	WorkerPollInterval time.Duration
}

const (
	defaultServerAddress      = ":18111"
	defaultCurrency           = "usd"
	defaultCatalogCacheTTL    = 5 * time.Minute
	defaultWorkerConcurrency  = 2
	defaultWorkerPollInterval = 2 * time.Second

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envStripeSecretKey     = "STRIPE_SECRET_KEY"
	envStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envAppBaseURL          = "APP_BASE_URL"
	envInternalAPISecret   = "INTERNAL_API_SECRET"
	envCurrency            = "CURRENCY"
	envRedisURL            = "REDIS_URL"
	envCatalogCacheTTL     = "CATALOG_CACHE_TTL"
	envWorkerConcurrency   = "WORKER_CONCURRENCY"
	envWorkerPollInterval  = "WORKER_POLL_INTERVAL"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         strings.TrimSpace(os.Getenv(envDatabaseURL)),
		StripeSecretKey:     strings.TrimSpace(os.Getenv(envStripeSecretKey)),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv(envStripeWebhookSecret)),
		AppBaseURL:          strings.TrimRight(strings.TrimSpace(os.Getenv(envAppBaseURL)), "/"),
		InternalAPISecret:   os.Getenv(envInternalAPISecret),
		Currency:            strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv(envCurrency)), defaultCurrency)),
		RedisURL:            strings.TrimSpace(os.Getenv(envRedisURL)),
	}

	required := []struct {
		name, value string
	}{
		{envDatabaseURL, cfg.DatabaseURL},
		{envStripeSecretKey, cfg.StripeSecretKey},
		{envStripeWebhookSecret, cfg.StripeWebhookSecret},
		{envAppBaseURL, cfg.AppBaseURL},
		{envInternalAPISecret, cfg.InternalAPISecret},
	}
	for _, r := range required {
		if r.value == "" {
			return Config{}, fmt.Errorf("%s is required", r.name)
		}
	}

	if err := validateBaseURL(cfg.AppBaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envAppBaseURL, err)
	}
	if len(cfg.Currency) != 3 {
		return Config{}, fmt.Errorf("invalid %s: expected a 3-letter ISO code, got %q", envCurrency, cfg.Currency)
	}

	var err error
	if cfg.CatalogCacheTTL, err = durationEnv(envCatalogCacheTTL, defaultCatalogCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.WorkerPollInterval, err = durationEnv(envWorkerPollInterval, defaultWorkerPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.WorkerConcurrency, err = intEnv(envWorkerConcurrency, defaultWorkerConcurrency); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DatabaseSummary describes the DSN as host/database for logging, without credentials.
func (c Config) DatabaseSummary() string {
	return describeDatabaseURL(c.DatabaseURL)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: expected a positive duration like 5m, got %q", name, raw)
	}
	return d, nil
}

func intEnv(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: expected a positive integer, got %q", name, raw)
	}
	return n, nil
}

func describeDatabaseURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "(unparseable DATABASE_URL)"
	}
	return parsed.Host + "/" + strings.TrimPrefix(parsed.Path, "/")
}
