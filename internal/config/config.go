package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/toko-rates/internal/pricing"
	"github.com/noah-isme/toko-rates/internal/shipping"
	"github.com/noah-isme/toko-rates/internal/tax"
)

// Quote cache backends.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheOff    = "off"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	SnapshotFile       string
	RedisURL           string
	CORSAllowedOrigins []string
	AdminToken         string

	Currency          pricing.Currency
	OverweightPolicy  shipping.OverweightPolicy
	TaxSettings       tax.Settings
	QuoteTimeout      time.Duration
	QuoteCacheTTL     time.Duration
	QuoteCacheBackend string
	SnapshotRefresh   time.Duration
	InvalidationTopic string
	RateLimitQuotes   string

	LoaderMaxAttempts    int
	LoaderBackoff        time.Duration
	LoaderTimeout        time.Duration
	LoaderBreakerOpenFor time.Duration

	LogFormat      string
	LogLevel       string
	ServiceName    string
	MetricsEnabled bool
	OTLPEndpoint   string
	TraceSampling  float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	minor, err := strconv.Atoi(valueOrDefault(k.String("CURRENCY_MINOR_UNITS"), "2"))
	if err != nil || minor < 0 {
		return nil, fmt.Errorf("CURRENCY_MINOR_UNITS must be a non-negative integer")
	}
	policy, err := shipping.ParseOverweightPolicy(k.String("OVERWEIGHT_POLICY"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		SnapshotFile:       strings.TrimSpace(k.String("SNAPSHOT_FILE")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		AdminToken:         strings.TrimSpace(k.String("ADMIN_TOKEN")),
		Currency: pricing.Currency{
			Code:       strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "USD")),
			MinorUnits: int32(minor),
		},
		OverweightPolicy:     policy,
		QuoteTimeout:         parseDuration(k.String("QUOTE_TIMEOUT"), "2s"),
		QuoteCacheTTL:        parseDuration(k.String("QUOTE_CACHE_TTL"), "10m"),
		QuoteCacheBackend:    strings.ToLower(valueOrDefault(k.String("QUOTE_CACHE_BACKEND"), CacheRedis)),
		SnapshotRefresh:      parseDuration(k.String("SNAPSHOT_REFRESH_INTERVAL"), "0s"),
		InvalidationTopic:    valueOrDefault(k.String("INVALIDATION_CHANNEL"), "rates:invalidate"),
		RateLimitQuotes:      valueOrDefault(k.String("RATE_LIMIT_QUOTES"), "120-M"),
		LoaderMaxAttempts:    parseInt(k.String("LOADER_MAX_ATTEMPTS"), 3),
		LoaderBackoff:        parseDuration(k.String("LOADER_BACKOFF_BASE"), "200ms"),
		LoaderTimeout:        parseDuration(k.String("LOADER_TIMEOUT"), "5s"),
		LoaderBreakerOpenFor: parseDuration(k.String("LOADER_BREAKER_OPEN_FOR"), "30s"),
		LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		ServiceName:          valueOrDefault(k.String("OBS_SERVICE_NAME"), "toko-rates"),
		MetricsEnabled:       parseBoolDefault(k.String("OBS_METRICS_ENABLED"), true),
		OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TraceSampling:        parseFloat(k.String("OBS_TRACE_SAMPLING"), 0.1),
	}

	cfg.TaxSettings = tax.Settings{
		PricesIncludeTax:    parseBool(k.String("TAX_PRICES_INCLUDE_TAX")),
		CalculateTaxBasedOn: tax.Basis(strings.ToLower(k.String("TAX_BASED_ON"))),
		ShippingTaxClass:    valueOrDefault(k.String("TAX_SHIPPING_CLASS"), tax.ShippingClassInherit),
		DisplayPricesInShop: tax.DisplayMode(strings.ToLower(k.String("TAX_DISPLAY_SHOP"))),
		DisplayPricesInCart: tax.DisplayMode(strings.ToLower(k.String("TAX_DISPLAY_CART"))),
		RoundAtSubtotal:     parseBool(k.String("TAX_ROUND_AT_SUBTOTAL")),
		StoreAddress: tax.Destination{
			Country:  strings.ToUpper(strings.TrimSpace(k.String("STORE_COUNTRY"))),
			State:    strings.TrimSpace(k.String("STORE_STATE")),
			Postcode: strings.TrimSpace(k.String("STORE_POSTCODE")),
		},
	}
	if err := cfg.TaxSettings.Validate(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" && cfg.SnapshotFile == "" {
		return nil, errors.New("one of DATABASE_URL or SNAPSHOT_FILE is required")
	}
	switch cfg.QuoteCacheBackend {
	case CacheRedis, CacheMemory, CacheOff:
	default:
		return nil, fmt.Errorf("QUOTE_CACHE_BACKEND must be redis, memory or off, got %q", cfg.QuoteCacheBackend)
	}
	if cfg.QuoteCacheBackend == CacheRedis && cfg.RedisURL == "" {
		cfg.QuoteCacheBackend = CacheMemory
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
