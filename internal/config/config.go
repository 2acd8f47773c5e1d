package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ErrRequired marks a missing mandatory setting. The process must not start without it.
var ErrRequired = errors.New("required setting missing")

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	AcademyName        string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string
	AccessTokenTTL     time.Duration
	AccessCookieName   string
	CookieDomain       string
	CookieSecure       bool
	CookieSameSite     http.SameSite
	BodyLimitBytes     int64
	AuditEnabled       bool
	IdempotencyTTL     time.Duration

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayBaseURL       string
	RazorpayFetchPayments bool
	RegistrationFeeMinor  int64
	RegistrationCurrency  string
	PaymentReplayTTL      time.Duration

	GatewayTimeout        time.Duration
	GatewayRetryBase      time.Duration
	GatewayRetryAttempts  int
	GatewayRetryJitter    float64
	GatewayBreakerMinReq  int
	GatewayBreakerRatio   float64
	GatewayBreakerOpenFor time.Duration

	RateLimitStrategy     string
	RateLimitLoginMax     int
	RateLimitLoginWindow  time.Duration
	RateLimitPublicMax    int
	RateLimitPublicWindow time.Duration

	WorkerConcurrency int
	ReconcileDelay    time.Duration
	LockTTL           time.Duration
	LockRetryBackoff  time.Duration

	Obs Obs
}

// Obs configures logging, metrics and tracing.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	EnablePrometheus bool
	EnableTracing    bool
	EnablePprof      bool
	PprofUser        string
	PprofPass        string
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		AcademyName:        valueOrDefault(k.String("ACADEMY_NAME"), "Kabaddi Academy"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "academy-api"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "academy-admin"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		AccessTokenTTL:     parseDuration(k.String("ACCESS_TOKEN_TTL"), "30m"),
		AccessCookieName:   valueOrDefault(k.String("ACCESS_COOKIE_NAME"), "academy_access"),
		CookieDomain:       strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:       parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite:     parseSameSite(k.String("COOKIE_SAMESITE")),
		BodyLimitBytes:     parseInt64(k.String("BODY_LIMIT_BYTES"), 1<<20),
		AuditEnabled:       parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		RazorpayKeyID:         strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
		RazorpayKeySecret:     strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
		RazorpayBaseURL:       valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com"),
		RazorpayFetchPayments: parseBool(k.String("RAZORPAY_FETCH_PAYMENTS")),
		RegistrationFeeMinor:  parseInt64(k.String("REGISTRATION_FEE_MINOR"), 19900),
		RegistrationCurrency:  strings.ToUpper(valueOrDefault(k.String("REGISTRATION_CURRENCY"), "INR")),
		PaymentReplayTTL:      parseDuration(k.String("PAYMENT_REPLAY_TTL"), "72h"),

		GatewayTimeout:        parseDuration(k.String("GATEWAY_TIMEOUT"), "5s"),
		GatewayRetryBase:      parseDuration(k.String("GATEWAY_RETRY_BASE"), "200ms"),
		GatewayRetryAttempts:  int(parseInt64(k.String("GATEWAY_RETRY_ATTEMPTS"), 3)),
		GatewayRetryJitter:    parseFloat(k.String("GATEWAY_RETRY_JITTER"), 0.2),
		GatewayBreakerMinReq:  int(parseInt64(k.String("GATEWAY_BREAKER_MIN_REQUESTS"), 10)),
		GatewayBreakerRatio:   parseFloat(k.String("GATEWAY_BREAKER_FAILURE_RATIO"), 0.5),
		GatewayBreakerOpenFor: parseDuration(k.String("GATEWAY_BREAKER_OPEN_FOR"), "30s"),

		RateLimitStrategy:     strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_STRATEGY"), "sliding")),
		RateLimitLoginMax:     int(parseInt64(k.String("RATE_LIMIT_LOGIN_MAX"), 5)),
		RateLimitLoginWindow:  parseDuration(k.String("RATE_LIMIT_LOGIN_WINDOW"), "1m"),
		RateLimitPublicMax:    int(parseInt64(k.String("RATE_LIMIT_PUBLIC_MAX"), 30)),
		RateLimitPublicWindow: parseDuration(k.String("RATE_LIMIT_PUBLIC_WINDOW"), "1m"),

		WorkerConcurrency: int(parseInt64(k.String("WORKER_CONCURRENCY"), 5)),
		ReconcileDelay:    parseDuration(k.String("RECONCILE_DELAY"), "30s"),
		LockTTL:           parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:  parseDuration(k.String("LOCK_RETRY_BACKOFF"), "100ms"),

		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "academy"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
			EnablePprof:      parseBoolDefault(k.String("OBS_ENABLE_PPROF"), false),
			PprofUser:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:        strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL", ErrRequired)
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("%w: REDIS_URL", ErrRequired)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET", ErrRequired)
	}
	if cfg.RazorpayKeySecret == "" {
		return nil, fmt.Errorf("%w: RAZORPAY_KEY_SECRET", ErrRequired)
	}
	if cfg.RegistrationFeeMinor <= 0 {
		return nil, fmt.Errorf("REGISTRATION_FEE_MINOR must be positive, got %d", cfg.RegistrationFeeMinor)
	}
	if len(cfg.RegistrationCurrency) != 3 {
		return nil, fmt.Errorf("REGISTRATION_CURRENCY must be a 3-letter code, got %q", cfg.RegistrationCurrency)
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

// IsProduction reports whether the app runs with production defaults.
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

func parseInt64(value string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
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

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
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
