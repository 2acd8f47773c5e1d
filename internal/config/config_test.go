package config

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":           "postgres://localhost/academy",
		"REDIS_URL":              "redis://localhost:6379/0",
		"JWT_SECRET":             "jwt-secret",
		"RAZORPAY_KEY_ID":        "rzp_test_key",
		"RAZORPAY_KEY_SECRET":    "rzp-secret",
		"REGISTRATION_FEE_MINOR": "",
		"REGISTRATION_CURRENCY":  "",
		"COOKIE_SAMESITE":        "",
		"RATE_LIMIT_STRATEGY":    "",
		"OBS_METRICS_NAMESPACE":  "",
		"OBS_ENABLE_TRACING":     "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, int64(19900), cfg.RegistrationFeeMinor)
	require.Equal(t, "INR", cfg.RegistrationCurrency)
	require.Equal(t, http.SameSiteLaxMode, cfg.CookieSameSite)
	require.Equal(t, "sliding", cfg.RateLimitStrategy)
	require.Equal(t, 72*time.Hour, cfg.PaymentReplayTTL)
	require.Equal(t, "rzp-secret", cfg.RazorpayKeySecret)
	require.Equal(t, "academy", cfg.Obs.MetricsNamespace)
	require.False(t, cfg.Obs.EnableTracing)
	require.True(t, cfg.Obs.EnablePrometheus)
}

func TestLoadMissingGatewaySecretIsFatal(t *testing.T) {
	env := baseEnv()
	env["RAZORPAY_KEY_SECRET"] = ""
	_, err := LoadForTests(env)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRequired))
	require.Contains(t, err.Error(), "RAZORPAY_KEY_SECRET")
}

func TestLoadRequiredSettings(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET"} {
		t.Run(key, func(t *testing.T) {
			env := baseEnv()
			env[key] = ""
			_, err := LoadForTests(env)
			require.ErrorIs(t, err, ErrRequired)
		})
	}
}

func TestLoadChargeOverrides(t *testing.T) {
	env := baseEnv()
	env["REGISTRATION_FEE_MINOR"] = "50000"
	env["REGISTRATION_CURRENCY"] = "usd"
	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, int64(50000), cfg.RegistrationFeeMinor)
	require.Equal(t, "USD", cfg.RegistrationCurrency)

	env["REGISTRATION_FEE_MINOR"] = "-1"
	_, err = LoadForTests(env)
	require.Error(t, err)

	env["REGISTRATION_FEE_MINOR"] = "100"
	env["REGISTRATION_CURRENCY"] = "RUPEE"
	_, err = LoadForTests(env)
	require.Error(t, err)
}

func TestHTTPAddr(t *testing.T) {
	require.Equal(t, ":9000", (&Config{Port: "9000"}).HTTPAddr())
	require.Equal(t, ":7000", (&Config{Port: ":7000"}).HTTPAddr())
	require.Equal(t, ":8080", (&Config{}).HTTPAddr())
}
