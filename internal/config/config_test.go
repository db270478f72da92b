package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parse("freightrate", nil, env(nil))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Handler.ServerAddr)
	require.Equal(t, "memory", cfg.Store.DBType)
	require.Equal(t, 15.0, cfg.Pricing.DefaultPercentage)
	require.Equal(t, 30*time.Minute, cfg.Handshake.TokenTTL)
	require.Equal(t, "USD", cfg.Provider.BaseCurrency)
	require.False(t, cfg.Provider.LTL.Enabled)
	require.Empty(t, cfg.Notify.Brokers)
}

func TestParseEnvOverridesFlags(t *testing.T) {
	cfg, err := parse("freightrate",
		[]string{"-a", ":9000", "-db", "postgres", "-rates", "EUR:1.10", "-fast-lanes", "US-MX"},
		env(map[string]string{
			"SERVER_ADDRESS":    ":9100",
			"EXCHANGE_RATES":    "eur:1.08, MXN:0.058",
			"CARRIER_TOKEN_TTL": "10m",
			"KAFKA_BROKERS":     "k1:9092,k2:9092",
			"LTL_URL":           "http://ltl.local",
		}))
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.Handler.ServerAddr)
	require.Equal(t, "postgres", cfg.Store.DBType)
	require.Equal(t, map[string]float64{"EUR": 1.08, "MXN": 0.058}, cfg.Provider.Currencies)
	require.Equal(t, []string{"US-MX"}, cfg.Aggregator.FastLanes)
	require.Equal(t, 10*time.Minute, cfg.Handshake.TokenTTL)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.Brokers)
	require.True(t, cfg.Provider.LTL.Enabled)
}

func TestParseErrors(t *testing.T) {
	_, err := parse("freightrate", nil, env(map[string]string{"EXCHANGE_RATES": "EUR"}))
	require.Error(t, err)

	_, err = parse("freightrate", nil, env(map[string]string{"EXCHANGE_RATES": "EUR:-1"}))
	require.Error(t, err)

	_, err = parse("freightrate", nil, env(map[string]string{"POLL_TIMEOUT": "soon"}))
	require.Error(t, err)

	_, err = parse("freightrate", nil, env(map[string]string{"DEFAULT_MARKUP": "x"}))
	require.Error(t, err)
}
