package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, "https://api.binance.com", cfg.BinanceBaseURL)
		assert.Equal(t, 5*time.Second, cfg.RecvWindow)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 60, cfg.RequestsPerWindow)
		assert.Equal(t, 10, cfg.OrdersPerWindow)
		assert.Equal(t, 5*time.Minute, cfg.QuoteTTL)
		assert.Equal(t, "USD", cfg.DefaultQuoteCurrency)
		assert.Equal(t, "info", cfg.LogLevel)

		assert.NoError(t, cfg.Validate())
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("BINANCE_MAX_RETRIES", "5")
		t.Setenv("RATE_ORDERS_PER_WINDOW", "25")
		t.Setenv("STREAM_RECONNECT_DELAY", "2s")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)

		assert.Equal(t, 5, cfg.MaxRetries)
		assert.Equal(t, 25, cfg.OrdersPerWindow)
		assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
		assert.Equal(t, "debug", cfg.LogLevel)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		return cfg
	}

	t.Run("RejectsZeroRateLimit", func(t *testing.T) {
		cfg := base()
		cfg.OrdersPerWindow = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("RejectsBadLogLevel", func(t *testing.T) {
		cfg := base()
		cfg.LogLevel = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("RejectsNonPositiveWindow", func(t *testing.T) {
		cfg := base()
		cfg.RequestWindow = 0
		assert.Error(t, cfg.Validate())
	})
}
