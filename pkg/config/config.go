// Package config loads the gateway's tunables from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the gateway. All fields have working
// defaults except the credentials, which stay empty until set.
type Config struct {
	// Exchange REST
	BinanceAPIKey    string        `env:"BINANCE_API_KEY"`
	BinanceAPISecret string        `env:"BINANCE_API_SECRET"`
	BinanceBaseURL   string        `env:"BINANCE_BASE_URL" envDefault:"https://api.binance.com"`
	RecvWindow       time.Duration `env:"BINANCE_RECV_WINDOW" envDefault:"5s"`
	RequestTimeout   time.Duration `env:"BINANCE_REQUEST_TIMEOUT" envDefault:"15s"`
	MaxRetries       int           `env:"BINANCE_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"BINANCE_RETRY_BASE_DELAY" envDefault:"500ms"`
	RequestPacing    int           `env:"BINANCE_REQUEST_PACING" envDefault:"10"`

	// Exchange stream
	StreamBaseURL     string        `env:"BINANCE_STREAM_BASE_URL" envDefault:"wss://stream.binance.com:9443"`
	HeartbeatInterval time.Duration `env:"STREAM_HEARTBEAT_INTERVAL" envDefault:"20s"`
	ReconnectDelay    time.Duration `env:"STREAM_RECONNECT_DELAY" envDefault:"5s"`
	MaxReconnects     int           `env:"STREAM_MAX_RECONNECTS" envDefault:"5"`

	// Per-user rate limits
	RequestsPerWindow int           `env:"RATE_REQUESTS_PER_WINDOW" envDefault:"60"`
	RequestWindow     time.Duration `env:"RATE_REQUEST_WINDOW" envDefault:"1m"`
	OrdersPerWindow   int           `env:"RATE_ORDERS_PER_WINDOW" envDefault:"10"`
	OrderWindow       time.Duration `env:"RATE_ORDER_WINDOW" envDefault:"1m"`
	LimiterIdleTTL    time.Duration `env:"RATE_IDLE_TTL" envDefault:"30m"`

	// Market data
	AlphaVantageAPIKey   string        `env:"ALPHAVANTAGE_API_KEY"`
	YahooBaseURL         string        `env:"YAHOO_BASE_URL"`
	QuoteTTL             time.Duration `env:"MARKETDATA_QUOTE_TTL" envDefault:"5m"`
	HistoryTTL           time.Duration `env:"MARKETDATA_HISTORY_TTL" envDefault:"1h"`
	DefaultQuoteCurrency string        `env:"MARKETDATA_DEFAULT_CURRENCY" envDefault:"USD"`
	BatchConcurrency     int           `env:"MARKETDATA_BATCH_CONCURRENCY" envDefault:"8"`

	// Observability
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadFromEnv parses the configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return cfg, nil
}

// Validate checks the parsed values for internal consistency.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RequestsPerWindow < 1 || c.OrdersPerWindow < 1 {
		return fmt.Errorf("rate limits must be at least 1 per window")
	}
	if c.RequestWindow <= 0 || c.OrderWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", c.BatchConcurrency)
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}
