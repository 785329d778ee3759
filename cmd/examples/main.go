package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veiloq/trading-gateway/pkg/binance"
	"github.com/veiloq/trading-gateway/pkg/config"
	"github.com/veiloq/trading-gateway/pkg/logging"
	"github.com/veiloq/trading-gateway/pkg/marketdata"
	"github.com/veiloq/trading-gateway/pkg/ratelimit"
	"github.com/veiloq/trading-gateway/pkg/trading"
	"github.com/veiloq/trading-gateway/pkg/websocket"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger := logging.NewZapLogger(logging.WithLogLevel(logLevel(cfg.LogLevel)))

	// Signed REST client. Public endpoints work without credentials.
	client := binance.NewClient(&binance.Options{
		BaseURL: cfg.BinanceBaseURL,
		Credentials: binance.Credentials{
			APIKey:    cfg.BinanceAPIKey,
			SecretKey: cfg.BinanceAPISecret,
		},
		RecvWindow:     cfg.RecvWindow,
		Timeout:        cfg.RequestTimeout,
		MaxRetries:     uint(cfg.MaxRetries),
		RetryBaseDelay: cfg.RetryBaseDelay,
		Pacing:         ratelimit.Rate{Limit: cfg.RequestPacing, Interval: time.Second},
		Logger:         logger,
	})

	// Market data aggregator: free primary provider, keyed secondary when
	// configured.
	providers := []marketdata.Provider{marketdata.NewYahooProvider(cfg.YahooBaseURL)}
	if cfg.AlphaVantageAPIKey != "" {
		providers = append(providers, marketdata.NewAlphaVantageProvider("", cfg.AlphaVantageAPIKey))
	}
	aggregator := marketdata.NewAggregator(marketdata.Options{
		Providers:            providers,
		QuoteTTL:             cfg.QuoteTTL,
		HistoryTTL:           cfg.HistoryTTL,
		DefaultQuoteCurrency: cfg.DefaultQuoteCurrency,
		BatchConcurrency:     cfg.BatchConcurrency,
		Logger:               logger,
	})

	limiter := ratelimit.NewUserLimiter(ratelimit.UserLimits{
		RequestsPerWindow: cfg.RequestsPerWindow,
		RequestWindow:     cfg.RequestWindow,
		OrdersPerWindow:   cfg.OrdersPerWindow,
		OrderWindow:       cfg.OrderWindow,
		IdleTTL:           cfg.LimiterIdleTTL,
	})

	service := trading.NewService(limiter, client, aggregator, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// REST: latest exchange price.
	price, err := client.LatestPrice(ctx, "BTCUSDT")
	if err != nil {
		logger.Error("failed to fetch price", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("latest price",
		logging.String("symbol", price.Symbol),
		logging.String("price", price.Price),
	)

	// Aggregated quotes through the gated service.
	quotes, err := service.BatchQuotes(ctx, "demo-user", []string{"AAPL", "MSFT", "BTC"},
		marketdata.WithAssetType(marketdata.AssetStock))
	if err != nil {
		logger.Error("failed to fetch quotes", logging.Error(err))
		os.Exit(1)
	}
	for symbol, quote := range quotes {
		if quote == nil {
			logger.Warn("no quote", logging.String("symbol", symbol))
			continue
		}
		logger.Info("quote",
			logging.String("symbol", symbol),
			logging.Float64("price", quote.Price),
			logging.Float64("changePercent", quote.ChangePercent),
		)
	}

	// Realtime: multiplexed trade and ticker streams.
	manager := websocket.NewManager(websocket.Config{
		BaseURL:           cfg.StreamBaseURL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		MaxReconnects:     cfg.MaxReconnects,
		Logger:            logger,
	})
	manager.Subscribe("btcusdt@trade", func(stream string, data []byte) {
		logger.Info("trade event", logging.String("stream", stream), logging.Int("bytes", len(data)))
	})
	manager.OnTerminal(func(err error) {
		logger.Error("stream connection lost for good", logging.Error(err))
	})

	if err := manager.Connect(ctx, []string{"btcusdt@trade"}); err != nil {
		logger.Error("failed to connect stream", logging.Error(err))
		os.Exit(1)
	}
	defer manager.Disconnect()

	// Add a second stream after ten seconds without disturbing the first.
	go func() {
		time.Sleep(10 * time.Second)
		if err := manager.AddStream("ethusdt@miniTicker"); err != nil {
			logger.Warn("failed to add stream", logging.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

func logLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.DEBUG
	case "warn":
		return logging.WARN
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}
