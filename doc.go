// Package trading-gateway provides resilient connectivity between a trading
// application and its market: a signed exchange REST client, a multiplexed
// realtime stream manager, per-user rate limiting, order validation with
// exchange-precision normalization, and a multi-provider market data
// aggregator.
//
// Core Features:
//
//   - HMAC-signed REST client with bounded retries and a typed error taxonomy
//   - Multiplexed WebSocket streams with heartbeat and automatic reconnection
//   - Per-user request and order rate limiting with retry-after reporting
//   - Order parameter validation and floor-to-increment normalization
//   - Quote aggregation with provider fallback and a stale cache of last resort
//
// The packages compose but do not depend on each other's internals; each can
// be used alone. pkg/trading wires them into a single gated surface for a web
// application.
//
// # Errors
//
// Failures from the exchange surface as *binance.APIError carrying a Kind
// that classifies the failure independent of transport detail:
//
//   - KindUnauthorized: bad or missing credentials, or a rejected signature
//
//   - KindInvalidRequest: the request itself is malformed or violates an
//     exchange rule
//
//   - KindRateLimited: the exchange or the local per-user limiter refused the
//     request; RetryAfter holds the wait when known
//
//   - KindProviderRejected: the exchange understood and declined the request
//     (insufficient balance, unknown order)
//
//   - KindUnavailable: the exchange could not serve the request; safe to
//     retry
//
//   - KindOutcomeUnknown: an order-mutating call failed in transit and may or
//     may not have executed; check order history before retrying
//
// trading.HTTPStatus maps a Kind to the response code a web handler should
// return.
//
// # Examples
//
// Fetching a signed account snapshot:
//
//	client := binance.NewClient(&binance.Options{
//	    Credentials: binance.Credentials{APIKey: key, SecretKey: secret},
//	})
//	balances, err := client.Balances(ctx)
//
// Streaming trades with automatic reconnection:
//
//	manager := websocket.NewManager(websocket.Config{
//	    BaseURL: "wss://stream.binance.com:9443",
//	})
//	manager.Subscribe("btcusdt@trade", func(stream string, data []byte) {
//	    // decode and handle the event
//	})
//	if err := manager.Connect(ctx, []string{"btcusdt@trade"}); err != nil {
//	    log.Fatal(err)
//	}
//
// Aggregated quotes with provider fallback:
//
//	agg := marketdata.NewAggregator(marketdata.Options{
//	    Providers: []marketdata.Provider{
//	        marketdata.NewYahooProvider(""),
//	        marketdata.NewAlphaVantageProvider("", apiKey),
//	    },
//	})
//	result := agg.GetQuote(ctx, "AAPL")
//	if result.Stale {
//	    log.Printf("serving cached quote: %v", result.Err)
//	}
//
// See cmd/examples for a runnable demonstration wiring every package
// together.
package tradinggateway
