// Package marketdata resolves price quotes and historical series by walking
// an ordered list of providers and falling back to a time-boxed in-memory
// cache. Staleness is always reported to the caller, never hidden: a cached
// value served because every live provider failed carries Stale=true and the
// last provider error.
package marketdata

import (
	"context"
	"time"
)

// AssetType selects symbol-normalization behavior. Crypto symbols without a
// quote-currency suffix gain the aggregator's default quote currency; other
// asset types pass through uppercased.
type AssetType string

const (
	AssetStock  AssetType = "stock"
	AssetCrypto AssetType = "crypto"
	AssetForex  AssetType = "forex"
)

// Quote is a point-in-time price for a symbol. Immutable once constructed.
type Quote struct {
	Symbol        string
	Price         float64
	Currency      string
	Change        float64
	ChangePercent float64
	Volume        int64
	Timestamp     time.Time
}

// Bar is one OHLCV data point with a calendar date. Immutable once
// constructed.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Provider fetches live market data from one upstream source. The aggregator
// tries providers in order, so adding a third source is a matter of
// appending to the list.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Quote fetches the current quote for a normalized symbol.
	Quote(ctx context.Context, symbol string) (*Quote, error)

	// History fetches a daily OHLCV series for the given range
	// ("1mo", "3mo", "1y", ...).
	History(ctx context.Context, symbol, rng string) ([]Bar, error)
}
