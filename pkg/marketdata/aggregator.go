package marketdata

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc/pool"
	"github.com/veiloq/trading-gateway/pkg/logging"
)

// QuoteResult is the outcome of a quote lookup. Stale=true means the value
// came from an expired cache entry because every live provider failed; Err
// then carries the last provider error so callers can report both.
type QuoteResult struct {
	Quote *Quote
	Stale bool
	Err   error
}

// HistoryResult is the outcome of a history lookup, with the same staleness
// semantics as QuoteResult.
type HistoryResult struct {
	Bars  []Bar
	Stale bool
	Err   error
}

// Options configures an Aggregator.
type Options struct {
	// Providers are tried in order; the first success wins.
	Providers []Provider

	// QuoteTTL and HistoryTTL bound cache freshness. Defaults: 5 minutes
	// and 1 hour.
	QuoteTTL   time.Duration
	HistoryTTL time.Duration

	// DefaultQuoteCurrency suffixes bare crypto symbols and is the
	// currency conversions convert from. Default "USD".
	DefaultQuoteCurrency string

	// BatchConcurrency bounds the batch-quote fan-out. Default 8.
	BatchConcurrency int

	// Clock is injectable for tests. Default wall clock.
	Clock clock.Clock

	Logger logging.Logger
}

// Aggregator resolves quotes and history with provider fallback and a stale
// cache of last resort. Safe for concurrent use; no lock is held across a
// provider call.
type Aggregator struct {
	providers        []Provider
	cache            *Cache
	quoteTTL         time.Duration
	historyTTL       time.Duration
	defaultCurrency  string
	batchConcurrency int
	logger           logging.Logger
}

// NewAggregator creates an aggregator from options, filling in defaults.
func NewAggregator(opts Options) *Aggregator {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = 5 * time.Minute
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = time.Hour
	}
	if opts.DefaultQuoteCurrency == "" {
		opts.DefaultQuoteCurrency = "USD"
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 8
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}
	return &Aggregator{
		providers:        opts.Providers,
		cache:            NewCache(opts.Clock),
		quoteTTL:         opts.QuoteTTL,
		historyTTL:       opts.HistoryTTL,
		defaultCurrency:  opts.DefaultQuoteCurrency,
		batchConcurrency: opts.BatchConcurrency,
		logger:           opts.Logger,
	}
}

// QuoteOption adjusts a single lookup.
type QuoteOption func(*quoteOptions)

type quoteOptions struct {
	assetType AssetType
	currency  string
}

// WithAssetType sets the asset type used for symbol normalization.
func WithAssetType(t AssetType) QuoteOption {
	return func(o *quoteOptions) {
		o.assetType = t
	}
}

// WithCurrency converts the returned price into the given currency via a
// spot FX lookup through the same quote path. When the FX lookup fails the
// rate defaults to 1.0 and the price passes through unconverted.
func WithCurrency(currency string) QuoteOption {
	return func(o *quoteOptions) {
		o.currency = strings.ToUpper(currency)
	}
}

// GetQuote resolves a quote: fresh cache, then providers in order, then any
// cached value flagged stale, then the error alone.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string, opts ...QuoteOption) QuoteResult {
	o := quoteOptions{assetType: AssetStock}
	for _, opt := range opts {
		opt(&o)
	}

	normalized := a.normalizeSymbol(symbol, o.assetType)
	result := a.lookupQuote(ctx, normalized)

	if result.Quote != nil && o.currency != "" && o.currency != a.defaultCurrency {
		converted := *result.Quote
		rate := a.fxRate(ctx, o.currency)
		converted.Price = result.Quote.Price * rate
		converted.Change = result.Quote.Change * rate
		converted.Currency = o.currency
		result.Quote = &converted
	}
	return result
}

// lookupQuote is the unconverted cache/provider walk, shared with FX lookups.
func (a *Aggregator) lookupQuote(ctx context.Context, symbol string) QuoteResult {
	key := "quote:" + symbol
	if v, fresh, ok := a.cache.Get(key, a.quoteTTL); ok && fresh {
		return QuoteResult{Quote: v.(*Quote)}
	}

	var lastErr error
	for _, p := range a.providers {
		quote, err := p.Quote(ctx, symbol)
		if err != nil {
			lastErr = err
			a.logger.Warn("provider quote failed",
				logging.String("provider", p.Name()),
				logging.String("symbol", symbol),
				logging.Error(err),
			)
			continue
		}
		a.cache.Put(key, quote)
		return QuoteResult{Quote: quote}
	}

	if lastErr == nil {
		lastErr = errors.New("no market data providers configured")
	}
	if v, _, ok := a.cache.Get(key, a.quoteTTL); ok {
		a.logger.Warn("serving stale quote",
			logging.String("symbol", symbol),
			logging.Error(lastErr),
		)
		return QuoteResult{Quote: v.(*Quote), Stale: true, Err: lastErr}
	}
	return QuoteResult{Err: lastErr}
}

// GetBatchQuotes resolves symbols concurrently and independently: a failed
// symbol maps to nil and never poisons the rest of the batch. Map keys are
// the symbols as requested.
func (a *Aggregator) GetBatchQuotes(ctx context.Context, symbols []string, opts ...QuoteOption) map[string]*Quote {
	results := make(map[string]*Quote, len(symbols))
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(a.batchConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		p.Go(func() {
			var quote *Quote
			if ctx.Err() == nil {
				quote = a.GetQuote(ctx, symbol, opts...).Quote
			}
			mu.Lock()
			results[symbol] = quote
			mu.Unlock()
		})
	}
	p.Wait()
	return results
}

// GetHistory resolves a daily OHLCV series with the same fallback chain as
// GetQuote, cached per symbol and range.
func (a *Aggregator) GetHistory(ctx context.Context, symbol, rng string, opts ...QuoteOption) HistoryResult {
	o := quoteOptions{assetType: AssetStock}
	for _, opt := range opts {
		opt(&o)
	}

	normalized := a.normalizeSymbol(symbol, o.assetType)
	key := "history:" + normalized + ":" + rng
	if v, fresh, ok := a.cache.Get(key, a.historyTTL); ok && fresh {
		return HistoryResult{Bars: v.([]Bar)}
	}

	var lastErr error
	for _, p := range a.providers {
		bars, err := p.History(ctx, normalized, rng)
		if err != nil {
			lastErr = err
			a.logger.Warn("provider history failed",
				logging.String("provider", p.Name()),
				logging.String("symbol", normalized),
				logging.Error(err),
			)
			continue
		}
		a.cache.Put(key, bars)
		return HistoryResult{Bars: bars}
	}

	if lastErr == nil {
		lastErr = errors.New("no market data providers configured")
	}
	if v, _, ok := a.cache.Get(key, a.historyTTL); ok {
		return HistoryResult{Bars: v.([]Bar), Stale: true, Err: lastErr}
	}
	return HistoryResult{Err: lastErr}
}

// normalizeSymbol uppercases and, for crypto symbols without a quote suffix,
// appends the default quote currency.
func (a *Aggregator) normalizeSymbol(symbol string, asset AssetType) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if asset == AssetCrypto && !strings.Contains(s, "-") {
		s = s + "-" + a.defaultCurrency
	}
	return s
}

// fxRate resolves the spot rate for converting the default currency into
// target, via the same cache/provider path as any other quote. Failures
// fall back to 1.0 so a broken FX feed degrades to unconverted prices
// instead of an error.
func (a *Aggregator) fxRate(ctx context.Context, target string) float64 {
	rateSymbol := target + a.defaultCurrency + "=X"
	result := a.lookupQuote(ctx, rateSymbol)
	if result.Quote == nil || result.Quote.Price == 0 {
		a.logger.Warn("fx lookup failed, using rate 1.0",
			logging.String("symbol", rateSymbol),
		)
		return 1.0
	}
	return result.Quote.Price
}
