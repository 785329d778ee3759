package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Ticker24h fetches the rolling 24-hour statistics for a symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.call(ctx, http.MethodGet, "/api/v3/ticker/24hr", params, false)
	if err != nil {
		return nil, err
	}

	var ticker Ticker24h
	if err := json.Unmarshal(body, &ticker); err != nil {
		return nil, fmt.Errorf("decoding 24h ticker: %w", err)
	}
	return &ticker, nil
}

// LatestPrice fetches the last traded price for a symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (*PriceTicker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.call(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return nil, err
	}

	var ticker PriceTicker
	if err := json.Unmarshal(body, &ticker); err != nil {
		return nil, fmt.Errorf("decoding price ticker: %w", err)
	}
	return &ticker, nil
}

// OrderBook fetches a depth snapshot. limit follows the exchange's allowed
// tiers; zero means the exchange default.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.call(ctx, http.MethodGet, "/api/v3/depth", params, false)
	if err != nil {
		return nil, err
	}

	var book OrderBook
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("decoding order book: %w", err)
	}
	return &book, nil
}

// Klines fetches OHLCV bars for a symbol at the given interval ("1m", "1h",
// "1d", ...). limit zero means the exchange default.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.call(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var klines []Kline
	if err := json.Unmarshal(body, &klines); err != nil {
		return nil, fmt.Errorf("decoding klines: %w", err)
	}
	return klines, nil
}

// RecentTrades fetches recent public trades for a symbol.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.call(ctx, http.MethodGet, "/api/v3/trades", params, false)
	if err != nil {
		return nil, err
	}

	var trades []Trade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("decoding trades: %w", err)
	}
	return trades, nil
}

// exchangeInfoResponse is the wire shape of the metadata endpoint; filters
// arrive as a heterogeneous list keyed by filterType.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			MinPrice    string `json:"minPrice"`
			MaxPrice    string `json:"maxPrice"`
			TickSize    string `json:"tickSize"`
			MinQty      string `json:"minQty"`
			MaxQty      string `json:"maxQty"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// ExchangeInfo fetches symbol filter metadata. An empty symbol fetches the
// whole exchange. Results refresh the client's filter cache.
func (c *Client) ExchangeInfo(ctx context.Context, symbol string) ([]SymbolFilter, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.call(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding exchange info: %w", err)
	}

	filters := make([]SymbolFilter, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		f := SymbolFilter{Symbol: s.Symbol}
		for _, raw := range s.Filters {
			switch raw.FilterType {
			case "PRICE_FILTER":
				f.MinPrice = raw.MinPrice
				f.MaxPrice = raw.MaxPrice
				f.TickSize = raw.TickSize
			case "LOT_SIZE":
				f.MinQty = raw.MinQty
				f.MaxQty = raw.MaxQty
				f.StepSize = raw.StepSize
			case "MIN_NOTIONAL", "NOTIONAL":
				f.MinNotional = raw.MinNotional
			}
		}
		filters = append(filters, f)
	}

	c.filtersMu.Lock()
	for _, f := range filters {
		c.filters[f.Symbol] = f
	}
	c.filtersMu.Unlock()

	return filters, nil
}

// SymbolFilter returns the cached filter for a symbol, fetching metadata on
// a cache miss.
func (c *Client) SymbolFilter(ctx context.Context, symbol string) (SymbolFilter, error) {
	c.filtersMu.RLock()
	f, ok := c.filters[symbol]
	c.filtersMu.RUnlock()
	if ok {
		return f, nil
	}

	if _, err := c.ExchangeInfo(ctx, symbol); err != nil {
		return SymbolFilter{}, err
	}

	c.filtersMu.RLock()
	f, ok = c.filters[symbol]
	c.filtersMu.RUnlock()
	if !ok {
		return SymbolFilter{}, fmt.Errorf("no filter metadata for symbol %s", symbol)
	}
	return f, nil
}
