package binance

import (
	"encoding/json"
	"fmt"
)

// Ticker24h is the rolling 24-hour statistics for a symbol. Prices and
// volumes stay strings; callers that need arithmetic parse them into
// decimals at the boundary where precision matters.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	OpenTime           int64  `json:"openTime"`
	CloseTime          int64  `json:"closeTime"`
}

// PriceTicker is the latest traded price for a symbol.
type PriceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// OrderBook is a depth snapshot. Levels are [price, quantity] string pairs
// exactly as the exchange delivers them.
type OrderBook struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// Kline is one OHLCV bar.
type Kline struct {
	OpenTime  int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	CloseTime int64
}

// UnmarshalJSON decodes the exchange's positional kline array.
func (k *Kline) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 7 {
		return fmt.Errorf("kline array too short: %d fields", len(raw))
	}
	fields := []struct {
		idx int
		dst interface{}
	}{
		{0, &k.OpenTime},
		{1, &k.Open},
		{2, &k.High},
		{3, &k.Low},
		{4, &k.Close},
		{5, &k.Volume},
		{6, &k.CloseTime},
	}
	for _, f := range fields {
		if err := json.Unmarshal(raw[f.idx], f.dst); err != nil {
			return fmt.Errorf("kline field %d: %w", f.idx, err)
		}
	}
	return nil
}

// Trade is one public trade.
type Trade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Quantity     string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

// SymbolFilter is the per-symbol trading constraints from the exchange
// metadata endpoint: price band and tick, quantity band and step, and the
// minimum order notional. Read-only reference data for the order validator.
type SymbolFilter struct {
	Symbol      string
	MinPrice    string
	MaxPrice    string
	TickSize    string
	MinQty      string
	MaxQty      string
	StepSize    string
	MinNotional string
}

// Balance is one asset's free and locked amounts.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Order is the exchange's order object, returned by order placement, cancel,
// and history endpoints.
type Order struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	Time          int64  `json:"time"`
	TransactTime  int64  `json:"transactTime"`
}

// OrderRequest is the caller-facing shape for new orders. Numeric fields are
// strings so callers can carry exact decimals end to end.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	Price         string
	StopPrice     string
	TimeInForce   string
	ClientOrderID string
}

// AccountTrade is one of the user's own fills.
type AccountTrade struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Quantity        string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}
