package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// Balances fetches the account's asset balances. Zero balances are dropped.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	body, err := c.call(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}

	var account struct {
		Balances []Balance `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}

	balances := make([]Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		if b.Free == "0.00000000" && b.Locked == "0.00000000" {
			continue
		}
		balances = append(balances, b)
	}
	return balances, nil
}

// PlaceOrder submits a new order. It attempts exactly once: a timeout here
// is ambiguous and surfaces KindOutcomeUnknown rather than risking a
// duplicate order. A client order ID is generated when the caller did not
// supply one, so a deliberate resubmit is idempotent on the exchange side.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	if req.Quantity != "" {
		params.Set("quantity", req.Quantity)
	}
	if req.Price != "" {
		params.Set("price", req.Price)
	}
	if req.StopPrice != "" {
		params.Set("stopPrice", req.StopPrice)
	}
	if req.Price != "" {
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	params.Set("newClientOrderId", clientOrderID)

	body, err := c.callOnce(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decoding order: %w", err)
	}
	return &order, nil
}

// CancelOrder cancels an open order by exchange order ID. Like PlaceOrder it
// attempts exactly once.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.callOnce(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decoding cancel response: %w", err)
	}
	return &order, nil
}

// OpenOrders lists the user's open orders. An empty symbol lists all open
// orders across symbols.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.call(ctx, http.MethodGet, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decoding open orders: %w", err)
	}
	return orders, nil
}

// OrderHistory lists the user's orders for a symbol, most recent last.
func (c *Client) OrderHistory(ctx context.Context, symbol string, limit int) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.call(ctx, http.MethodGet, "/api/v3/allOrders", params, true)
	if err != nil {
		return nil, err
	}

	var orders []Order
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decoding order history: %w", err)
	}
	return orders, nil
}

// TradeHistory lists the user's fills for a symbol.
func (c *Client) TradeHistory(ctx context.Context, symbol string, limit int) ([]AccountTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.call(ctx, http.MethodGet, "/api/v3/myTrades", params, true)
	if err != nil {
		return nil, err
	}

	var trades []AccountTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("decoding trade history: %w", err)
	}
	return trades, nil
}
