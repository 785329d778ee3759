package trading

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/trading-gateway/pkg/binance"
	"github.com/veiloq/trading-gateway/pkg/marketdata"
	"github.com/veiloq/trading-gateway/pkg/orders"
	"github.com/veiloq/trading-gateway/pkg/ratelimit"
)

// fakeExchange is a scripted ExchangeClient recording what reached it.
type fakeExchange struct {
	placed    []binance.OrderRequest
	placeErr  error
	cancelled []int64
	filter    binance.SymbolFilter
	filterErr error
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req binance.OrderRequest) (*binance.Order, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &binance.Order{Symbol: req.Symbol, OrderID: 1, Status: "NEW"}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	f.cancelled = append(f.cancelled, orderID)
	return &binance.Order{Symbol: symbol, OrderID: orderID, Status: "CANCELED"}, nil
}

func (f *fakeExchange) Balances(ctx context.Context) ([]binance.Balance, error) {
	return []binance.Balance{{Asset: "BTC", Free: "1.0"}}, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, symbol string) ([]binance.Order, error) {
	return nil, nil
}

func (f *fakeExchange) OrderHistory(ctx context.Context, symbol string, limit int) ([]binance.Order, error) {
	return nil, nil
}

func (f *fakeExchange) SymbolFilter(ctx context.Context, symbol string) (binance.SymbolFilter, error) {
	if f.filterErr != nil {
		return binance.SymbolFilter{}, f.filterErr
	}
	return f.filter, nil
}

// fakeQuoter is a scripted Quoter.
type fakeQuoter struct {
	result marketdata.QuoteResult
	batch  map[string]*marketdata.Quote
	calls  int
}

func (f *fakeQuoter) GetQuote(ctx context.Context, symbol string, opts ...marketdata.QuoteOption) marketdata.QuoteResult {
	f.calls++
	return f.result
}

func (f *fakeQuoter) GetBatchQuotes(ctx context.Context, symbols []string, opts ...marketdata.QuoteOption) map[string]*marketdata.Quote {
	f.calls++
	return f.batch
}

func newTestService(exchange *fakeExchange, quoter *fakeQuoter, limits ratelimit.UserLimits) *Service {
	return NewService(ratelimit.NewUserLimiter(limits), exchange, quoter, nil)
}

func defaultFilter() binance.SymbolFilter {
	return binance.SymbolFilter{
		Symbol:      "BTCUSDT",
		MinPrice:    "0.01",
		MaxPrice:    "1000000",
		TickSize:    "0.01",
		MinQty:      "0.0001",
		MaxQty:      "9000",
		StepSize:    "0.001",
		MinNotional: "10",
	}
}

func validOrder() orders.Params {
	return orders.Params{
		Symbol:   "BTCUSDT",
		Side:     "BUY",
		Type:     "LIMIT",
		Quantity: "0.12345",
		Price:    "50000.129",
	}
}

func TestServicePlaceOrder(t *testing.T) {
	t.Run("NormalizesBeforeSubmission", func(t *testing.T) {
		exchange := &fakeExchange{filter: defaultFilter()}
		svc := newTestService(exchange, &fakeQuoter{}, ratelimit.DefaultUserLimits())

		order, err := svc.PlaceOrder(context.Background(), "alice", validOrder())
		require.NoError(t, err)
		assert.Equal(t, "NEW", order.Status)

		require.Len(t, exchange.placed, 1)
		assert.Equal(t, "0.123", exchange.placed[0].Quantity)
		assert.Equal(t, "50000.12", exchange.placed[0].Price)
	})

	t.Run("InvalidParamsNeverReachExchange", func(t *testing.T) {
		exchange := &fakeExchange{filter: defaultFilter()}
		svc := newTestService(exchange, &fakeQuoter{}, ratelimit.DefaultUserLimits())

		p := validOrder()
		p.Price = ""
		_, err := svc.PlaceOrder(context.Background(), "alice", p)
		require.Error(t, err)

		assert.Equal(t, binance.KindInvalidRequest, binance.KindOf(err))
		assert.Contains(t, err.Error(), "price")
		assert.Empty(t, exchange.placed)
	})

	t.Run("FilterViolationRejectsLocally", func(t *testing.T) {
		exchange := &fakeExchange{filter: defaultFilter()}
		svc := newTestService(exchange, &fakeQuoter{}, ratelimit.DefaultUserLimits())

		p := validOrder()
		p.Quantity = "0.0001"
		p.Price = "10"
		_, err := svc.PlaceOrder(context.Background(), "alice", p)
		require.Error(t, err)

		assert.Equal(t, binance.KindInvalidRequest, binance.KindOf(err))
		assert.Empty(t, exchange.placed)
	})

	t.Run("ProceedsWithoutFilterMetadata", func(t *testing.T) {
		exchange := &fakeExchange{filterErr: errors.New("metadata endpoint down")}
		svc := newTestService(exchange, &fakeQuoter{}, ratelimit.DefaultUserLimits())

		_, err := svc.PlaceOrder(context.Background(), "alice", validOrder())
		require.NoError(t, err)

		require.Len(t, exchange.placed, 1)
		assert.Equal(t, "0.12345", exchange.placed[0].Quantity, "unreachable metadata must not block the order")
	})

	t.Run("RateLimitedBeforeValidation", func(t *testing.T) {
		exchange := &fakeExchange{filter: defaultFilter()}
		svc := newTestService(exchange, &fakeQuoter{}, ratelimit.UserLimits{
			RequestsPerWindow: 60,
			RequestWindow:     time.Minute,
			OrdersPerWindow:   1,
			OrderWindow:       time.Minute,
		})

		_, err := svc.PlaceOrder(context.Background(), "alice", validOrder())
		require.NoError(t, err)

		_, err = svc.PlaceOrder(context.Background(), "alice", validOrder())
		require.Error(t, err)

		var apiErr *binance.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, binance.KindRateLimited, apiErr.Kind)
		assert.Greater(t, apiErr.RetryAfter, time.Duration(0))
		assert.Len(t, exchange.placed, 1)
	})

	t.Run("ExchangeErrorPassesThrough", func(t *testing.T) {
		exchange := &fakeExchange{
			filter: defaultFilter(),
			placeErr: &binance.APIError{
				Kind: binance.KindProviderRejected, Code: -2010,
				Message: "order rejected (check balance and symbol rules)",
			},
		}
		svc := newTestService(exchange, &fakeQuoter{}, ratelimit.DefaultUserLimits())

		_, err := svc.PlaceOrder(context.Background(), "alice", validOrder())
		require.Error(t, err)
		assert.Equal(t, binance.KindProviderRejected, binance.KindOf(err))
	})
}

func TestServiceCancelOrder(t *testing.T) {
	exchange := &fakeExchange{}
	svc := newTestService(exchange, &fakeQuoter{}, ratelimit.DefaultUserLimits())

	order, err := svc.CancelOrder(context.Background(), "alice", "BTCUSDT", 42)
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", order.Status)
	assert.Equal(t, []int64{42}, exchange.cancelled)
}

func TestServiceQuotes(t *testing.T) {
	t.Run("PassThrough", func(t *testing.T) {
		quoter := &fakeQuoter{result: marketdata.QuoteResult{
			Quote: &marketdata.Quote{Symbol: "AAPL", Price: 150},
		}}
		svc := newTestService(&fakeExchange{}, quoter, ratelimit.DefaultUserLimits())

		result, err := svc.Quote(context.Background(), "alice", "AAPL")
		require.NoError(t, err)
		assert.Equal(t, 150.0, result.Quote.Price)
	})

	t.Run("GatedByRequestWindow", func(t *testing.T) {
		quoter := &fakeQuoter{}
		svc := newTestService(&fakeExchange{}, quoter, ratelimit.UserLimits{
			RequestsPerWindow: 1,
			RequestWindow:     time.Minute,
			OrdersPerWindow:   1,
			OrderWindow:       time.Minute,
		})

		_, err := svc.Quote(context.Background(), "alice", "AAPL")
		require.NoError(t, err)

		_, err = svc.Quote(context.Background(), "alice", "AAPL")
		require.Error(t, err)
		assert.Equal(t, binance.KindRateLimited, binance.KindOf(err))
		assert.Equal(t, 1, quoter.calls)
	})

	t.Run("Batch", func(t *testing.T) {
		quoter := &fakeQuoter{batch: map[string]*marketdata.Quote{
			"AAPL": {Symbol: "AAPL", Price: 150},
			"BAD":  nil,
		}}
		svc := newTestService(&fakeExchange{}, quoter, ratelimit.DefaultUserLimits())

		results, err := svc.BatchQuotes(context.Background(), "alice", []string{"AAPL", "BAD"})
		require.NoError(t, err)
		assert.NotNil(t, results["AAPL"])
		assert.Nil(t, results["BAD"])
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"NoError", nil, http.StatusOK},
		{"Unauthorized", &binance.APIError{Kind: binance.KindUnauthorized}, http.StatusUnauthorized},
		{"InvalidRequest", &binance.APIError{Kind: binance.KindInvalidRequest}, http.StatusBadRequest},
		{"ProviderRejected", &binance.APIError{Kind: binance.KindProviderRejected}, http.StatusBadRequest},
		{"RateLimited", &binance.APIError{Kind: binance.KindRateLimited}, http.StatusTooManyRequests},
		{"OutcomeUnknown", &binance.APIError{Kind: binance.KindOutcomeUnknown}, http.StatusGatewayTimeout},
		{"Unavailable", &binance.APIError{Kind: binance.KindUnavailable}, http.StatusBadGateway},
		{"PlainTransportError", errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}
