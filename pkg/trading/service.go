// Package trading is the inbound surface the surrounding application calls.
// Every trading action passes the per-user rate gate, then local validation,
// and only then the signed client — a rate denial or validation failure
// never reaches the network. Errors come back as kind-carrying APIErrors;
// HTTPStatus maps them to response codes.
package trading

import (
	"context"
	"net/http"
	"strings"

	"github.com/veiloq/trading-gateway/pkg/binance"
	"github.com/veiloq/trading-gateway/pkg/logging"
	"github.com/veiloq/trading-gateway/pkg/marketdata"
	"github.com/veiloq/trading-gateway/pkg/orders"
	"github.com/veiloq/trading-gateway/pkg/ratelimit"
)

// ExchangeClient is the slice of the signed client the service uses.
// Declared here so tests can substitute a scripted fake.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, req binance.OrderRequest) (*binance.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error)
	Balances(ctx context.Context) ([]binance.Balance, error)
	OpenOrders(ctx context.Context, symbol string) ([]binance.Order, error)
	OrderHistory(ctx context.Context, symbol string, limit int) ([]binance.Order, error)
	SymbolFilter(ctx context.Context, symbol string) (binance.SymbolFilter, error)
}

// Quoter is the slice of the market data aggregator the service uses.
type Quoter interface {
	GetQuote(ctx context.Context, symbol string, opts ...marketdata.QuoteOption) marketdata.QuoteResult
	GetBatchQuotes(ctx context.Context, symbols []string, opts ...marketdata.QuoteOption) map[string]*marketdata.Quote
}

// Service gates and composes the gateway's subsystems for one exchange
// account per user. Safe for concurrent use.
type Service struct {
	limiter *ratelimit.UserLimiter
	client  ExchangeClient
	quotes  Quoter
	logger  logging.Logger
}

// NewService creates the service.
func NewService(limiter *ratelimit.UserLimiter, client ExchangeClient, quotes Quoter, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Service{
		limiter: limiter,
		client:  client,
		quotes:  quotes,
		logger:  logger,
	}
}

// PlaceOrder validates and submits a new order for a user. Validation
// failures and rate denials resolve locally; the order only reaches the
// exchange once its parameters are normalized to the symbol's filters.
func (s *Service) PlaceOrder(ctx context.Context, userID string, params orders.Params) (*binance.Order, error) {
	if err := s.gateOrder(userID); err != nil {
		return nil, err
	}

	if result := orders.Validate(params); !result.Valid {
		return nil, invalidRequest(result.Errors)
	}

	// Filter metadata is best-effort: an unreachable metadata endpoint
	// must not block an otherwise valid order.
	if filter, err := s.client.SymbolFilter(ctx, params.Symbol); err == nil {
		normalized, result := orders.ApplyFilters(params, orders.Filter{
			MinPrice:    filter.MinPrice,
			MaxPrice:    filter.MaxPrice,
			TickSize:    filter.TickSize,
			MinQty:      filter.MinQty,
			MaxQty:      filter.MaxQty,
			StepSize:    filter.StepSize,
			MinNotional: filter.MinNotional,
		})
		if !result.Valid {
			return nil, invalidRequest(result.Errors)
		}
		params = normalized
	} else {
		s.logger.Warn("placing order without filter metadata",
			logging.String("symbol", params.Symbol),
			logging.Error(err),
		)
	}

	return s.client.PlaceOrder(ctx, binance.OrderRequest{
		Symbol:    params.Symbol,
		Side:      params.Side,
		Type:      params.Type,
		Quantity:  params.Quantity,
		Price:     params.Price,
		StopPrice: params.StopPrice,
	})
}

// CancelOrder cancels a user's open order.
func (s *Service) CancelOrder(ctx context.Context, userID, symbol string, orderID int64) (*binance.Order, error) {
	if err := s.gateOrder(userID); err != nil {
		return nil, err
	}
	return s.client.CancelOrder(ctx, symbol, orderID)
}

// Balances fetches a user's asset balances.
func (s *Service) Balances(ctx context.Context, userID string) ([]binance.Balance, error) {
	if err := s.gateUser(userID); err != nil {
		return nil, err
	}
	return s.client.Balances(ctx)
}

// OpenOrders lists a user's open orders.
func (s *Service) OpenOrders(ctx context.Context, userID, symbol string) ([]binance.Order, error) {
	if err := s.gateUser(userID); err != nil {
		return nil, err
	}
	return s.client.OpenOrders(ctx, symbol)
}

// OrderHistory lists a user's past orders for a symbol.
func (s *Service) OrderHistory(ctx context.Context, userID, symbol string, limit int) ([]binance.Order, error) {
	if err := s.gateUser(userID); err != nil {
		return nil, err
	}
	return s.client.OrderHistory(ctx, symbol, limit)
}

// Quote resolves a price quote through the aggregator. The result's Stale
// and Err fields are the caller's to branch on.
func (s *Service) Quote(ctx context.Context, userID, symbol string, opts ...marketdata.QuoteOption) (marketdata.QuoteResult, error) {
	if err := s.gateUser(userID); err != nil {
		return marketdata.QuoteResult{}, err
	}
	return s.quotes.GetQuote(ctx, symbol, opts...), nil
}

// BatchQuotes resolves multiple symbols through the aggregator.
func (s *Service) BatchQuotes(ctx context.Context, userID string, symbols []string, opts ...marketdata.QuoteOption) (map[string]*marketdata.Quote, error) {
	if err := s.gateUser(userID); err != nil {
		return nil, err
	}
	return s.quotes.GetBatchQuotes(ctx, symbols, opts...), nil
}

func (s *Service) gateUser(userID string) error {
	decision := s.limiter.CheckUser(userID)
	if decision.Allowed {
		return nil
	}
	return rateLimited(decision)
}

func (s *Service) gateOrder(userID string) error {
	decision := s.limiter.CheckOrder(userID)
	if decision.Allowed {
		return nil
	}
	return rateLimited(decision)
}

func rateLimited(d ratelimit.Decision) error {
	return &binance.APIError{
		Kind:       binance.KindRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: d.RetryAfter,
	}
}

func invalidRequest(errs []string) error {
	return &binance.APIError{
		Kind:    binance.KindInvalidRequest,
		Message: strings.Join(errs, "; "),
	}
}

// HTTPStatus maps an error's kind to the response code the surrounding web
// application should return. KindOutcomeUnknown maps to 504 so the UI can
// tell the user to check order history rather than silently retrying.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch binance.KindOf(err) {
	case binance.KindUnauthorized:
		return http.StatusUnauthorized
	case binance.KindInvalidRequest, binance.KindProviderRejected:
		return http.StatusBadRequest
	case binance.KindRateLimited:
		return http.StatusTooManyRequests
	case binance.KindOutcomeUnknown:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
