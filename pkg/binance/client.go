// Package binance implements the signed REST client for the exchange. It
// owns request canonicalization and signing, bounded retry with exponential
// backoff, outbound pacing, and the mapping of provider error codes into the
// typed taxonomy in errors.go. Typed endpoint helpers live in market.go
// (public) and account.go (signed).
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/veiloq/trading-gateway/pkg/logging"
	"github.com/veiloq/trading-gateway/pkg/ratelimit"
)

// Credentials is a user's API key pair. The secret is only ever used to
// compute signatures and is never logged.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Options configures a Client.
type Options struct {
	// BaseURL is the REST endpoint root, without a trailing slash.
	BaseURL string

	// Credentials authenticate signed calls. Public calls work without.
	Credentials Credentials

	// RecvWindow is the clock-skew tolerance sent with signed requests.
	RecvWindow time.Duration

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// MaxRetries is the total attempt ceiling for retryable failures
	// (429, 5xx, transport errors). Order-mutating calls ignore it and
	// attempt exactly once.
	MaxRetries uint

	// RetryBaseDelay is the backoff base; attempt n waits base * 2^n.
	RetryBaseDelay time.Duration

	// Pacing smooths outbound requests so the process as a whole stays
	// under the exchange's IP-level limits.
	Pacing ratelimit.Rate

	Logger logging.Logger
}

// DefaultOptions returns production defaults against the public endpoint.
func DefaultOptions() *Options {
	return &Options{
		BaseURL:        "https://api.binance.com",
		RecvWindow:     5 * time.Second,
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		Pacing:         ratelimit.Rate{Limit: 10, Interval: time.Second},
		Logger:         logging.NewLogger(),
	}
}

// Client executes authenticated and public REST calls against the exchange.
// It is safe for concurrent use; no lock is held across a network call.
type Client struct {
	opts       *Options
	httpClient *http.Client
	limiter    ratelimit.RateLimiter
	logger     logging.Logger
	now        func() time.Time

	filtersMu sync.RWMutex
	filters   map[string]SymbolFilter
}

// NewClient creates a Client with the given options, filling in defaults for
// zero-valued fields.
func NewClient(opts *Options) *Client {
	defaults := DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = defaults.RecvWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if opts.Pacing.Limit <= 0 || opts.Pacing.Interval <= 0 {
		opts.Pacing = defaults.Pacing
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: ratelimit.NewTokenBucketLimiter(opts.Pacing),
		logger:  opts.Logger,
		now:     time.Now,
		filters: make(map[string]SymbolFilter),
	}
}

// call executes a request with the retry budget. Retries are strictly
// sequential, and only clearly retryable conditions (429, 5xx, transport
// failure) consume additional attempts; any other 4xx fails on the first.
func (c *Client) call(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			b, err := c.doOnce(ctx, method, path, params, signed, attempt)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(c.opts.MaxRetries),
		retry.Delay(c.opts.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying exchange call",
				logging.String("method", method),
				logging.String("endpoint", path),
				logging.Int("attempt", int(n+1)),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// callOnce executes an order-mutating request with exactly one attempt. A
// transport-level failure is ambiguous — the order may have reached the
// exchange — so it surfaces KindOutcomeUnknown instead of being retried.
func (c *Client) callOnce(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.doOnce(ctx, method, path, params, true, 1)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, &APIError{
				Kind:    KindOutcomeUnknown,
				Message: "order request outcome unknown; check order history before resubmitting",
				Err:     err,
			}
		}
		return nil, err
	}
	return body, nil
}

// doOnce performs a single HTTP exchange. Signed calls are re-canonicalized
// and re-signed per attempt so the timestamp stays inside the receive window
// across backoff delays.
func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values, signed bool, attempt int) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	query := canonicalQuery(params)
	if signed {
		p := make(url.Values, len(params)+3)
		for k, v := range params {
			p[k] = v
		}
		p.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		p.Set("recvWindow", strconv.FormatInt(c.opts.RecvWindow.Milliseconds(), 10))
		payload := canonicalQuery(p)
		query = payload + "&signature=" + sign(c.opts.Credentials.SecretKey, payload)
	}

	endpoint := c.opts.BaseURL + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building exchange request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.opts.Credentials.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logAttempt(method, path, attempt, "transport_error")
		return nil, fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logAttempt(method, path, attempt, "transport_error")
		return nil, fmt.Errorf("reading exchange response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !json.Valid(body) {
			c.logAttempt(method, path, attempt, "unparsable_response")
			return nil, &APIError{
				Kind:    KindUnavailable,
				Message: "exchange returned a malformed body",
				Status:  resp.StatusCode,
				Err:     ErrUnparsableResponse,
			}
		}
		c.logAttempt(method, path, attempt, "ok")
		return body, nil
	}

	apiErr := parseAPIError(resp.StatusCode, body)
	if apiErr.Kind == KindRateLimited {
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	c.logAttempt(method, path, attempt, "api_error")
	return nil, apiErr
}

func (c *Client) logAttempt(method, path string, attempt int, outcome string) {
	c.logger.Info("exchange call",
		logging.String("method", method),
		logging.String("endpoint", path),
		logging.Int("attempt", attempt),
		logging.String("outcome", outcome),
	)
}

// parseAPIError maps a non-2xx body through the static code table. A body
// that is not the expected {code,msg} envelope is kept verbatim so nothing
// silently turns into empty data.
func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"msg"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Code == 0 {
		return &APIError{
			Kind:    kindForStatus(status),
			Message: string(body),
			Status:  status,
		}
	}
	return newAPIError(status, envelope.Code, envelope.Message)
}

// isRetryable reports whether an attempt error justifies another attempt.
// Transport failures on non-mutating calls and 429/5xx responses are
// retryable; everything else fails immediately.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status >= 500
	}
	return true
}
