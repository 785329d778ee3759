package binance

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies every error this package returns into a small, stable set
// that callers can branch on without inspecting provider codes.
type Kind int

const (
	// KindUnknown is the zero value; it should not escape this package.
	KindUnknown Kind = iota

	// KindUnauthorized covers bad or missing credentials and signatures.
	KindUnauthorized

	// KindInvalidRequest covers requests the exchange rejected as
	// malformed before applying business rules (bad timestamp, illegal
	// characters).
	KindInvalidRequest

	// KindRateLimited means the exchange throttled the caller. RetryAfter
	// carries the wait when the exchange supplied one.
	KindRateLimited

	// KindProviderRejected covers structured business rejections:
	// insufficient balance, invalid symbol, precision violations.
	KindProviderRejected

	// KindUnavailable covers timeouts, connection failures, 5xx responses
	// and unparsable bodies, after the retry budget is exhausted.
	KindUnavailable

	// KindOutcomeUnknown marks an order-mutating call whose fate is
	// ambiguous (e.g. timeout after the request may have reached the
	// exchange). It is never retried automatically; callers should check
	// order history before resubmitting.
	KindOutcomeUnknown
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidRequest:
		return "invalid_request"
	case KindRateLimited:
		return "rate_limited"
	case KindProviderRejected:
		return "provider_rejected"
	case KindUnavailable:
		return "unavailable"
	case KindOutcomeUnknown:
		return "outcome_unknown"
	default:
		return "unknown"
	}
}

// ErrUnparsableResponse is returned when the exchange answers with a body
// that is not valid JSON. It is distinct from an empty result on purpose.
var ErrUnparsableResponse = errors.New("unparsable exchange response")

// APIError is an error response from the exchange, carrying the provider
// code, the human-readable message, and the kind callers branch on.
type APIError struct {
	Kind       Kind
	Code       int
	Message    string
	Status     int
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("exchange error (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind from an error chain, defaulting to
// KindUnavailable for plain transport errors.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if err != nil {
		return KindUnavailable
	}
	return KindUnknown
}

// errorMessages maps exchange error codes to stable human-readable messages.
// Unmapped codes fall back to the raw message from the exchange.
var errorMessages = map[int]string{
	-1000: "internal exchange error",
	-1002: "request not authorized",
	-1003: "too many requests",
	-1006: "unexpected response from exchange",
	-1013: "order rejected by symbol filter",
	-1021: "request timestamp outside receive window",
	-1022: "invalid request signature",
	-1100: "illegal characters in parameter",
	-1111: "precision over symbol maximum",
	-1121: "invalid symbol",
	-2010: "order rejected (check balance and symbol rules)",
	-2011: "cancel rejected",
	-2013: "order does not exist",
	-2014: "malformed API key",
	-2015: "invalid API key, IP, or permissions",
}

// kindForCode classifies an exchange error code. Codes the table does not
// know are classified by HTTP status in newAPIError.
func kindForCode(code int) (Kind, bool) {
	switch code {
	case -1002, -1022, -2014, -2015:
		return KindUnauthorized, true
	case -1003:
		return KindRateLimited, true
	case -1021, -1100:
		return KindInvalidRequest, true
	case -1013, -1111, -1121, -2010, -2011, -2013:
		return KindProviderRejected, true
	case -1000, -1006:
		return KindUnavailable, true
	}
	return KindUnknown, false
}

// kindForStatus classifies by HTTP status when the code table has no entry.
func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthorized
	case status == 429 || status == 418:
		return KindRateLimited
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindProviderRejected
	default:
		return KindUnavailable
	}
}

// newAPIError builds an APIError from a provider code/message pair and the
// HTTP status it arrived with.
func newAPIError(status, code int, rawMessage string) *APIError {
	msg := rawMessage
	if mapped, ok := errorMessages[code]; ok {
		msg = mapped
	}
	kind, ok := kindForCode(code)
	if !ok {
		kind = kindForStatus(status)
	}
	return &APIError{
		Kind:    kind,
		Code:    code,
		Message: msg,
		Status:  status,
	}
}
