// Package ratelimit controls the rate of outbound operations. It carries two
// limiters for two different jobs: a token-bucket RateLimiter that paces
// requests leaving the process (so the exchange never sees a burst it would
// throttle), and a per-user UserLimiter that gates inbound trading actions
// before they reach the network (see userlimit.go).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/ratelimit"
)

// Rate is a limit of Limit operations per Interval.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// RateLimiter paces operations by blocking callers until the next operation
// is permitted.
type RateLimiter interface {
	// Wait blocks until an operation is permitted or the context is
	// cancelled. It must be called before every rate-limited operation.
	Wait(ctx context.Context) error

	// SetLimit replaces the rate configuration at runtime.
	SetLimit(limit Rate) error
}

// uberLimiter implements RateLimiter on Uber's token-bucket limiter.
type uberLimiter struct {
	limiter ratelimit.Limiter
	rate    Rate
}

// NewTokenBucketLimiter creates a RateLimiter allowing rate.Limit operations
// per rate.Interval, smoothed to evenly spaced takes.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	return &uberLimiter{
		limiter: ratelimit.New(perSecond(rate)),
		rate:    rate,
	}
}

// perSecond converts a Rate to whole operations per second, never below one.
func perSecond(rate Rate) int {
	rps := int(float64(rate.Limit) / rate.Interval.Seconds())
	if rps < 1 {
		rps = 1
	}
	return rps
}

// Wait implements the RateLimiter interface.
func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

// SetLimit implements the RateLimiter interface.
func (l *uberLimiter) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	l.limiter = ratelimit.New(perSecond(rate))
	l.rate = rate
	return nil
}
