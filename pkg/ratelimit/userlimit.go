package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// UserLimits configures the per-user windows. The order window is checked on
// top of the request window, so order-mutating calls consume both.
type UserLimits struct {
	// RequestsPerWindow bounds all API calls a user may make per
	// RequestWindow.
	RequestsPerWindow int
	RequestWindow     time.Duration

	// OrdersPerWindow bounds order-mutating calls per OrderWindow. It is
	// expected to be stricter than the request limit.
	OrdersPerWindow int
	OrderWindow     time.Duration

	// IdleTTL is how long an inactive user's windows are kept before
	// eviction. Zero means a 10 minute default.
	IdleTTL time.Duration
}

// DefaultUserLimits matches the gateway's stock thresholds: 60 calls and 10
// order mutations per minute per user.
func DefaultUserLimits() UserLimits {
	return UserLimits{
		RequestsPerWindow: 60,
		RequestWindow:     time.Minute,
		OrdersPerWindow:   10,
		OrderWindow:       time.Minute,
	}
}

// Decision is the answer to a rate-limit check. When Allowed is false,
// RetryAfter is the wait until the call would be permitted; callers surface
// it as an HTTP Retry-After and must not proceed to the network.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// UserLimiter gates calls per user before they reach the signed client.
// Windows are created lazily on a user's first call, refill continuously,
// and are evicted after IdleTTL of inactivity. Safe for concurrent use.
type UserLimiter struct {
	limits UserLimits
	clock  clock.Clock

	mu        sync.Mutex
	users     map[string]*userWindows
	lastSweep time.Time
}

type userWindows struct {
	requests *rate.Limiter
	orders   *rate.Limiter
	lastSeen time.Time
}

// UserLimiterOption configures a UserLimiter.
type UserLimiterOption func(*UserLimiter)

// WithClock injects the clock, letting tests advance time deterministically.
func WithClock(c clock.Clock) UserLimiterOption {
	return func(l *UserLimiter) {
		l.clock = c
	}
}

// NewUserLimiter creates a per-user limiter with the given limits.
func NewUserLimiter(limits UserLimits, opts ...UserLimiterOption) *UserLimiter {
	if limits.IdleTTL <= 0 {
		limits.IdleTTL = 10 * time.Minute
	}
	l := &UserLimiter{
		limits: limits,
		clock:  clock.New(),
		users:  make(map[string]*userWindows),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.clock.Now()
	return l
}

// CheckUser consumes one slot from the user's request window.
func (l *UserLimiter) CheckUser(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	u := l.user(userID, now)
	return reserve(u.requests, now)
}

// CheckOrder consumes one slot from both the request window and the stricter
// order window. A denial refunds whatever was consumed, so a rejected call
// does not eat into either budget.
func (l *UserLimiter) CheckOrder(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	u := l.user(userID, now)

	req := u.requests.ReserveN(now, 1)
	if d := req.DelayFrom(now); d > 0 {
		req.CancelAt(now)
		return Decision{RetryAfter: d}
	}

	ord := u.orders.ReserveN(now, 1)
	if d := ord.DelayFrom(now); d > 0 {
		ord.CancelAt(now)
		req.CancelAt(now)
		return Decision{RetryAfter: d}
	}

	return Decision{Allowed: true}
}

// ActiveUsers reports how many users currently hold live windows.
func (l *UserLimiter) ActiveUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

func reserve(lim *rate.Limiter, now time.Time) Decision {
	res := lim.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return Decision{RetryAfter: d}
	}
	return Decision{Allowed: true}
}

// user returns the caller's windows, creating them on first use. Piggybacks
// an eviction sweep so idle entries don't accumulate without a background
// goroutine.
func (l *UserLimiter) user(userID string, now time.Time) *userWindows {
	if now.Sub(l.lastSweep) >= l.limits.IdleTTL {
		for id, u := range l.users {
			if now.Sub(u.lastSeen) >= l.limits.IdleTTL {
				delete(l.users, id)
			}
		}
		l.lastSweep = now
	}

	u, ok := l.users[userID]
	if !ok {
		u = &userWindows{
			requests: rate.NewLimiter(
				rate.Every(l.limits.RequestWindow/time.Duration(l.limits.RequestsPerWindow)),
				l.limits.RequestsPerWindow,
			),
			orders: rate.NewLimiter(
				rate.Every(l.limits.OrderWindow/time.Duration(l.limits.OrdersPerWindow)),
				l.limits.OrdersPerWindow,
			),
		}
		l.users[userID] = u
	}
	u.lastSeen = now
	return u
}
