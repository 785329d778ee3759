package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limits UserLimits) (*UserLimiter, *clock.Mock) {
	mock := clock.NewMock()
	return NewUserLimiter(limits, WithClock(mock)), mock
}

func TestUserLimiterRequestWindow(t *testing.T) {
	limiter, mock := newTestLimiter(UserLimits{
		RequestsPerWindow: 5,
		RequestWindow:     time.Minute,
		OrdersPerWindow:   5,
		OrderWindow:       time.Minute,
	})

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.CheckUser("alice").Allowed, "call %d should pass", i+1)
	}

	denied := limiter.CheckUser("alice")
	require.False(t, denied.Allowed, "call over the limit must be rejected")
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	// One refill interval later a single slot is available again.
	mock.Add(time.Minute / 5)
	assert.True(t, limiter.CheckUser("alice").Allowed)
	assert.False(t, limiter.CheckUser("alice").Allowed)
}

func TestUserLimiterIsolatesUsers(t *testing.T) {
	limiter, _ := newTestLimiter(UserLimits{
		RequestsPerWindow: 2,
		RequestWindow:     time.Minute,
		OrdersPerWindow:   2,
		OrderWindow:       time.Minute,
	})

	limiter.CheckUser("alice")
	limiter.CheckUser("alice")
	require.False(t, limiter.CheckUser("alice").Allowed)

	assert.True(t, limiter.CheckUser("bob").Allowed, "one user's exhaustion must not affect another")
}

func TestUserLimiterOrderWindow(t *testing.T) {
	t.Run("StricterThanRequests", func(t *testing.T) {
		limiter, _ := newTestLimiter(UserLimits{
			RequestsPerWindow: 60,
			RequestWindow:     time.Minute,
			OrdersPerWindow:   2,
			OrderWindow:       time.Minute,
		})

		assert.True(t, limiter.CheckOrder("alice").Allowed)
		assert.True(t, limiter.CheckOrder("alice").Allowed)

		denied := limiter.CheckOrder("alice")
		require.False(t, denied.Allowed)
		assert.Greater(t, denied.RetryAfter, time.Duration(0))

		// Non-mutating calls are still fine under the wider window.
		assert.True(t, limiter.CheckUser("alice").Allowed)
	})

	t.Run("DenialRefundsRequestWindow", func(t *testing.T) {
		limiter, _ := newTestLimiter(UserLimits{
			RequestsPerWindow: 3,
			RequestWindow:     time.Minute,
			OrdersPerWindow:   1,
			OrderWindow:       time.Minute,
		})

		require.True(t, limiter.CheckOrder("alice").Allowed)
		require.False(t, limiter.CheckOrder("alice").Allowed)

		// The rejected order consumed nothing: two request slots remain.
		assert.True(t, limiter.CheckUser("alice").Allowed)
		assert.True(t, limiter.CheckUser("alice").Allowed)
		assert.False(t, limiter.CheckUser("alice").Allowed)
	})

	t.Run("RecoversAfterWindow", func(t *testing.T) {
		limiter, mock := newTestLimiter(UserLimits{
			RequestsPerWindow: 60,
			RequestWindow:     time.Minute,
			OrdersPerWindow:   1,
			OrderWindow:       time.Minute,
		})

		require.True(t, limiter.CheckOrder("alice").Allowed)
		require.False(t, limiter.CheckOrder("alice").Allowed)

		mock.Add(time.Minute)
		assert.True(t, limiter.CheckOrder("alice").Allowed)
	})
}

func TestUserLimiterEvictsIdleUsers(t *testing.T) {
	limiter, mock := newTestLimiter(UserLimits{
		RequestsPerWindow: 10,
		RequestWindow:     time.Minute,
		OrdersPerWindow:   10,
		OrderWindow:       time.Minute,
		IdleTTL:           time.Minute,
	})

	limiter.CheckUser("alice")
	require.Equal(t, 1, limiter.ActiveUsers())

	// Alice goes idle past the TTL; Bob's call triggers the sweep.
	mock.Add(2 * time.Minute)
	limiter.CheckUser("bob")
	assert.Equal(t, 1, limiter.ActiveUsers())
}

func TestDefaultUserLimits(t *testing.T) {
	limits := DefaultUserLimits()
	assert.Equal(t, 60, limits.RequestsPerWindow)
	assert.Equal(t, 10, limits.OrdersPerWindow)
	assert.Equal(t, time.Minute, limits.RequestWindow)
	assert.Equal(t, time.Minute, limits.OrderWindow)
}
