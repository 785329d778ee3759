package marketdata

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	mock := clock.NewMock()
	cache := NewCache(mock)
	ttl := 5 * time.Minute

	t.Run("MissingKey", func(t *testing.T) {
		_, fresh, ok := cache.Get("quote:AAPL", ttl)
		assert.False(t, ok)
		assert.False(t, fresh)
	})

	t.Run("FreshWithinTTL", func(t *testing.T) {
		cache.Put("quote:AAPL", &Quote{Symbol: "AAPL", Price: 100})

		v, fresh, ok := cache.Get("quote:AAPL", ttl)
		require.True(t, ok)
		assert.True(t, fresh)
		assert.Equal(t, 100.0, v.(*Quote).Price)
	})

	t.Run("ExpiredEntryIsKept", func(t *testing.T) {
		mock.Add(ttl + time.Second)

		v, fresh, ok := cache.Get("quote:AAPL", ttl)
		require.True(t, ok, "expired entries must stay readable")
		assert.False(t, fresh)
		assert.Equal(t, 100.0, v.(*Quote).Price)
	})

	t.Run("PutRefreshes", func(t *testing.T) {
		cache.Put("quote:AAPL", &Quote{Symbol: "AAPL", Price: 101})

		v, fresh, ok := cache.Get("quote:AAPL", ttl)
		require.True(t, ok)
		assert.True(t, fresh)
		assert.Equal(t, 101.0, v.(*Quote).Price)
		assert.Equal(t, 1, cache.Len())
	})
}
