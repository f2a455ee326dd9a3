package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string]().WithClock(func() time.Time { return now })

	c.Set("nonce", "state", time.Minute)
	v, ok := c.Get("nonce")
	require.True(t, ok)
	require.Equal(t, "state", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("nonce")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestTTLCacheTakeConsumesOnce(t *testing.T) {
	c := New[bool]()
	c.Set("n1", true, time.Minute)

	_, ok := c.Take("n1")
	require.True(t, ok)
	_, ok = c.Take("n1")
	require.False(t, ok)
}

func TestTTLCachePrune(t *testing.T) {
	now := time.Now()
	c := New[int]().WithClock(func() time.Time { return now })
	c.Set("a", 1, time.Second)
	c.Set("b", 2, time.Hour)

	now = now.Add(time.Minute)
	require.Equal(t, 1, c.Prune())
	require.Equal(t, 1, c.Len())
}
