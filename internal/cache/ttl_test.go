package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New[string, bool](4, time.Minute)
	_, ok := c.Get("d1")
	require.False(t, ok)
}

func TestSetThenGetHits(t *testing.T) {
	c := New[string, bool](4, time.Minute)
	c.Set("d1", true)
	v, ok := c.Get("d1")
	require.True(t, ok)
	require.True(t, v)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	c := New[string, bool](4, time.Minute)
	c.now = func() time.Time { return now }
	c.Set("d1", true)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := c.Get("d1")
	require.False(t, ok, "entry must expire once its TTL has elapsed")
}

func TestInvalidateDropsOneKey(t *testing.T) {
	c := New[string, bool](4, time.Minute)
	c.Set("d1", true)
	c.Set("d2", true)

	c.Invalidate("d1")

	_, ok := c.Get("d1")
	require.False(t, ok)
	_, ok = c.Get("d2")
	require.True(t, ok, "invalidating one key must not affect another")
}

func TestPurgeDropsEveryKey(t *testing.T) {
	c := New[string, bool](4, time.Minute)
	c.Set("d1", true)
	c.Set("d2", true)

	c.Purge()

	_, ok := c.Get("d1")
	require.False(t, ok)
	_, ok = c.Get("d2")
	require.False(t, ok)
}
