package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetIfAbsentOnlyWritesOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	ok, err := s.SetIfAbsent(ctx, "k", []byte("first"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "k", []byte("second"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "first", string(v))
}

func TestGetExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	s := NewMemStoreWithClock(func() time.Time { return clock })

	require.NoError(t, s.SetTTL(ctx, "k", []byte("v"), time.Second))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Second)
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOperationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.RPush(ctx, "list", "a"))
	require.NoError(t, s.RPush(ctx, "list", "b"))
	require.NoError(t, s.RPush(ctx, "list", "c"))

	vals, err := s.LRange(ctx, "list")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, vals)

	require.NoError(t, s.LRem(ctx, "list", 1, "b"))
	vals, err = s.LRange(ctx, "list")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, vals)

	head, ok, err := s.LPop(ctx, "list")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", head)

	require.NoError(t, s.WriteList(ctx, "list", []string{"x", "y"}))
	vals, err = s.LRange(ctx, "list")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, vals)
}

func TestLPopOnEmptyListReturnsFalse(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, ok, err := s.LPop(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanMatchesPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.SetTTL(ctx, "queue:active:moto", []byte("x"), 0))
	require.NoError(t, s.SetTTL(ctx, "queue:active:general", []byte("y"), 0))
	require.NoError(t, s.SetTTL(ctx, "other:key", []byte("z"), 0))

	keys, err := s.Scan(ctx, "queue:active:")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"queue:active:moto", "queue:active:general"}, keys)
}

func TestIncrAccumulates(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	v, err := s.Incr(ctx, "counter", 3)
	require.NoError(t, err)
	require.EqualValues(t, 3, v)

	v, err = s.Incr(ctx, "counter", 4)
	require.NoError(t, err)
	require.EqualValues(t, 7, v)
}

func TestDelRemovesKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.SetTTL(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Del(ctx, "k"))
	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}
