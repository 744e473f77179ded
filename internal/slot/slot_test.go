package slot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/lock"
	"github.com/driverqueue/dispatcher/internal/ops"
	"github.com/driverqueue/dispatcher/internal/queue"
)

const testGroup = "general"

func newTestController(t *testing.T, notify Notifier) (*Controller, *queue.Engine, func() time.Time, func(time.Time)) {
	t.Helper()
	clock := time.Now()
	store := kvstore.NewMemStoreWithClock(func() time.Time { return clock })
	locker := lock.New(store, ops.New(logrus.ErrorLevel))
	q := queue.New(store, locker, testGroup, time.Minute)
	c := New(store, locker, q, testGroup, notify)
	return c, q, func() time.Time { return clock }, func(t time.Time) { clock = t }
}

func TestTryAcquireIsIdempotentForHolder(t *testing.T) {
	ctx := context.Background()
	c, q, _, _ := newTestController(t, nil)

	_, err := q.Enqueue(ctx, queue.Member{ChatID: "a"})
	require.NoError(t, err)

	ok, err := c.TryAcquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	// Calling again for the same holder is a no-op success, not a second
	// activation from the queue.
	ok, err = c.TryAcquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTryAcquireLoserIsNotified(t *testing.T) {
	ctx := context.Background()
	var notified string
	c, q, _, _ := newTestController(t, func(_ context.Context, chatID string) { notified = chatID })

	_, err := q.Enqueue(ctx, queue.Member{ChatID: "first", PriorityScore: 10})
	require.NoError(t, err)

	ok, err := c.TryAcquire(ctx, "second")
	require.NoError(t, err)
	require.False(t, ok, "second did not win the slot")
	require.Equal(t, "first", notified, "the actual winner should be notified")
}

func TestReleaseAndNotifyNextActivatesWaiter(t *testing.T) {
	ctx := context.Background()
	var notified string
	c, q, _, _ := newTestController(t, func(_ context.Context, chatID string) { notified = chatID })

	_, err := q.Enqueue(ctx, queue.Member{ChatID: "holder"})
	require.NoError(t, err)
	ok, err := c.TryAcquire(ctx, "holder")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = q.Enqueue(ctx, queue.Member{ChatID: "waiter"})
	require.NoError(t, err)

	require.NoError(t, c.ReleaseAndNotifyNext(ctx))
	require.Equal(t, "waiter", notified)

	active, ok, err := c.ActiveChatID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "waiter", active)
}

func TestRequeueExpiredActiveReclaimsAfterTTL(t *testing.T) {
	ctx := context.Background()
	var expiredChat string
	c, q, getClock, setClock := newTestController(t, nil)
	c.SetExpireHandler(func(_ context.Context, chatID string) { expiredChat = chatID })

	_, err := q.Enqueue(ctx, queue.Member{ChatID: "stale"})
	require.NoError(t, err)
	ok, err := c.TryAcquire(ctx, "stale")
	require.NoError(t, err)
	require.True(t, ok)

	setClock(getClock().Add(ActiveTTL + time.Second))
	// RequeueExpiredActive measures the hold from Meta.StartedAt in
	// wall-clock time, so the stored meta is backdated as well.
	stale, err := json.Marshal(Meta{ChatID: "stale", StartedAt: time.Now().Add(-(ActiveTTL + time.Second))})
	require.NoError(t, err)
	require.NoError(t, c.store.SetTTL(ctx, c.metaKey(), stale, MetaTTL))

	expired, err := c.RequeueExpiredActive(ctx)
	require.NoError(t, err)
	require.True(t, expired)
	require.Equal(t, "stale", expiredChat)

	_, held, err := c.ActiveChatID(ctx)
	require.NoError(t, err)
	require.False(t, held)
}

func TestTryActivateIfIdleInstallsWaiterWhenEmpty(t *testing.T) {
	ctx := context.Background()
	c, q, _, _ := newTestController(t, nil)

	_, err := q.Enqueue(ctx, queue.Member{ChatID: "waiting"})
	require.NoError(t, err)

	require.NoError(t, c.TryActivateIfIdle(ctx))

	active, ok, err := c.ActiveChatID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "waiting", active)
}

func TestTryActivateIfIdleNoopWhenHeld(t *testing.T) {
	ctx := context.Background()
	c, q, _, _ := newTestController(t, nil)

	_, err := q.Enqueue(ctx, queue.Member{ChatID: "holder"})
	require.NoError(t, err)
	_, err = c.TryAcquire(ctx, "holder")
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, queue.Member{ChatID: "other"})
	require.NoError(t, err)

	require.NoError(t, c.TryActivateIfIdle(ctx))

	active, _, err := c.ActiveChatID(ctx)
	require.NoError(t, err)
	require.Equal(t, "holder", active, "should not disturb the existing holder")
}
