package timer

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/driverqueue/dispatcher/internal/hashutil"
	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/ops"
)

type fakeSessionChecker struct {
	choosing map[string]bool
}

func (f *fakeSessionChecker) IsChoosingRoute(_ context.Context, chatID string) (bool, error) {
	return f.choosing[chatID], nil
}

type fakeActiveReader struct {
	holder map[string]string
}

func (f *fakeActiveReader) ActiveChatID(_ context.Context, group string) (string, bool, error) {
	h, ok := f.holder[group]
	return h, ok, nil
}

func TestArmTimerPersistsToken(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	key, err := hashutil.NewKey()
	require.NoError(t, err)

	fired := make(chan string, 1)
	w := New(store, ops.New(logrus.ErrorLevel), key,
		&fakeSessionChecker{choosing: map[string]bool{"a": true}},
		&fakeActiveReader{holder: map[string]string{"general": "a"}},
		func(_ context.Context, chatID, _, _ string) { fired <- chatID })

	require.NoError(t, w.ArmTimer(ctx, "a", "moto", "general"))

	raw, err := store.Get(ctx, timerKey("a"))
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestDisarmTimerClearsToken(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	key, err := hashutil.NewKey()
	require.NoError(t, err)

	w := New(store, ops.New(logrus.ErrorLevel), key,
		&fakeSessionChecker{}, &fakeActiveReader{}, func(context.Context, string, string, string) {})

	require.NoError(t, w.ArmTimer(ctx, "a", "moto", "general"))
	require.NoError(t, w.DisarmTimer(ctx, "a"))

	_, err = store.Get(ctx, timerKey("a"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestFireSkipsWhenSessionNotChoosingRoute(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	key, err := hashutil.NewKey()
	require.NoError(t, err)
	tok, err := hashutil.NewToken(key)
	require.NoError(t, err)
	require.NoError(t, store.SetTTL(ctx, timerKey("a"), []byte(tok.Raw), ArmDuration))

	var fired bool
	w := New(store, ops.New(logrus.ErrorLevel), key,
		&fakeSessionChecker{choosing: map[string]bool{}}, // never choosing
		&fakeActiveReader{holder: map[string]string{"general": "a"}},
		func(context.Context, string, string, string) { fired = true })

	w.fire("a", "moto", "general", tok)
	require.False(t, fired, "onFire must not run once the session has left CHOOSING_ROUTE")
}

func TestFireSkipsWhenSlotNoLongerHeldByChat(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	key, err := hashutil.NewKey()
	require.NoError(t, err)
	tok, err := hashutil.NewToken(key)
	require.NoError(t, err)
	require.NoError(t, store.SetTTL(ctx, timerKey("a"), []byte(tok.Raw), ArmDuration))

	var fired bool
	w := New(store, ops.New(logrus.ErrorLevel), key,
		&fakeSessionChecker{choosing: map[string]bool{"a": true}},
		&fakeActiveReader{holder: map[string]string{"general": "someone-else"}},
		func(context.Context, string, string, string) { fired = true })

	w.fire("a", "moto", "general", tok)
	require.False(t, fired)
}

func TestFireInvokesOnFireWhenStillValid(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemStore()
	key, err := hashutil.NewKey()
	require.NoError(t, err)
	tok, err := hashutil.NewToken(key)
	require.NoError(t, err)
	require.NoError(t, store.SetTTL(ctx, timerKey("a"), []byte(tok.Raw), ArmDuration))

	var fired bool
	w := New(store, ops.New(logrus.ErrorLevel), key,
		&fakeSessionChecker{choosing: map[string]bool{"a": true}},
		&fakeActiveReader{holder: map[string]string{"general": "a"}},
		func(_ context.Context, chatID, vehicleType, group string) {
			fired = true
			require.Equal(t, "a", chatID)
			require.Equal(t, "general", group)
		})

	w.fire("a", "moto", "general", tok)
	require.True(t, fired)

	_, err = store.Get(ctx, timerKey("a"))
	require.ErrorIs(t, err, kvstore.ErrNotFound, "token should be cleared once it fires")
}
