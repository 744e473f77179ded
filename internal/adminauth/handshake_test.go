package adminauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driverqueue/dispatcher/internal/kvstore"
)

func TestFullHandshakeGrantsAuthorization(t *testing.T) {
	ctx := context.Background()
	h := New(kvstore.NewMemStore(), "hunter2", time.Minute)

	_, pending, err := h.IsPending(ctx, "chat1")
	require.NoError(t, err)
	require.False(t, pending)
	require.False(t, h.Authorized(ctx, "chat1"))

	require.NoError(t, h.Begin(ctx, "chat1", KindSyncAll))
	kind, pending, err := h.IsPending(ctx, "chat1")
	require.NoError(t, err)
	require.True(t, pending)
	require.Equal(t, KindSyncAll, kind)

	gotKind, err := h.SubmitPassword(ctx, "chat1", "hunter2")
	require.NoError(t, err)
	require.Equal(t, KindSyncAll, gotKind)

	require.True(t, h.Authorized(ctx, "chat1"))
	_, pending, err = h.IsPending(ctx, "chat1")
	require.NoError(t, err)
	require.False(t, pending, "handshake should be cleared after success")
}

func TestSubmitPasswordWrongPasswordKeepsHandshakePending(t *testing.T) {
	ctx := context.Background()
	h := New(kvstore.NewMemStore(), "hunter2", time.Minute)
	require.NoError(t, h.Begin(ctx, "chat1", KindSyncDriver))

	_, err := h.SubmitPassword(ctx, "chat1", "wrong")
	require.ErrorIs(t, err, ErrBadPassword)

	kind, pending, err := h.IsPending(ctx, "chat1")
	require.NoError(t, err)
	require.True(t, pending, "a wrong password must not drop the pending handshake")
	require.Equal(t, KindSyncDriver, kind)
}

func TestSubmitPasswordWithoutPendingHandshake(t *testing.T) {
	ctx := context.Background()
	h := New(kvstore.NewMemStore(), "hunter2", time.Minute)
	_, err := h.SubmitPassword(ctx, "chat1", "hunter2")
	require.ErrorIs(t, err, ErrAwaitingPassword)
}

func TestAuthorizedIsKindAgnostic(t *testing.T) {
	ctx := context.Background()
	h := New(kvstore.NewMemStore(), "hunter2", time.Minute)

	require.NoError(t, h.Begin(ctx, "chat1", KindSyncAll))
	_, err := h.SubmitPassword(ctx, "chat1", "hunter2")
	require.NoError(t, err)

	// A token issued by a /sync handshake also authorizes /logdiario for the
	// same chat within the window.
	require.True(t, h.Authorized(ctx, "chat1"))
}

func TestAuthorizedRejectsOtherChat(t *testing.T) {
	ctx := context.Background()
	h := New(kvstore.NewMemStore(), "hunter2", time.Minute)

	require.NoError(t, h.Begin(ctx, "chat1", KindSyncAll))
	_, err := h.SubmitPassword(ctx, "chat1", "hunter2")
	require.NoError(t, err)

	require.False(t, h.Authorized(ctx, "chat2"))
}

func TestCancelDropsPendingHandshake(t *testing.T) {
	ctx := context.Background()
	h := New(kvstore.NewMemStore(), "hunter2", time.Minute)
	require.NoError(t, h.Begin(ctx, "chat1", KindLogDiario))
	require.NoError(t, h.Cancel(ctx, "chat1"))

	_, pending, err := h.IsPending(ctx, "chat1")
	require.NoError(t, err)
	require.False(t, pending)
}
