package chatapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/driverqueue/dispatcher/internal/ops"
)

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) SyncComplete(_ context.Context) {
	n.calls++
}

func TestSyncCompleteHandlerNotifiesOnCorrectPassword(t *testing.T) {
	n := &countingNotifier{}
	h := NewSyncCompleteHandler(n, "hunter2", ops.New(logrus.ErrorLevel))

	req := httptest.NewRequest(http.MethodPost, "/admin/sync-complete", strings.NewReader(""))
	req.Header.Set("X-Sync-Password", "hunter2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, n.calls)
}

func TestSyncCompleteHandlerRejectsWrongPassword(t *testing.T) {
	n := &countingNotifier{}
	h := NewSyncCompleteHandler(n, "hunter2", ops.New(logrus.ErrorLevel))

	req := httptest.NewRequest(http.MethodPost, "/admin/sync-complete", strings.NewReader(""))
	req.Header.Set("X-Sync-Password", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, n.calls)
}

func TestSyncCompleteHandlerRejectsNonPost(t *testing.T) {
	n := &countingNotifier{}
	h := NewSyncCompleteHandler(n, "hunter2", ops.New(logrus.ErrorLevel))

	req := httptest.NewRequest(http.MethodGet, "/admin/sync-complete", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Zero(t, n.calls)
}
