package chatapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/driverqueue/dispatcher/internal/ops"
)

func TestDecodeUpdateExtractsTextAndChatID(t *testing.T) {
	body := `{"message":{"chat":{"id":12345},"text":"oi"}}`
	u, err := DecodeUpdate(strings.NewReader(body))
	require.NoError(t, err)

	require.Equal(t, "12345", u.ChatID())
	text, isText := u.Text()
	require.True(t, isText)
	require.Equal(t, "oi", text)
}

func TestDecodeUpdateNonTextMessage(t *testing.T) {
	body := `{"message":{"chat":{"id":1}}}`
	u, err := DecodeUpdate(strings.NewReader(body))
	require.NoError(t, err)
	_, isText := u.Text()
	require.False(t, isText)
}

func TestDecodeUpdateMissingMessage(t *testing.T) {
	u, err := DecodeUpdate(strings.NewReader(`{}`))
	require.NoError(t, err)
	require.Empty(t, u.ChatID())
}

type ackOnlyDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (d *ackOnlyDispatcher) Dispatch(_ context.Context, chatID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, chatID+":"+text)
	return nil
}

func TestHandlerAlwaysAcknowledges(t *testing.T) {
	h := NewHandler(&ackOnlyDispatcher{}, ops.New(logrus.ErrorLevel))

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`not-json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestHandlerDispatchesValidTextUpdate(t *testing.T) {
	d := &ackOnlyDispatcher{}
	h := NewHandler(d, ops.New(logrus.ErrorLevel))

	body := `{"message":{"chat":{"id":42},"text":"1"}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"42:1"}, d.calls)
}

func TestHandlerIgnoresNonTextUpdate(t *testing.T) {
	d := &ackOnlyDispatcher{}
	h := NewHandler(d, ops.New(logrus.ErrorLevel))

	body := `{"message":{"chat":{"id":42}}}`
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, d.calls)
}
