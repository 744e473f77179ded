package chatapi

import (
	"net/http"
	"sync"

	"github.com/driverqueue/dispatcher/internal/ops"
)

// Handler serves POST /telegram/webhook, decoding updates and serializing
// dispatch for each chatId through a per-chat mutex so that out-of-order
// processing of one driver's messages (a correctness violation: double
// enqueue, double claim) cannot happen even under a concurrent worker pool.
type Handler struct {
	dispatcher Dispatcher
	log        ops.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHandler returns a Handler that forwards decoded text updates to d.
func NewHandler(d Dispatcher, log ops.Logger) *Handler {
	return &Handler{dispatcher: d, log: log, locks: make(map[string]*sync.Mutex)}
}

func (h *Handler) chatLock(chatID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		h.locks[chatID] = l
	}
	return l
}

// ServeHTTP always acknowledges with 200 {"ok":true} — the webhook contract
// never surfaces core errors to the chat transport.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	update, err := DecodeUpdate(r.Body)
	if err != nil {
		logDecodeFailure(h.log, r.RemoteAddr, err)
		WriteWebhookOK(w)
		return
	}

	text, isText := update.Text()
	chatID := update.ChatID()
	if !isText || chatID == "" {
		WriteWebhookOK(w)
		return
	}

	lock := h.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	if err := h.dispatcher.Dispatch(r.Context(), chatID, text); err != nil {
		h.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
			Warn("webhook: dispatch failed, acknowledging anyway")
	}
	WriteWebhookOK(w)
}
