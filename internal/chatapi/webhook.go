// Package chatapi implements the external interface adapters (component I):
// the inbound webhook decoder and the outbound chat sender port.
package chatapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/driverqueue/dispatcher/internal/ops"
)

// Update is the inbound chat-update envelope. Unknown fields are ignored;
// non-text events are acknowledged and ignored.
type Update struct {
	Message *struct {
		Chat struct {
			ID json.Number `json:"id"`
		} `json:"chat"`
		Text *string `json:"text"`
	} `json:"message"`
}

// ChatID returns the update's chat id as a string, or "" if absent.
func (u Update) ChatID() string {
	if u.Message == nil {
		return ""
	}
	return parseChatID(u.Message.Chat.ID)
}

// Text returns the update's text and whether it was a text message at all.
func (u Update) Text() (string, bool) {
	if u.Message == nil || u.Message.Text == nil {
		return "", false
	}
	return *u.Message.Text, true
}

// Dispatcher is invoked once per decoded text update. Implementations must
// serialize calls for the same chatId; Handler enforces that with a
// per-chat mutex keyed on chatId.
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID, text string) error
}

// WebhookResponse is always returned, regardless of outcome.
type WebhookResponse struct {
	OK bool `json:"ok"`
}

// DecodeUpdate parses the POST body of /telegram/webhook.
func DecodeUpdate(body io.Reader) (Update, error) {
	var u Update
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&u); err != nil {
		return Update{}, err
	}
	return u, nil
}

// WriteWebhookOK writes the always-200 {"ok":true} response body.
func WriteWebhookOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(WebhookResponse{OK: true})
}

// parseChatID normalizes a chat id to a canonical string form, accepting
// both integer and pre-stringified ids.
func parseChatID(raw json.Number) string {
	if i, err := raw.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return raw.String()
}

// logDecodeFailure is a small helper so handlers share one log shape for a
// malformed webhook body.
func logDecodeFailure(log ops.Logger, remote string, err error) {
	log.WithFields(map[string]interface{}{"remote": remote, "err": err}).
		Warn("webhook: failed to decode update, acknowledging anyway")
}
