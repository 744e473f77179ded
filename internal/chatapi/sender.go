package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/driverqueue/dispatcher/internal/ops"
)

// Sender delivers text to a chat. Failures are surfaced as transient and
// logged, but must never block state transitions: the driver can retry, and
// timers guarantee eventual progress.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// HTTPSender posts to a chat-transport webhook URL (e.g. the Telegram Bot
// API's sendMessage endpoint). It is one concrete Sender adapter; the
// transport itself remains an external collaborator.
type HTTPSender struct {
	endpoint string
	client   *http.Client
	log      ops.Logger
}

// NewHTTPSender returns a Sender that posts JSON bodies to endpoint.
func NewHTTPSender(endpoint string, log ops.Logger) *HTTPSender {
	return &HTTPSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

type sendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *HTTPSender) Send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendRequest{ChatID: chatID, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithFields(map[string]interface{}{"chatId": chatID, "err": err}).
			Warn("sender: outbound delivery failed")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("sender: transport returned status %d", resp.StatusCode)
		s.log.WithFields(map[string]interface{}{"chatId": chatID, "status": resp.StatusCode}).
			Warn("sender: outbound delivery rejected")
		return err
	}
	return nil
}
