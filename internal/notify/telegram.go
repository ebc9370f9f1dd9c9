package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Compile-time interface check.
var _ Notifier = (*TelegramNotifier)(nil)

// TelegramNotifier sends messages through the Telegram bot API. It is
// disabled (every Send is a no-op) when the token or chat ID is empty, so
// callers never need to branch on configuration.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	enabled bool
}

// NewTelegramNotifier creates a TelegramNotifier for the given bot token and
// chat ID.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
		enabled: token != "" && chatID != "",
	}
}

// Send posts the message to the configured chat.
func (n *TelegramNotifier) Send(ctx context.Context, message string) error {
	if !n.enabled {
		return nil
	}

	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    message,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}
