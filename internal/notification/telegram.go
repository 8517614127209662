package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"time"
)

// TelegramAPIBase is the Bot API host.
const TelegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends alerts via the Telegram Bot API using HTML
// parse mode.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client

	// APIBase overrides the Bot API host.
	APIBase string
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		APIBase: TelegramAPIBase,
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("%s <b>%s</b>", alert.icon(), html.EscapeString(alert.Title))
	if alert.Message != "" {
		text += "\n" + alert.Message
	}

	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(t.APIBase, "/"), t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Description string `json:"description"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, apiErr.Description)
	}

	log.Printf("[telegram] sent alert: %s", alert.Title)
	return nil
}
