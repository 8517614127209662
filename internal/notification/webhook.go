package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// WebhookNotifier POSTs alerts as JSON to an HTTP endpoint. The card body
// is sent twice: "message" keeps the Telegram HTML, "text" is plain.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Alert
	Text string `json:"text"`
	TS   string `json:"ts"`
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Alert: alert,
		Text:  plainText(alert.Message),
		TS:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send %s: %w", alert.Symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook: %s: status %d", alert.Symbol, resp.StatusCode)
	}

	log.Printf("[webhook] delivered %s", alert.Title)
	return nil
}

// plainText drops the HTML markup of a card body, keeping line breaks.
func plainText(msg string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg))
	if err != nil {
		return msg
	}
	return doc.Text()
}
