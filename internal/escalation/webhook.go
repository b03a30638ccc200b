package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookNotifier posts notices to a Slack-compatible incoming webhook.
type WebhookNotifier struct {
	URL  string
	HTTP *http.Client
}

// NewWebhookNotifier creates a notifier for the given webhook URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookField struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type webhookBlock struct {
	Type   string         `json:"type"`
	Text   *webhookField  `json:"text,omitempty"`
	Fields []webhookField `json:"fields,omitempty"`
}

type webhookPayload struct {
	Text   string         `json:"text"`
	Blocks []webhookBlock `json:"blocks"`
	Notice Notice         `json:"notice"`
}

func buildWebhookPayload(n Notice) webhookPayload {
	summary := fmt.Sprintf("ReplyGuard escalation: %s (%s)", n.Severity, n.Rule)
	md := func(label, value string) webhookField {
		return webhookField{Type: "mrkdwn", Text: "*" + label + "*\n" + value}
	}
	return webhookPayload{
		Text: summary,
		Blocks: []webhookBlock{
			{Type: "section", Text: &webhookField{Type: "mrkdwn", Text: "*" + summary + "*"}},
			{Type: "section", Fields: []webhookField{
				md("Severity", n.Severity),
				md("Outcome", n.Outcome),
				md("Rule", n.Rule),
				md("Language mix", n.LanguageMix),
				md("Session bucket", n.SessionBucket),
				md("Trace", n.TraceID),
			}},
		},
		Notice: n,
	}
}

// Notify posts the notice. Any non-2xx response is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notice) error {
	if w.URL == "" {
		return fmt.Errorf("WebhookNotifier.Notify: missing webhook url")
	}
	client := w.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(buildWebhookPayload(n))
	if err != nil {
		return fmt.Errorf("WebhookNotifier.Notify: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("WebhookNotifier.Notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("WebhookNotifier.Notify: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("WebhookNotifier.Notify: status %d", res.StatusCode)
	}
	return nil
}
