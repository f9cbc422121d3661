package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type WebhookNotifier struct {
	URL      string
	Method   string
	Template string
	Headers  map[string]string
}

func NewWebhookNotifier(url, method, tmpl string, headers map[string]string) *WebhookNotifier {
	if method == "" {
		method = "POST"
	}
	return &WebhookNotifier{
		URL:      url,
		Method:   method,
		Template: tmpl,
		Headers:  headers,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, stats Stats) error {
	if n.URL == "" {
		return nil
	}

	var body []byte
	var err error

	if n.Template != "" {
		body, err = renderTemplate("webhook", n.Template, stats)
		if err != nil {
			return fmt.Errorf("failed to render webhook template: %w", err)
		}
	} else {
		body, err = json.Marshal(webhookPayload(stats))
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, n.Method, n.URL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// webhookPayload flattens Stats into a JSON-friendly shape; errors do not
// marshal as such.
func webhookPayload(stats Stats) map[string]any {
	payload := map[string]any{
		"status":      string(stats.Status),
		"host":        stats.Host,
		"databases":   stats.Databases,
		"failures":    stats.Failures,
		"size_bytes":  stats.Size,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if stats.Error != nil {
		payload["error"] = stats.Error.Error()
	}
	return payload
}
