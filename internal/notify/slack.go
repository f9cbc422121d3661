package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"
)

type SlackNotifier struct {
	WebhookURL string
	Template   string
}

func NewSlackNotifier(url, tmpl string) *SlackNotifier {
	return &SlackNotifier{WebhookURL: url, Template: tmpl}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *SlackNotifier) Notify(ctx context.Context, stats Stats) error {
	if s.WebhookURL == "" {
		return nil
	}

	color := "#36a64f"
	title := "✅ Backup Successful"
	if stats.Status == StatusError {
		color = "#ff0000"
		title = "❌ Backup Failed"
	}

	attachment := slackAttachment{
		Color:  color,
		Title:  title,
		Footer: "sqlkeep",
		Ts:     time.Now().Unix(),
	}

	attachment.Fields = []slackField{
		{Title: "Host", Value: stats.Host, Short: true},
		{Title: "Databases", Value: fmt.Sprintf("%d", stats.Databases), Short: true},
		{Title: "Duration", Value: stats.Duration.Truncate(time.Millisecond).String(), Short: true},
	}

	if stats.Size > 0 {
		attachment.Fields = append(attachment.Fields, slackField{
			Title: "Size", Value: formatSize(stats.Size), Short: true,
		})
	}
	if len(stats.Failures) > 0 {
		attachment.Fields = append(attachment.Fields, slackField{
			Title: "Failed", Value: strings.Join(stats.Failures, ", "), Short: false,
		})
	}
	if stats.Error != nil {
		attachment.Text = fmt.Sprintf("*Error:* %v", stats.Error)
	}

	var body []byte
	var err error

	if s.Template != "" {
		body, err = renderTemplate("slack", s.Template, stats)
		if err != nil {
			return fmt.Errorf("failed to render slack template: %w", err)
		}
	} else {
		payload := slackPayload{
			Attachments: []slackAttachment{attachment},
		}
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification failed with status: %s", resp.Status)
	}

	return nil
}

func renderTemplate(name, tmpl string, stats Stats) ([]byte, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	data := struct {
		Stats
		FormattedDuration string
		FormattedSize     string
	}{
		Stats:             stats,
		FormattedDuration: stats.Duration.Truncate(time.Second).String(),
		FormattedSize:     formatSize(stats.Size),
	}

	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
