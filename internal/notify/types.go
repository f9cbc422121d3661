package notify

import (
	"context"
	"time"

	"github.com/sqlkeep/sqlkeep/internal/config"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Stats summarizes one backup run for delivery.
type Stats struct {
	Status    Status
	Host      string
	Databases int
	Failures  []string
	Size      int64
	Duration  time.Duration
	Error     error
}

type Notifier interface {
	Notify(ctx context.Context, stats Stats) error
}

// MultiNotifier fans a notification out to every configured channel. One
// channel failing must not starve the others, so errors are swallowed.
type MultiNotifier struct {
	Notifiers []Notifier
}

func (m *MultiNotifier) Notify(ctx context.Context, stats Stats) error {
	for _, n := range m.Notifiers {
		_ = n.Notify(ctx, stats)
	}
	return nil
}

// FromConfig assembles the configured notifiers, nil when none are set up.
func FromConfig(cfg config.Notifications) Notifier {
	var notifiers []Notifier

	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Template))
	}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Method, cfg.Webhook.Template, cfg.Webhook.Headers))
	}

	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return &MultiNotifier{Notifiers: notifiers}
	}
}
