// Package slack delivers operator alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Strob0t/TenantForge/internal/port/notifier"
)

const providerName = "slack"

func init() {
	notifier.Register(providerName, func(url string) notifier.Notifier { return NewNotifier(url) })
}

// Notifier posts Block Kit messages to a webhook.
type Notifier struct {
	webhookURL string
	http       *resty.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		http:       resty.New().SetTimeout(10 * time.Second),
	}
}

func (n *Notifier) Name() string { return providerName }

type message struct {
	Blocks []block `json:"blocks"`
}

type block struct {
	Type string `json:"type"`
	Text *text  `json:"text,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, alert notifier.Alert) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	msg := message{Blocks: []block{
		{Type: "header", Text: &text{Type: "plain_text", Text: levelTag(alert.Level) + " " + alert.Title}},
		{Type: "section", Text: &text{Type: "mrkdwn", Text: alert.Message}},
	}}
	footer := "_Event: " + alert.Event + "_"
	if alert.CorrelationID != "" {
		footer += fmt.Sprintf(" | _Correlation: `%s`_", alert.CorrelationID)
	}
	msg.Blocks = append(msg.Blocks, block{Type: "context", Text: &text{Type: "mrkdwn", Text: footer}})

	resp, err := n.http.R().SetContext(ctx).SetBody(msg).Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack API %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func levelTag(level notifier.Level) string {
	switch level {
	case notifier.LevelError:
		return "[ERROR]"
	case notifier.LevelWarning:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
