// Package discord delivers operator alerts to a Discord webhook.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Strob0t/TenantForge/internal/port/notifier"
)

const providerName = "discord"

func init() {
	notifier.Register(providerName, func(url string) notifier.Notifier { return NewNotifier(url) })
}

// Notifier posts embeds to a webhook.
type Notifier struct {
	webhookURL string
	http       *resty.Client
}

// NewNotifier creates a Discord notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		http:       resty.New().SetTimeout(10 * time.Second),
	}
}

func (n *Notifier) Name() string { return providerName }

type webhook struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []field `json:"fields,omitempty"`
	Footer      *footer `json:"footer,omitempty"`
}

type field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type footer struct {
	Text string `json:"text"`
}

func (n *Notifier) Send(ctx context.Context, alert notifier.Alert) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	e := embed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       levelColor(alert.Level),
		Footer:      &footer{Text: "Event: " + alert.Event},
	}
	if alert.CorrelationID != "" {
		e.Fields = []field{{Name: "Correlation", Value: alert.CorrelationID}}
	}

	resp, err := n.http.R().SetContext(ctx).SetBody(webhook{Embeds: []embed{e}}).Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	// Discord returns 204 on success
	if resp.IsError() {
		return fmt.Errorf("discord API %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func levelColor(level notifier.Level) int {
	switch level {
	case notifier.LevelError:
		return 0xE74C3C // red
	case notifier.LevelWarning:
		return 0xF39C12 // orange
	default:
		return 0x3498DB // blue
	}
}
