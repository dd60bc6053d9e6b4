// Package email delivers verification and setup links over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	mail "github.com/go-mail/mail"

	"github.com/Strob0t/TenantForge/internal/config"
)

// Notifier sends plain-text mail through an SMTP relay.
type Notifier struct {
	cfg    config.SMTP
	dialer *mail.Dialer
}

// NewNotifier creates a Notifier. It returns nil when cfg.Host is empty so
// callers can treat delivery as disabled.
func NewNotifier(cfg config.SMTP) *Notifier {
	if cfg.Host == "" {
		return nil
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	return &Notifier{cfg: cfg, dialer: d}
}

// Send delivers one message. The body is never logged.
func (n *Notifier) Send(ctx context.Context, to, subject, body string) error {
	if err := n.dialer.DialAndSend(n.Message(to, subject, body)); err != nil {
		slog.WarnContext(ctx, "smtp send failed", "email", to, "subject", subject, "error", err)
		return fmt.Errorf("smtp send: %w", err)
	}
	slog.InfoContext(ctx, "smtp send ok", "email", to, "subject", subject)
	return nil
}

// Message renders the message without sending it.
func (n *Notifier) Message(to, subject, body string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}
