package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/logger"
	"github.com/Strob0t/TenantForge/internal/port/database"
	"github.com/Strob0t/TenantForge/internal/port/messagequeue"
)

// clockRetention bounds how long the recorder remembers the last timestamp
// issued for a correlation id.
const clockRetention = 15 * time.Minute

// AuditRecorder appends audit entries to the store and fans them out on the
// message queue. Payloads are scrubbed before either write, and timestamps
// never go backwards within one correlation id.
type AuditRecorder struct {
	store  database.AuditLog
	queue  messagequeue.Queue
	alerts *AlertService
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewAuditRecorder creates an AuditRecorder. queue may be nil.
func NewAuditRecorder(store database.AuditLog, queue messagequeue.Queue) *AuditRecorder {
	return &AuditRecorder{store: store, queue: queue, now: time.Now, last: make(map[string]time.Time)}
}

// WithAlerts routes recorded entries through a for operator alerts.
func (r *AuditRecorder) WithAlerts(a *AlertService) *AuditRecorder {
	r.alerts = a
	return r
}

// Record appends e. A publish failure is logged; only the store write is
// reported to the caller.
func (r *AuditRecorder) Record(ctx context.Context, e audit.Entry) error {
	e.Payload = ScrubPayload(e.Payload)
	e.CreatedAt = r.stamp(e.CorrelationID)

	if err := r.store.AppendAudit(ctx, &e); err != nil {
		return fmt.Errorf("record audit %s/%s: %w", e.Action, e.Outcome, err)
	}
	r.publish(ctx, e)
	if r.alerts != nil {
		r.alerts.Observe(ctx, e)
	}
	return nil
}

// List returns the entries of one correlation id in append order.
func (r *AuditRecorder) List(ctx context.Context, correlationID string) ([]audit.Entry, error) {
	return r.store.ListAudit(ctx, correlationID)
}

func (r *AuditRecorder) stamp(correlationID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if prev, ok := r.last[correlationID]; ok && now.Before(prev) {
		now = prev
	}
	r.last[correlationID] = now

	if len(r.last) > 1024 {
		for id, ts := range r.last {
			if now.Sub(ts) > clockRetention {
				delete(r.last, id)
			}
		}
	}
	return now
}

func (r *AuditRecorder) publish(ctx context.Context, e audit.Entry) {
	if r.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.AuditEventPayload{
		CorrelationID: e.CorrelationID,
		ActorID:       e.ActorID,
		Action:        e.Action,
		Outcome:       string(e.Outcome),
		TenantID:      e.TenantID,
		IdentityID:    e.IdentityID,
		Payload:       e.Payload,
		CreatedAt:     e.CreatedAt,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal audit event", "action", e.Action, "error", err)
		return
	}
	ctx = logger.WithCorrelationID(ctx, e.CorrelationID)
	if err := r.queue.Publish(ctx, messagequeue.AuditSubject(e.Action), data); err != nil {
		slog.WarnContext(ctx, "failed to publish audit event", "action", e.Action, "seq", e.Seq, "error", err)
	}
}

// ScrubPayload returns a copy of p with credential values replaced and email
// addresses masked. Nested maps are scrubbed too.
func ScrubPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		key := strings.ToLower(k)
		switch {
		case isCredentialKey(key):
			out[k] = audit.Redacted
		case strings.Contains(key, "email"):
			if s, ok := v.(string); ok {
				out[k] = audit.MaskEmail(s)
			} else {
				out[k] = v
			}
		default:
			if m, ok := v.(map[string]any); ok {
				out[k] = ScrubPayload(m)
			} else {
				out[k] = v
			}
		}
	}
	return out
}

func isCredentialKey(key string) bool {
	switch key {
	case "password", "new_password", "credential", "secret", "token", "value", "new_value":
		return true
	}
	return strings.HasSuffix(key, "_password") || strings.HasSuffix(key, "_secret")
}
