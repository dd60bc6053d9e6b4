package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/port/notifier"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []notifier.Alert
	err    error
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Send(_ context.Context, a notifier.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return c.err
}

func (c *captureNotifier) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, a.Event)
	}
	return out
}

func TestAlertFor(t *testing.T) {
	tests := []struct {
		name  string
		entry audit.Entry
		event string
	}{
		{"safety violation", audit.Entry{Outcome: audit.OutcomeSafetyViolation}, EventSafetyViolation},
		{"failed compensation step", audit.Entry{Outcome: audit.OutcomeRolledBack, Payload: map[string]any{"step": "identity", "error": "boom"}}, EventCompensationFailed},
		{"successful compensation step", audit.Entry{Outcome: audit.OutcomeRolledBack, Payload: map[string]any{"step": "identity"}}, ""},
		{"pending compensation", audit.Entry{Outcome: audit.OutcomeFailed, Payload: map[string]any{"compensation_pending": true}}, EventCompensationPending},
		{"clean failure", audit.Entry{Outcome: audit.OutcomeFailed, Payload: map[string]any{"compensation_pending": false}}, ""},
		{"skipped reconcile", audit.Entry{Outcome: audit.OutcomeReconciled, Payload: map[string]any{"result": "skipped"}}, EventReconcileSkipped},
		{"reconciled", audit.Entry{Outcome: audit.OutcomeReconciled, Payload: map[string]any{"result": "ok"}}, ""},
		{"completed", audit.Entry{Outcome: audit.OutcomeCompleted}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := alertFor(tt.entry)
			require.Equal(t, tt.event != "", ok)
			require.Equal(t, tt.event, a.Event)
		})
	}
}

func TestAuditRecorder_RoutesAlerts(t *testing.T) {
	store := newMemStore()
	capture := &captureNotifier{}
	alerts := NewAlertService([]notifier.Notifier{capture}, nil)
	rec := NewAuditRecorder(store, nil).WithAlerts(alerts)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, audit.Entry{
		CorrelationID: "key-1", Action: audit.ActionRotateCredential,
		Outcome: audit.OutcomeSafetyViolation, IdentityID: "admin-1",
	}))
	require.NoError(t, rec.Record(ctx, audit.Entry{CorrelationID: "key-1", Action: audit.ActionProvision, Outcome: audit.OutcomeCompleted}))
	alerts.Wait()

	require.Equal(t, []string{EventSafetyViolation}, capture.events())
	require.Equal(t, "key-1", capture.alerts[0].CorrelationID)
	require.Contains(t, capture.alerts[0].Message, "admin-1")
}

func TestAlertService_EventFilterAndSendErrors(t *testing.T) {
	failing := &captureNotifier{err: errors.New("webhook down")}
	capture := &captureNotifier{}
	alerts := NewAlertService([]notifier.Notifier{failing, capture}, []string{EventCompensationPending})
	ctx := context.Background()

	alerts.Observe(ctx, audit.Entry{Outcome: audit.OutcomeSafetyViolation})
	alerts.Observe(ctx, audit.Entry{Outcome: audit.OutcomeFailed, Payload: map[string]any{"compensation_pending": true}})
	alerts.Wait()

	require.Equal(t, []string{EventCompensationPending}, failing.events())
	require.Equal(t, []string{EventCompensationPending}, capture.events(), "one failing notifier must not stop the others")
}
