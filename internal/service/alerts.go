package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/port/notifier"
)

// Alert events.
const (
	EventSafetyViolation     = "safety_violation"
	EventCompensationFailed  = "compensation_failed"
	EventCompensationPending = "compensation_pending"
	EventReconcileSkipped    = "reconcile_skipped"
)

const alertSendTimeout = 15 * time.Second

// AlertService turns audit entries that need an operator into alerts and
// dispatches them to every notifier. Delivery runs in the background and
// never affects the workflow that produced the entry.
type AlertService struct {
	notifiers []notifier.Notifier
	enabled   map[string]bool
	wg        sync.WaitGroup
}

// NewAlertService creates an AlertService. If events is empty, all events
// are enabled.
func NewAlertService(notifiers []notifier.Notifier, events []string) *AlertService {
	enabled := make(map[string]bool, len(events))
	for _, e := range events {
		enabled[e] = true
	}
	return &AlertService{notifiers: notifiers, enabled: enabled}
}

// Observe inspects e and sends an alert if it needs attention.
func (s *AlertService) Observe(ctx context.Context, e audit.Entry) {
	alert, ok := alertFor(e)
	if !ok || len(s.notifiers) == 0 {
		return
	}
	if len(s.enabled) > 0 && !s.enabled[alert.Event] {
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
		defer cancel()
		s.Notify(ctx, alert)
	}()
}

// Notify sends alert to all notifiers. Errors are logged but do not
// interrupt delivery to other notifiers.
func (s *AlertService) Notify(ctx context.Context, alert notifier.Alert) {
	for _, n := range s.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			slog.WarnContext(ctx, "alert send failed", "provider", n.Name(), "event", alert.Event, "error", err)
			continue
		}
		slog.DebugContext(ctx, "alert sent", "provider", n.Name(), "event", alert.Event)
	}
}

// Wait blocks until in-flight alerts are delivered.
func (s *AlertService) Wait() { s.wg.Wait() }

func alertFor(e audit.Entry) (notifier.Alert, bool) {
	a := notifier.Alert{CorrelationID: e.CorrelationID}
	switch e.Outcome {
	case audit.OutcomeSafetyViolation:
		a.Event = EventSafetyViolation
		a.Level = notifier.LevelError
		a.Title = "Administrator identity targeted"
		a.Message = fmt.Sprintf("%s was refused: identity %s is a platform administrator (actor %s).",
			e.Action, e.IdentityID, e.ActorID)
	case audit.OutcomeRolledBack:
		msg, failed := e.Payload["error"].(string)
		if !failed {
			return a, false
		}
		a.Event = EventCompensationFailed
		a.Level = notifier.LevelWarning
		a.Title = "Compensation step failed"
		a.Message = fmt.Sprintf("Step %v of tenant %s failed: %s", e.Payload["step"], e.TenantID, msg)
	case audit.OutcomeFailed:
		if pending, _ := e.Payload["compensation_pending"].(bool); !pending {
			return a, false
		}
		a.Event = EventCompensationPending
		a.Level = notifier.LevelError
		a.Title = "Owner identity left behind"
		a.Message = fmt.Sprintf("Provisioning failed (%v) and identity %s could not be deleted. The reconciler will retry.",
			e.Payload["code"], e.IdentityID)
	case audit.OutcomeReconciled:
		if e.Payload["result"] != "skipped" {
			return a, false
		}
		a.Event = EventReconcileSkipped
		a.Level = notifier.LevelWarning
		a.Title = "Pending compensation abandoned"
		a.Message = fmt.Sprintf("Identity %s was not deleted: %v", e.IdentityID, e.Payload["error"])
	default:
		return a, false
	}
	return a, true
}
