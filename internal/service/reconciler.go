package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/metrics"
)

// reconcilerActor is the actor id recorded on reconciler audit entries.
const reconcilerActor = "system:reconciler"

// Reconciler retries identity deletions that failed during compensation.
type Reconciler struct {
	ledger   *Ledger
	coord    *Coordinator
	audit    *AuditRecorder
	interval time.Duration
	batch    int
}

// NewReconciler creates a Reconciler.
func NewReconciler(ledger *Ledger, coord *Coordinator, rec *AuditRecorder, interval time.Duration, batch int) *Reconciler {
	return &Reconciler{ledger: ledger, coord: coord, audit: rec, interval: interval, batch: batch}
}

// Start runs reconciliation every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.RunOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reconcile failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "reconciled pending compensations", "count", n)
			}
		}
	}
}

// RunOnce processes one batch and returns how many rows were cleared.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	reqs, err := r.ledger.PendingCompensations(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for i := range reqs {
		req := &reqs[i]
		err := r.coord.DeleteOwnerIdentity(ctx, req.OwnerIdentityID)

		result := "ok"
		payload := map[string]any{"step": stepIdentity}
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSafetyViolation):
			// Never delete an administrator; give up on this row.
			result = "skipped"
			payload["error"] = domain.AsError(err).Message
		default:
			result = "error"
			payload["error"] = domain.AsError(err).Message
			slog.WarnContext(ctx, "identity compensation still failing",
				"key", req.IdempotencyKey, "identity_id", req.OwnerIdentityID, "error", err)
		}
		payload["result"] = result
		metrics.ReconciledTotal.WithLabelValues(result).Inc()

		if result != "error" {
			if err := r.ledger.ClearCompensation(ctx, req.IdempotencyKey); err != nil {
				slog.ErrorContext(ctx, "failed to clear compensation", "key", req.IdempotencyKey, "error", err)
				continue
			}
			cleared++
		}

		if err := r.audit.Record(ctx, audit.Entry{
			CorrelationID: req.IdempotencyKey,
			ActorID:       reconcilerActor,
			Action:        audit.ActionReconcile,
			Outcome:       audit.OutcomeReconciled,
			TenantID:      req.TenantID,
			IdentityID:    req.OwnerIdentityID,
			Payload:       payload,
		}); err != nil {
			slog.ErrorContext(ctx, "audit write failed", "action", audit.ActionReconcile, "error", err)
		}
	}
	return cleared, nil
}
