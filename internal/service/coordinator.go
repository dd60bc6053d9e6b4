package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/metrics"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

// defaultCompensateTimeout bounds the whole compensation sequence. It runs
// detached from the caller's context.
const defaultCompensateTimeout = 30 * time.Second

// Compensation step names, used in audit payloads and metrics.
const (
	stepLink     = "link"
	stepTenant   = "tenant"
	stepIdentity = "identity"
)

// Run carries what one saga has done so far. Compensation undoes exactly the
// steps flagged here, in reverse order.
type Run struct {
	CorrelationID string
	ActorID       string
	// Action is the saga's top-level audit action.
	Action string
	// LedgerKey is empty for sagas that are not tracked by the ledger.
	LedgerKey string

	Owner           identity.Identity
	IdentityCreated bool
	TenantID        string
	TenantCreated   bool
	OwnerAttached   bool
	LinkCreated     bool
	// Activate moves the tenant provisioning -> active on finalize.
	Activate bool
}

func (r *Run) entry(action string, outcome audit.Outcome, payload map[string]any) audit.Entry {
	return audit.Entry{
		CorrelationID: r.CorrelationID,
		ActorID:       r.ActorID,
		Action:        action,
		Outcome:       outcome,
		TenantID:      r.TenantID,
		IdentityID:    r.Owner.ID,
		Payload:       payload,
	}
}

// Coordinator re-reads what a saga wrote and either finalizes it or undoes it.
type Coordinator struct {
	tenants database.Tenants
	dir     database.Directory
	prov    *Provisioner
	guard   *Guard
	ledger  *Ledger
	audit   *AuditRecorder
	otel    *otel.Metrics

	compensateTimeout time.Duration
}

// NewCoordinator creates a Coordinator. m may be nil.
func NewCoordinator(tenants database.Tenants, dir database.Directory, prov *Provisioner, guard *Guard, ledger *Ledger, rec *AuditRecorder, m *otel.Metrics) *Coordinator {
	return &Coordinator{
		tenants:           tenants,
		dir:               dir,
		prov:              prov,
		guard:             guard,
		ledger:            ledger,
		audit:             rec,
		otel:              m,
		compensateTimeout: defaultCompensateTimeout,
	}
}

// VerifyAndFinalize checks that the tenant and its pending link both point at
// run.Owner, then completes the link (and activates the tenant) atomically.
// A mismatch is recorded as verification_failed and returned as a
// VerificationError; the caller must then Rollback.
func (c *Coordinator) VerifyAndFinalize(ctx context.Context, run *Run) (*provisioning.Result, error) {
	ctx, span := otel.StartStepSpan(ctx, "verify")
	err := c.verify(ctx, run)
	if err == nil {
		err = c.finalize(ctx, run)
	}
	otel.EndSpan(span, err)
	if err != nil {
		de := domain.AsError(err)
		c.record(ctx, run.entry(audit.ActionVerify, audit.OutcomeVerificationFailed, map[string]any{
			"code":   string(de.Cause),
			"detail": de.Message,
		}))
		return nil, err
	}
	c.record(ctx, run.entry(audit.ActionVerify, audit.OutcomeVerified, nil))

	res := &provisioning.Result{TenantID: run.TenantID, OwnerIdentityID: run.Owner.ID}
	if err := c.prov.SendSetupLink(ctx, run.Owner.ID); err != nil {
		slog.WarnContext(ctx, "setup link not sent", "identity_id", run.Owner.ID, "error", err)
	} else {
		res.SetupLinkSent = true
	}
	return res, nil
}

func (c *Coordinator) verify(ctx context.Context, run *Run) error {
	t, err := c.tenants.GetTenant(ctx, run.TenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Errorf(domain.ErrVerification, domain.CauseTenantState, "tenant %s not found after write", run.TenantID)
	}
	if err != nil {
		return storeError(err, "re-read tenant")
	}
	link, err := c.tenants.GetOwnershipLink(ctx, run.TenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.New(domain.CauseLinkState, "ownership link not found after write")
	}
	if err != nil {
		return storeError(err, "re-read ownership link")
	}

	switch {
	case t.Deleted():
		return domain.New(domain.CauseTenantState, "tenant was deleted")
	case t.OwnerIdentityID != run.Owner.ID:
		return domain.New(domain.CauseOwnerMismatch, "tenant owner does not match created identity")
	case link.OwnerIdentityID != run.Owner.ID:
		return domain.New(domain.CauseOwnerMismatch, "ownership link does not match created identity")
	case link.Status != tenant.LinkPending:
		return domain.New(domain.CauseLinkState, "ownership link is %s, not pending", link.Status)
	case run.Activate && t.Status != tenant.StatusProvisioning:
		return domain.New(domain.CauseTenantState, "tenant is %s, not provisioning", t.Status)
	}
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, run *Run) error {
	err := c.tenants.FinalizeTenant(ctx, run.TenantID, run.Owner.ID, run.Activate)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConflict):
		return domain.Wrap(domain.ErrVerification, domain.CauseLinkState, err, "finalize changed no rows")
	default:
		de := storeError(err, "finalize tenant")
		return domain.Wrap(domain.ErrVerification, de.Cause, err, de.Message)
	}
}

// Complete stores the result on the ledger and records the completed entry.
func (c *Coordinator) Complete(ctx context.Context, run *Run, res *provisioning.Result) error {
	if run.LedgerKey != "" {
		if _, err := c.ledger.Complete(ctx, run.LedgerKey, *res); err != nil {
			return err
		}
	}
	c.record(ctx, run.entry(run.Action, audit.OutcomeCompleted, map[string]any{
		"setup_link_sent": res.SetupLinkSent,
	}))
	return nil
}

// Rollback undoes the steps recorded on run in reverse creation order, fails
// the ledger row and records the failed entry. Every step runs even if an
// earlier one failed. The returned error is cause, tagged with the
// correlation id; compensation failures are logged, never returned.
func (c *Coordinator) Rollback(ctx context.Context, run *Run, cause error) *domain.Error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.compensateTimeout)
	defer cancel()

	identityKept := c.compensate(ctx, run)

	de := domain.AsError(cause)
	if run.LedgerKey != "" {
		if err := c.ledger.Fail(ctx, run.LedgerKey, de, de.Retryable(), identityKept); err != nil {
			slog.ErrorContext(ctx, "failed to record provisioning failure", "key", run.LedgerKey, "error", err)
		}
	}
	c.record(ctx, run.entry(run.Action, audit.OutcomeFailed, map[string]any{
		"code":                 string(de.Cause),
		"retryable":            de.Retryable(),
		"compensation_pending": identityKept,
	}))
	if c.otel != nil {
		c.otel.SagaFailed.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("cause", string(de.Cause))))
	}
	return de.WithCorrelation(run.CorrelationID)
}

// compensate runs the undo steps and reports whether the created identity
// is still present at the identity service.
func (c *Coordinator) compensate(ctx context.Context, run *Run) (identityKept bool) {
	if run.LinkCreated {
		c.step(ctx, run, stepLink, audit.ActionCompensateLink, func(ctx context.Context) error {
			return ignoreNotFound(c.tenants.FailOwnershipLink(ctx, run.TenantID, run.Owner.ID))
		})
	}
	switch {
	case run.TenantCreated:
		c.step(ctx, run, stepTenant, audit.ActionCompensateTenant, func(ctx context.Context) error {
			return ignoreNotFound(c.tenants.SoftDeleteTenant(ctx, run.TenantID))
		})
	case run.OwnerAttached:
		c.step(ctx, run, stepTenant, audit.ActionCompensateTenant, func(ctx context.Context) error {
			return ignoreNotFound(c.tenants.DetachOwner(ctx, run.TenantID, run.Owner.ID))
		})
	}
	if !run.IdentityCreated {
		return false
	}
	err := c.step(ctx, run, stepIdentity, audit.ActionCompensateIdentity, func(ctx context.Context) error {
		return c.DeleteOwnerIdentity(ctx, run.Owner.ID)
	})
	return err != nil
}

// DeleteOwnerIdentity deletes a tenant-owner identity at the identity
// service and then its local reference. An administrator is never deleted.
func (c *Coordinator) DeleteOwnerIdentity(ctx context.Context, id string) error {
	if err := c.guard.Check(ctx, id); err != nil {
		return err
	}
	if err := c.prov.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.dir.DeleteIdentityRef(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return storeError(err, "delete identity reference")
	}
	return nil
}

func (c *Coordinator) step(ctx context.Context, run *Run, name, action string, fn func(context.Context) error) error {
	sctx, span := otel.StartStepSpan(ctx, "compensate."+name)
	err := fn(sctx)
	otel.EndSpan(span, err)

	result := "ok"
	payload := map[string]any{"step": name}
	if err != nil {
		result = "error"
		payload["error"] = domain.AsError(err).Message
		slog.ErrorContext(ctx, "compensation step failed",
			"step", name, "correlation_id", run.CorrelationID, "tenant_id", run.TenantID,
			"identity_id", run.Owner.ID, "error", err)
	}
	metrics.CompensationStepsTotal.WithLabelValues(name, result).Inc()
	if c.otel != nil {
		c.otel.Compensations.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("step", name), attribute.String("result", result)))
	}
	c.record(ctx, run.entry(action, audit.OutcomeRolledBack, payload))
	return err
}

// record appends an audit entry. The audit write is not allowed to change the
// outcome of the saga, so its failure is logged only.
func (c *Coordinator) record(ctx context.Context, e audit.Entry) {
	if err := c.audit.Record(ctx, e); err != nil {
		slog.ErrorContext(ctx, "audit write failed", "action", e.Action, "outcome", e.Outcome, "error", err)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
