package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/logger"
	"github.com/Strob0t/TenantForge/internal/metrics"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

// RotateRequest asks to change one credential of a tenant's owner.
type RotateRequest struct {
	TenantID string         `json:"tenant_id"`
	Field    identity.Field `json:"field"`
	NewValue string         `json:"new_value"` //nolint:gosec // request field, never logged
	ActorID  string         `json:"actor_id"`
}

// RotateResult reports which identity was changed. It never carries the value.
type RotateResult struct {
	CorrelationID   string `json:"correlation_id"`
	OwnerIdentityID string `json:"owner_identity_id"`
	OwnerCreated    bool   `json:"owner_created"`
}

// Owner resolution paths, recorded in the audit payload.
const (
	resolvedByTenant  = "tenant_owner"
	resolvedByLink    = "ownership_link"
	resolvedByCreated = "created"
)

// RotationService changes tenant-owner credentials. Every mutation is scoped
// by identity id and preceded by the administrator guard.
type RotationService struct {
	tenants   database.Tenants
	dir       database.Directory
	guard     *Guard
	prov      *Provisioner
	registrar *Registrar
	coord     *Coordinator
	audit     *AuditRecorder
}

// NewRotationService creates a RotationService.
func NewRotationService(tenants database.Tenants, dir database.Directory, guard *Guard, prov *Provisioner, registrar *Registrar, coord *Coordinator, rec *AuditRecorder) *RotationService {
	return &RotationService{
		tenants:   tenants,
		dir:       dir,
		guard:     guard,
		prov:      prov,
		registrar: registrar,
		coord:     coord,
		audit:     rec,
	}
}

// RotateOwnerCredential resolves the tenant's owner identity and changes
// req.Field to req.NewValue. A tenant without an owner gets a new dedicated
// owner when the field is email.
func (s *RotationService) RotateOwnerCredential(ctx context.Context, req RotateRequest) (*RotateResult, error) {
	corr := uuid.New().String()
	ctx = logger.WithCorrelationID(ctx, corr)
	ctx, span := otel.StartSagaSpan(ctx, "rotate", corr)

	res, err := s.rotate(ctx, corr, req)
	otel.EndSpan(span, err)

	result := "ok"
	if err != nil {
		result = string(domain.AsError(err).Cause)
		metrics.RotationsTotal.WithLabelValues(string(req.Field), result).Inc()
		return nil, domain.AsError(err).WithCorrelation(corr)
	}
	metrics.RotationsTotal.WithLabelValues(string(req.Field), result).Inc()
	return res, nil
}

func (s *RotationService) rotate(ctx context.Context, corr string, req RotateRequest) (*RotateResult, error) {
	base := audit.Entry{
		CorrelationID: corr,
		ActorID:       req.ActorID,
		Action:        audit.ActionRotateCredential,
		TenantID:      req.TenantID,
	}
	value, err := validateRotation(&req)
	if err != nil {
		s.record(ctx, base, audit.OutcomeRejected, "", map[string]any{
			"field": string(req.Field),
			"code":  string(domain.AsError(err).Cause),
		})
		return nil, err
	}
	s.record(ctx, base, audit.OutcomeInitiated, "", map[string]any{"field": string(req.Field)})

	res, err := s.resolveAndRotate(ctx, corr, req, value)
	if err != nil {
		de := domain.AsError(err)
		id := ""
		if res != nil {
			id = res.OwnerIdentityID
		}
		if errors.Is(de, domain.ErrSafetyViolation) {
			s.record(ctx, base, audit.OutcomeSafetyViolation, id, map[string]any{"field": string(req.Field)})
		}
		s.record(ctx, base, audit.OutcomeFailed, id, map[string]any{
			"field":     string(req.Field),
			"code":      string(de.Cause),
			"retryable": de.Retryable(),
		})
		return nil, de
	}
	return res, nil
}

// validateRotation normalizes req in place and returns the value to write.
func validateRotation(req *RotateRequest) (string, error) {
	if _, err := uuid.Parse(req.TenantID); err != nil {
		return "", domain.New(domain.CauseTenantNotFound, "tenant %q not found", req.TenantID)
	}
	if req.ActorID == "" {
		return "", domain.New(domain.CauseInvalidInput, "actor id is required")
	}
	switch req.Field {
	case identity.FieldEmail:
		return NormalizeOwnerEmail(req.NewValue)
	case identity.FieldPassword:
		if err := identity.ValidatePassword(req.NewValue); err != nil {
			return "", domain.New(domain.CausePasswordWeak, "%s", err.Error())
		}
		return req.NewValue, nil
	default:
		return "", domain.New(domain.CauseInvalidInput, "field must be email or password")
	}
}

func (s *RotationService) resolveAndRotate(ctx context.Context, corr string, req RotateRequest, value string) (*RotateResult, error) {
	t, err := s.tenants.GetTenant(ctx, req.TenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.New(domain.CauseTenantNotFound, "tenant %s not found", req.TenantID)
	}
	if err != nil {
		return nil, storeError(err, "read tenant")
	}
	if t.Deleted() {
		return nil, domain.New(domain.CauseTenantDeleted, "tenant %s is deleted", req.TenantID)
	}

	ownerID, how, err := s.resolveOwner(ctx, t)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return s.createOwner(ctx, corr, req, t, value)
	}

	res := &RotateResult{CorrelationID: corr, OwnerIdentityID: ownerID}
	if err := s.guard.Check(ctx, ownerID); err != nil {
		return res, err
	}

	var summary map[string]any
	switch req.Field {
	case identity.FieldEmail:
		summary, err = s.rotateEmail(ctx, ownerID, t.ID, value)
	default:
		summary = map[string]any{"before": audit.Redacted, "after": audit.Redacted}
		err = s.prov.UpdateCredential(ctx, ownerID, identity.FieldPassword, value)
	}
	if err != nil {
		return res, err
	}

	summary["field"] = string(req.Field)
	summary["resolved_by"] = how
	s.record(ctx, audit.Entry{
		CorrelationID: corr,
		ActorID:       req.ActorID,
		Action:        audit.ActionRotateCredential,
		TenantID:      t.ID,
	}, audit.OutcomeCredentialRotated, ownerID, summary)
	return res, nil
}

// resolveOwner returns the identity to mutate: the tenant's owner reference
// when it is a live tenant owner, else the owner of the tenant's live
// ownership link. An empty id means the tenant has no owner.
func (s *RotationService) resolveOwner(ctx context.Context, t *tenant.Tenant) (id, how string, err error) {
	if t.OwnerIdentityID != "" {
		ok, err := s.isLiveOwner(ctx, t.OwnerIdentityID)
		if err != nil {
			return "", "", err
		}
		if ok {
			return t.OwnerIdentityID, resolvedByTenant, nil
		}
	}

	link, err := s.tenants.GetOwnershipLink(ctx, t.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "", "", nil
	case err != nil:
		return "", "", storeError(err, "read ownership link")
	}
	return link.OwnerIdentityID, resolvedByLink, nil
}

func (s *RotationService) isLiveOwner(ctx context.Context, id string) (bool, error) {
	ref, err := s.dir.GetIdentityRef(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeError(err, "read identity reference")
	}
	if ref.Kind != identity.KindTenantOwner {
		return false, nil
	}
	_, found, err := s.prov.Resume(ctx, id)
	return found, err
}

// rotateEmail changes the email at the identity service and then the local
// reference. If the local update fails the service is set back.
func (s *RotationService) rotateEmail(ctx context.Context, ownerID, tenantID, email string) (map[string]any, error) {
	if err := s.prov.CheckEmailAvailable(ctx, email, tenantID); err != nil {
		return nil, err
	}

	before := ""
	ref, err := s.dir.GetIdentityRef(ctx, ownerID)
	switch {
	case err == nil:
		before = ref.Email
	case !errors.Is(err, domain.ErrNotFound):
		return nil, storeError(err, "read identity reference")
	}

	if err := s.prov.UpdateCredential(ctx, ownerID, identity.FieldEmail, email); err != nil {
		return nil, err
	}

	err = s.dir.UpdateIdentityRefEmail(ctx, ownerID, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		if before != "" {
			if rerr := s.prov.UpdateCredential(context.WithoutCancel(ctx), ownerID, identity.FieldEmail, before); rerr != nil {
				slog.ErrorContext(ctx, "failed to revert identity email", "identity_id", ownerID, "error", rerr)
			}
		}
		if errors.Is(err, database.ErrEmailTaken) {
			return nil, domain.Wrap(domain.ErrValidation, domain.CauseEmailInUse, err, "email already used by identities")
		}
		return nil, storeError(err, "update identity reference email")
	}
	return map[string]any{"before_email": before, "after_email": email}, nil
}

// createOwner gives an ownerless tenant a dedicated owner whose email is
// the rotated value. The identity, attach and verification steps are
// compensated like a provisioning run.
func (s *RotationService) createOwner(ctx context.Context, corr string, req RotateRequest, t *tenant.Tenant, email string) (*RotateResult, error) {
	if req.Field != identity.FieldEmail {
		return nil, domain.New(domain.CauseNoOwner, "tenant has no owner; rotate the email first to create one")
	}

	owner, err := s.prov.ResolveOrCreateOwner(ctx, email, t.ID)
	if err != nil {
		return nil, err
	}
	run := &Run{
		CorrelationID:   corr,
		ActorID:         req.ActorID,
		Action:          audit.ActionAttachOwner,
		Owner:           owner,
		IdentityCreated: true,
		TenantID:        t.ID,
	}
	res := &RotateResult{CorrelationID: corr, OwnerIdentityID: owner.ID, OwnerCreated: true}
	s.record(ctx, run.entry(audit.ActionCreateIdentity, audit.OutcomeIdentityCreated, nil), "", "", nil)

	if err := s.guard.Check(ctx, owner.ID); err != nil {
		run.IdentityCreated = false
		return res, s.coord.Rollback(ctx, run, err)
	}
	if err := s.registrar.AttachOwner(ctx, t.ID, owner, req.ActorID); err != nil {
		return res, s.coord.Rollback(ctx, run, err)
	}
	run.OwnerAttached = true
	run.LinkCreated = true

	out, err := s.coord.VerifyAndFinalize(ctx, run)
	if err != nil {
		return res, s.coord.Rollback(ctx, run, err)
	}
	if err := s.coord.Complete(ctx, run, out); err != nil {
		return res, err
	}

	s.record(ctx, run.entry(audit.ActionRotateCredential, audit.OutcomeCredentialRotated, nil), "", "", map[string]any{
		"field":           string(req.Field),
		"resolved_by":     resolvedByCreated,
		"before_email":    "",
		"after_email":     email,
		"setup_link_sent": out.SetupLinkSent,
	})
	return res, nil
}

// record appends base with the given outcome. An empty identityID keeps
// the one already on base.
func (s *RotationService) record(ctx context.Context, base audit.Entry, outcome audit.Outcome, identityID string, payload map[string]any) {
	e := base
	if outcome != "" {
		e.Outcome = outcome
	}
	if identityID != "" {
		e.IdentityID = identityID
	}
	if payload != nil {
		e.Payload = payload
	}
	if err := s.audit.Record(ctx, e); err != nil {
		slog.ErrorContext(ctx, "audit write failed", "action", e.Action, "outcome", e.Outcome, "error", err)
	}
}
