package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/logger"
	"github.com/Strob0t/TenantForge/internal/metrics"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

// ProvisionRequest is the inbound provisioning call.
type ProvisionRequest struct {
	IdempotencyKey string
	ActorID        string
	TenantName     string
	TenantSlug     string
	OwnerEmail     string
}

// ProvisionResponse carries the result of a completed provisioning. Body is
// the stored result, byte-identical on every replay.
type ProvisionResponse struct {
	Result   provisioning.Result
	Body     json.RawMessage
	Replayed bool
}

// ProvisioningService provisions a tenant and its owner identity as a saga:
// identity, then tenant and link in one transaction, then verification.
type ProvisioningService struct {
	ledger    *Ledger
	guard     *Guard
	prov      *Provisioner
	registrar *Registrar
	coord     *Coordinator
	tenants   database.Tenants
	audit     *AuditRecorder
	otel      *otel.Metrics
}

// NewProvisioningService creates a ProvisioningService. m may be nil.
func NewProvisioningService(ledger *Ledger, guard *Guard, prov *Provisioner, registrar *Registrar, coord *Coordinator, tenants database.Tenants, rec *AuditRecorder, m *otel.Metrics) *ProvisioningService {
	return &ProvisioningService{
		ledger:    ledger,
		guard:     guard,
		prov:      prov,
		registrar: registrar,
		coord:     coord,
		tenants:   tenants,
		audit:     rec,
		otel:      m,
	}
}

// ProvisionTenant runs or replays the provisioning identified by
// req.IdempotencyKey. Errors are *domain.Error tagged with the key.
func (s *ProvisioningService) ProvisionTenant(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	key := req.IdempotencyKey
	ctx = logger.WithCorrelationID(ctx, key)
	ctx, span := otel.StartSagaSpan(ctx, "provision", key)
	start := time.Now()

	resp, outcome, err := s.provision(ctx, req)
	otel.EndSpan(span, err)

	fresh := outcome == provisioning.Fresh.String()
	result := "completed"
	switch {
	case err != nil && fresh:
		result = "failed"
	case err != nil:
		result = "rejected"
	case resp.Replayed:
		result = "replayed"
	}
	metrics.ProvisioningTotal.WithLabelValues(outcome, result).Inc()
	if s.otel != nil && fresh {
		s.otel.SagaDuration.Record(ctx, time.Since(start).Seconds(),
			otelmetric.WithAttributes(attribute.String("result", result)))
		if err == nil {
			s.otel.SagaCompleted.Add(ctx, 1)
		}
	}

	if err != nil {
		return nil, domain.AsError(err).WithCorrelation(key)
	}
	return resp, nil
}

// provision returns the ledger outcome as a metric label; requests
// refused before the ledger answered are labeled "invalid".
func (s *ProvisioningService) provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, string, error) {
	payload, err := normalizeProvision(req)
	if err != nil {
		s.reject(ctx, req, err)
		return nil, "invalid", err
	}

	begin, err := s.ledger.Begin(ctx, req.IdempotencyKey, payload)
	if err != nil {
		s.reject(ctx, req, err)
		return nil, "invalid", err
	}

	switch begin.Outcome {
	case provisioning.InFlight:
		err := domain.New(domain.CauseKeyInFlight, "a request with this idempotency key is in progress")
		s.reject(ctx, req, err)
		return nil, begin.Outcome.String(), err
	case provisioning.Cached:
		resp, err := s.replay(ctx, req, begin.Request)
		return resp, begin.Outcome.String(), err
	}

	if s.otel != nil {
		s.otel.SagaStarted.Add(ctx, 1)
	}
	resp, err := s.execute(ctx, payload, begin.Request)
	return resp, provisioning.Fresh.String(), err
}

// normalizeProvision validates the request before the ledger sees it, so a
// key is never burned on malformed input.
func normalizeProvision(req ProvisionRequest) (provisioning.Payload, error) {
	if req.ActorID == "" {
		return provisioning.Payload{}, domain.New(domain.CauseInvalidInput, "actor id is required")
	}
	name := strings.TrimSpace(req.TenantName)
	if name == "" || len(name) > 200 {
		return provisioning.Payload{}, domain.New(domain.CauseInvalidInput, "tenant name must be 1-200 characters")
	}
	slug := tenant.NormalizeSlug(req.TenantSlug)
	if !tenant.ValidSlug(slug) {
		return provisioning.Payload{}, domain.New(domain.CauseSlugInvalid, "slug must be 3-64 lowercase letters, digits or hyphens")
	}
	email, err := NormalizeOwnerEmail(req.OwnerEmail)
	if err != nil {
		return provisioning.Payload{}, err
	}
	return provisioning.Payload{ActorID: req.ActorID, TenantName: name, TenantSlug: slug, OwnerEmail: email}, nil
}

func (s *ProvisioningService) replay(ctx context.Context, req ProvisionRequest, row *provisioning.Request) (*ProvisionResponse, error) {
	s.record(ctx, audit.Entry{
		CorrelationID: req.IdempotencyKey,
		ActorID:       req.ActorID,
		Action:        audit.ActionProvision,
		Outcome:       audit.OutcomeReplayed,
		TenantID:      row.TenantID,
		IdentityID:    row.OwnerIdentityID,
		Payload:       map[string]any{"status": string(row.Status)},
	})
	if row.Status != provisioning.StatusCompleted {
		return nil, StoredFailure(row)
	}
	var res provisioning.Result
	if err := json.Unmarshal(row.Result, &res); err != nil {
		return nil, domain.Wrap(domain.ErrExternalService, domain.CauseInternal, err, "stored result is unreadable")
	}
	return &ProvisionResponse{Result: res, Body: row.Result, Replayed: true}, nil
}

func (s *ProvisioningService) execute(ctx context.Context, p provisioning.Payload, row *provisioning.Request) (*ProvisionResponse, error) {
	key := row.IdempotencyKey
	run := &Run{
		CorrelationID: key,
		ActorID:       p.ActorID,
		Action:        audit.ActionProvision,
		LedgerKey:     key,
		Activate:      true,
	}
	s.record(ctx, run.entry(audit.ActionProvision, audit.OutcomeInitiated, map[string]any{
		"tenant_name": p.TenantName,
		"tenant_slug": p.TenantSlug,
		"owner_email": p.OwnerEmail,
		"attempt":     row.Attempts,
	}))

	// Step 1: owner identity.
	resumed, err := s.ownerIdentity(ctx, run, p, row)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSafetyViolation):
			s.record(ctx, run.entry(audit.ActionCreateIdentity, audit.OutcomeSafetyViolation, nil))
		case run.IdentityCreated:
			s.record(ctx, run.entry(audit.ActionCreateIdentity, audit.OutcomeIdentityCreated, map[string]any{"resumed": resumed}))
		}
		return nil, s.coord.Rollback(ctx, run, err)
	}
	s.record(ctx, run.entry(audit.ActionCreateIdentity, audit.OutcomeIdentityCreated, map[string]any{"resumed": resumed}))

	// Step 2: tenant and pending link.
	done, err := s.registerTenant(ctx, run, p, row)
	if err != nil {
		return nil, s.coord.Rollback(ctx, run, err)
	}

	// Step 3: verification.
	var res *provisioning.Result
	if done {
		res = &provisioning.Result{TenantID: run.TenantID, OwnerIdentityID: run.Owner.ID}
		s.record(ctx, run.entry(audit.ActionVerify, audit.OutcomeVerified, map[string]any{"resumed": true}))
	} else {
		res, err = s.coord.VerifyAndFinalize(ctx, run)
		if err != nil {
			return nil, s.coord.Rollback(ctx, run, err)
		}
	}

	// The tenant is final from here on; a ledger failure leaves the row in
	// processing and the next attempt completes it.
	if err := s.coord.Complete(ctx, run, res); err != nil {
		return nil, err
	}
	body, err := json.Marshal(res)
	if err != nil {
		return nil, domain.Wrap(domain.ErrExternalService, domain.CauseInternal, err, "encode result")
	}
	return &ProvisionResponse{Result: *res, Body: body}, nil
}

// ownerIdentity resumes the identity persisted by an earlier attempt or
// creates a new one. The identity id is on the ledger before anything else
// references it.
func (s *ProvisioningService) ownerIdentity(ctx context.Context, run *Run, p provisioning.Payload, row *provisioning.Request) (resumed bool, err error) {
	sctx, span := otel.StartStepSpan(ctx, "identity")
	defer func() { otel.EndSpan(span, err) }()

	if row.OwnerIdentityID != "" {
		ident, found, err := s.prov.Resume(sctx, row.OwnerIdentityID)
		if err != nil {
			return false, err
		}
		if found {
			if ident.Kind != identity.KindTenantOwner {
				return false, domain.New(domain.CauseAdministratorTarget, "persisted owner identity is not a tenant owner")
			}
			run.Owner = ident
			if err := s.guard.Check(sctx, ident.ID); err != nil {
				return false, err
			}
			run.IdentityCreated = true
			return true, nil
		}
		slog.WarnContext(ctx, "persisted owner identity is gone, creating a new one", "identity_id", row.OwnerIdentityID)
	}

	if err := s.registrar.CheckSlug(sctx, p.TenantSlug); err != nil {
		return false, err
	}

	started := time.Now()
	ident, err := s.prov.ResolveOrCreateOwner(sctx, p.OwnerEmail, "")
	if s.otel != nil {
		s.otel.IdentityCallMS.Record(sctx, float64(time.Since(started).Milliseconds()))
	}
	if err != nil {
		return false, err
	}

	run.Owner = ident
	if err := s.guard.Check(sctx, ident.ID); err != nil {
		return false, err
	}
	run.IdentityCreated = true

	if err := s.ledger.RecordIdentity(sctx, run.LedgerKey, ident.ID); err != nil {
		return false, err
	}
	return false, nil
}

// registerTenant writes the tenant and its pending link, or picks up the
// ones an earlier attempt already committed. done is true when that
// attempt had also finalized them.
func (s *ProvisioningService) registerTenant(ctx context.Context, run *Run, p provisioning.Payload, row *provisioning.Request) (done bool, err error) {
	sctx, span := otel.StartStepSpan(ctx, "register")
	defer func() { otel.EndSpan(span, err) }()

	tenantID := row.TenantID
	if tenantID != "" {
		t, err := s.tenants.GetTenant(sctx, tenantID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// The earlier transaction never committed; the id is free.
		case err != nil:
			return false, storeError(err, "read tenant")
		case !t.Deleted() && t.OwnerIdentityID == run.Owner.ID:
			run.TenantID = t.ID
			run.TenantCreated = true
			run.LinkCreated = true
			s.record(ctx, run.entry(audit.ActionRegisterTenant, audit.OutcomeTenantCreated, map[string]any{
				"tenant_slug": t.Slug,
				"resumed":     true,
			}))
			return s.alreadyFinal(sctx, t)
		default:
			tenantID = ""
		}
	}

	if tenantID == "" {
		tenantID = NewTenantID()
		if err := s.ledger.RecordTenant(sctx, run.LedgerKey, tenantID); err != nil {
			return false, err
		}
	}
	run.TenantID = tenantID

	t, err := s.registrar.RegisterTenant(sctx, database.Registration{
		TenantID:     tenantID,
		Name:         p.TenantName,
		Slug:         p.TenantSlug,
		ContactEmail: p.OwnerEmail,
		Owner:        run.Owner,
		GrantedBy:    p.ActorID,
	})
	if err != nil {
		de := domain.AsError(err)
		s.record(ctx, run.entry(audit.ActionRegisterTenant, audit.OutcomeTenantCreateFailed, map[string]any{
			"code":   string(de.Cause),
			"detail": de.Message,
		}))
		return false, err
	}
	run.TenantCreated = true
	run.LinkCreated = true
	s.record(ctx, run.entry(audit.ActionRegisterTenant, audit.OutcomeTenantCreated, map[string]any{"tenant_slug": t.Slug}))
	return false, nil
}

func (s *ProvisioningService) alreadyFinal(ctx context.Context, t *tenant.Tenant) (bool, error) {
	if t.Status != tenant.StatusActive {
		return false, nil
	}
	link, err := s.tenants.GetOwnershipLink(ctx, t.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeError(err, "read ownership link")
	}
	return link.Status == tenant.LinkCompleted && link.OwnerIdentityID == t.OwnerIdentityID, nil
}

// reject records a request that never started an attempt.
func (s *ProvisioningService) reject(ctx context.Context, req ProvisionRequest, err error) {
	if req.IdempotencyKey == "" {
		return
	}
	de := domain.AsError(err)
	s.record(ctx, audit.Entry{
		CorrelationID: req.IdempotencyKey,
		ActorID:       req.ActorID,
		Action:        audit.ActionProvision,
		Outcome:       audit.OutcomeRejected,
		Payload:       map[string]any{"code": string(de.Cause)},
	})
}

func (s *ProvisioningService) record(ctx context.Context, e audit.Entry) {
	if err := s.audit.Record(ctx, e); err != nil {
		slog.ErrorContext(ctx, "audit write failed", "action", e.Action, "outcome", e.Outcome, "error", err)
	}
}
