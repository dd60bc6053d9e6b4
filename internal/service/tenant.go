package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

// TenantService exposes the read side of tenants and the soft delete.
type TenantService struct {
	store  database.Tenants
	ledger *Ledger
	audit  *AuditRecorder
}

// NewTenantService creates a new TenantService.
func NewTenantService(store database.Tenants, ledger *Ledger, rec *AuditRecorder) *TenantService {
	return &TenantService{store: store, ledger: ledger, audit: rec}
}

// Get returns a tenant by ID, including soft-deleted ones.
func (s *TenantService) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.New(domain.CauseTenantNotFound, "tenant %q not found", id)
	}
	t, err := s.store.GetTenant(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Wrap(domain.ErrNotFound, domain.CauseTenantNotFound, err, "tenant not found")
	}
	if err != nil {
		return nil, storeError(err, "read tenant")
	}
	return t, nil
}

// SoftDelete marks the tenant deleted. Its slug is free for reuse at once;
// the row and its owner identity are kept.
func (s *TenantService) SoftDelete(ctx context.Context, id, actorID string) (string, error) {
	corr := uuid.New().String()
	t, err := s.Get(ctx, id)
	if err != nil {
		return corr, domain.AsError(err).WithCorrelation(corr)
	}
	if t.Deleted() {
		return corr, domain.New(domain.CauseTenantDeleted, "tenant %s is already deleted", id).WithCorrelation(corr)
	}
	if err := s.store.SoftDeleteTenant(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return corr, domain.New(domain.CauseTenantDeleted, "tenant %s is already deleted", id).WithCorrelation(corr)
		}
		return corr, storeError(err, "soft delete tenant").WithCorrelation(corr)
	}

	if err := s.audit.Record(ctx, audit.Entry{
		CorrelationID: corr,
		ActorID:       actorID,
		Action:        audit.ActionSoftDelete,
		Outcome:       audit.OutcomeSoftDeleted,
		TenantID:      id,
		IdentityID:    t.OwnerIdentityID,
		Payload:       map[string]any{"tenant_slug": t.Slug},
	}); err != nil {
		slog.ErrorContext(ctx, "audit write failed", "action", audit.ActionSoftDelete, "error", err)
	}
	slog.InfoContext(ctx, "tenant soft-deleted", "tenant_id", id, "slug", t.Slug)
	return corr, nil
}

// GetProvisioningRequest returns the ledger row for an idempotency key.
func (s *TenantService) GetProvisioningRequest(ctx context.Context, key string) (*provisioning.Request, error) {
	return s.ledger.Get(ctx, key)
}

// ListAudit returns the audit trail of one correlation id.
func (s *TenantService) ListAudit(ctx context.Context, correlationID string) ([]audit.Entry, error) {
	entries, err := s.audit.List(ctx, correlationID)
	if err != nil {
		return nil, storeError(err, "list audit entries")
	}
	return entries, nil
}
