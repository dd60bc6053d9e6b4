package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

// Registrar writes a tenant and its ownership link in one transaction, always
// referencing an identity that already exists.
type Registrar struct {
	store     database.Tenants
	reserved  map[string]bool
	txTimeout time.Duration
}

// NewRegistrar creates a Registrar.
func NewRegistrar(store database.Tenants, reservedSlugs []string, txTimeout time.Duration) *Registrar {
	return &Registrar{store: store, reserved: tenant.ReservedSet(reservedSlugs), txTimeout: txTimeout}
}

// CheckSlug validates slug syntax, the reserved list and availability among
// live tenants. Soft-deleted tenants do not hold their slug.
func (r *Registrar) CheckSlug(ctx context.Context, slug string) error {
	if !tenant.ValidSlug(slug) {
		return domain.New(domain.CauseSlugInvalid, "slug must be 3-64 lowercase letters, digits or hyphens")
	}
	if r.reserved[slug] {
		return domain.New(domain.CauseSlugReserved, "slug %q is reserved", slug)
	}
	inUse, err := r.store.SlugInUse(ctx, slug)
	if err != nil {
		return storeError(err, "slug availability check")
	}
	if inUse {
		return domain.New(domain.CauseSlugTaken, "slug %q is taken", slug)
	}
	return nil
}

// NewTenantID returns the id for a tenant about to be registered.
func NewTenantID() string { return uuid.New().String() }

// RegisterTenant inserts the tenant (provisioning) and its link (pending).
// On error nothing was persisted.
func (r *Registrar) RegisterTenant(ctx context.Context, reg database.Registration) (*tenant.Tenant, error) {
	if reg.Owner.ID == "" || reg.Owner.Kind != identity.KindTenantOwner {
		return nil, domain.New(domain.CauseInvalidInput, "owner must be an existing tenant-owner identity")
	}
	if reg.TenantID == "" {
		reg.TenantID = NewTenantID()
	}
	if err := r.CheckSlug(ctx, reg.Slug); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()
	t, err := r.store.RegisterTenant(tctx, reg)
	if err != nil {
		return nil, registrationError(err, "register tenant")
	}
	return t, nil
}

// AttachOwner makes owner the owner of an ownerless tenant and inserts a
// pending link, in one transaction.
func (r *Registrar) AttachOwner(ctx context.Context, tenantID string, owner identity.Identity, grantedBy string) error {
	if owner.ID == "" || owner.Kind != identity.KindTenantOwner {
		return domain.New(domain.CauseInvalidInput, "owner must be an existing tenant-owner identity")
	}
	tctx, cancel := context.WithTimeout(ctx, r.txTimeout)
	defer cancel()
	if err := r.store.AttachOwner(tctx, tenantID, owner, grantedBy); err != nil {
		return registrationError(err, "attach owner")
	}
	return nil
}

func registrationError(err error, msg string) *domain.Error {
	switch {
	case errors.Is(err, database.ErrSlugTaken):
		return domain.Wrap(domain.ErrValidation, domain.CauseSlugTaken, err, "slug is taken")
	case errors.Is(err, database.ErrEmailTaken):
		return domain.Wrap(domain.ErrValidation, domain.CauseEmailInUse, err, "email already used by identities")
	case errors.Is(err, database.ErrKindMismatch):
		return domain.Wrap(domain.ErrSafetyViolation, domain.CauseAdministratorTarget, err, "owner identity is registered with another kind")
	case errors.Is(err, domain.ErrConflict):
		return domain.Wrap(domain.ErrVerification, domain.CauseOwnerMismatch, err, msg+": tenant already has an owner")
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.ErrExternalService, domain.CauseStoreTimeout, err, msg+": transaction timed out")
	default:
		return domain.Wrap(domain.ErrExternalService, domain.CauseStoreUnavailable, err, msg)
	}
}
