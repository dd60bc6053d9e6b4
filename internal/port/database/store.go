// Package database defines the database store port (interface).
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

// Constraint violations a store reports by name. All wrap domain.ErrConflict.
var (
	ErrSlugTaken  = fmt.Errorf("slug taken: %w", domain.ErrConflict)
	ErrEmailTaken = fmt.Errorf("email taken: %w", domain.ErrConflict)
	// ErrKindMismatch means the identity is already recorded with another kind.
	ErrKindMismatch = fmt.Errorf("identity kind mismatch: %w", domain.ErrConflict)
)

// Store is the port interface for database operations.
type Store interface {
	Ledger
	Tenants
	Directory
	AuditLog
}

// Ledger persists provisioning requests keyed by idempotency key.
type Ledger interface {
	// InsertProvisioningRequest inserts req in status pending. It returns
	// false, nil when a row with the same key already exists.
	InsertProvisioningRequest(ctx context.Context, req *provisioning.Request) (bool, error)
	GetProvisioningRequest(ctx context.Context, key string) (*provisioning.Request, error)
	// ClaimProvisioningRequest atomically moves the row to processing when it is
	// pending, failed and retryable with no compensation outstanding, or
	// pending/processing with updated_at before staleBefore. It returns
	// domain.ErrConflict when no transition happened.
	ClaimProvisioningRequest(ctx context.Context, key string, staleBefore time.Time) (*provisioning.Request, error)
	RecordProvisioningIdentity(ctx context.Context, key, identityID string) error
	RecordProvisioningTenant(ctx context.Context, key, tenantID string) error
	CompleteProvisioningRequest(ctx context.Context, key string, result []byte) error
	FailProvisioningRequest(ctx context.Context, key string, f provisioning.Failure) error
	// ListPendingCompensations returns failed requests whose identity could
	// not be deleted during rollback.
	ListPendingCompensations(ctx context.Context, limit int) ([]provisioning.Request, error)
	ClearCompensation(ctx context.Context, key string) error
}

// Registration is the input of the create-and-link transaction.
type Registration struct {
	TenantID     string
	Name         string
	Slug         string
	ContactEmail string
	Owner        identity.Identity
	GrantedBy    string
}

// Tenants persists tenants and ownership links.
type Tenants interface {
	// RegisterTenant inserts the owner's identity reference, the tenant
	// (provisioning) and its ownership link (pending) in one transaction.
	RegisterTenant(ctx context.Context, reg Registration) (*tenant.Tenant, error)
	// AttachOwner sets the owner of an ownerless tenant and inserts a pending
	// link in one transaction.
	AttachOwner(ctx context.Context, tenantID string, owner identity.Identity, grantedBy string) error
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetOwnershipLink(ctx context.Context, tenantID string) (*tenant.OwnershipLink, error)
	SlugInUse(ctx context.Context, slug string) (bool, error)
	// FinalizeTenant moves the link pending -> completed and, when
	// activate is true, the tenant provisioning -> active, atomically.
	FinalizeTenant(ctx context.Context, tenantID, ownerID string, activate bool) error
	FailOwnershipLink(ctx context.Context, tenantID, ownerID string) error
	DetachOwner(ctx context.Context, tenantID, ownerID string) error
	SoftDeleteTenant(ctx context.Context, tenantID string) error
}

// EmailHolder names the table that already uses an email address.
type EmailHolder string

const (
	HolderIdentities EmailHolder = "identities"
	HolderTenants    EmailHolder = "tenants"
	HolderStaff      EmailHolder = "staff_members"
)

// Directory gives read access to identity references and the email holders
// that participate in the cross-entity uniqueness check.
type Directory interface {
	// EmailInUse reports whether email (already normalized) is held by the
	// given table, ignoring soft-deleted tenants and excludeTenantID.
	EmailInUse(ctx context.Context, holder EmailHolder, email, excludeTenantID string) (bool, error)
	GetIdentityRef(ctx context.Context, id string) (*identity.Identity, error)
	// UpsertIdentityRef records an identity outside a registration, e.g. when
	// seeding platform administrators. A kind change is rejected.
	UpsertIdentityRef(ctx context.Context, ident identity.Identity) error
	UpdateIdentityRefEmail(ctx context.Context, id, email string) error
	DeleteIdentityRef(ctx context.Context, id string) error
	// ListAdministratorIDs reads the administrator roster view.
	ListAdministratorIDs(ctx context.Context) ([]string, error)
}

// AuditLog is the append-only audit sink.
type AuditLog interface {
	AppendAudit(ctx context.Context, e *audit.Entry) error
	ListAudit(ctx context.Context, correlationID string) ([]audit.Entry, error)
}
