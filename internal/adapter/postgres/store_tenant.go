package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

const tenantColumns = `id::text, name, slug, contact_email, owner_identity_id, status, deleted_at, created_at, updated_at`

// --- Tenant registration ---

func (s *Store) RegisterTenant(ctx context.Context, reg database.Registration) (*tenant.Tenant, error) {
	var t *tenant.Tenant
	err := s.inTx(ctx, "register tenant", func(tx pgx.Tx) error {
		if err := upsertIdentityRef(ctx, tx, reg.Owner); err != nil {
			return fmt.Errorf("register tenant %s: %w", reg.Slug, err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO tenants (id, name, slug, contact_email, owner_identity_id, status)
			VALUES ($1, $2, $3, $4, $5, 'provisioning')
			RETURNING `+tenantColumns,
			reg.TenantID, reg.Name, reg.Slug, reg.ContactEmail, reg.Owner.ID)
		var err error
		if t, err = scanTenant(row); err != nil {
			if code, _ := pgErrorCode(err); code == codeUniqueViolation {
				return fmt.Errorf("register tenant %s: %w", reg.Slug, database.ErrSlugTaken)
			}
			return fmt.Errorf("register tenant %s: %w", reg.Slug, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO ownership_links (tenant_id, owner_identity_id, status, granted_by)
			VALUES ($1, $2, 'pending', $3)`,
			reg.TenantID, reg.Owner.ID, reg.GrantedBy); err != nil {
			return fmt.Errorf("register tenant %s: insert ownership link: %w", reg.Slug, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) AttachOwner(ctx context.Context, tenantID string, owner identity.Identity, grantedBy string) error {
	return s.inTx(ctx, "attach owner", func(tx pgx.Tx) error {
		if err := upsertIdentityRef(ctx, tx, owner); err != nil {
			return fmt.Errorf("attach owner to tenant %s: %w", tenantID, err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE tenants SET owner_identity_id = $2, updated_at = now()
			WHERE id = $1 AND owner_identity_id IS NULL AND deleted_at IS NULL`,
			tenantID, owner.ID)
		if err := execExpectOne(tag, err, domain.ErrConflict, "attach owner to tenant %s", tenantID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO ownership_links (tenant_id, owner_identity_id, status, granted_by)
			VALUES ($1, $2, 'pending', $3)`,
			tenantID, owner.ID, grantedBy); err != nil {
			if code, _ := pgErrorCode(err); code == codeUniqueViolation {
				return fmt.Errorf("attach owner to tenant %s: live link exists: %w", tenantID, domain.ErrConflict)
			}
			return fmt.Errorf("attach owner to tenant %s: insert ownership link: %w", tenantID, err)
		}
		return nil
	})
}

// upsertIdentityRef inserts the identity reference or refreshes its email.
// A row with the same id but another kind is left untouched and reported.
func upsertIdentityRef(ctx context.Context, tx pgx.Tx, ident identity.Identity) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO identity_refs (id, email, kind) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = now()
		WHERE identity_refs.kind = EXCLUDED.kind`,
		ident.ID, ident.Email, string(ident.Kind))
	if err != nil {
		if code, _ := pgErrorCode(err); code == codeUniqueViolation {
			return fmt.Errorf("identity ref %s: %w", ident.ID, database.ErrEmailTaken)
		}
		return fmt.Errorf("identity ref %s: %w", ident.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity ref %s: kind is not %s: %w", ident.ID, ident.Kind, database.ErrKindMismatch)
	}
	return nil
}

// --- Tenant reads ---

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", id)
	}
	return t, nil
}

func (s *Store) GetOwnershipLink(ctx context.Context, tenantID string) (*tenant.OwnershipLink, error) {
	var (
		l      tenant.OwnershipLink
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id::text, owner_identity_id, status, granted_by, created_at, updated_at
		FROM ownership_links
		WHERE tenant_id = $1 AND status <> 'failed'
		ORDER BY created_at DESC LIMIT 1`, tenantID,
	).Scan(&l.TenantID, &l.OwnerIdentityID, &status, &l.GrantedBy, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get ownership link for tenant %s", tenantID)
	}
	l.Status = tenant.LinkStatus(status)
	return &l, nil
}

func (s *Store) SlugInUse(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE slug = $1 AND deleted_at IS NULL)`, slug,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("slug in use %s: %w", slug, err)
	}
	return exists, nil
}

// --- Tenant transitions ---

func (s *Store) FinalizeTenant(ctx context.Context, tenantID, ownerID string, activate bool) error {
	return s.inTx(ctx, "finalize tenant", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ownership_links SET status = 'completed', updated_at = now()
			WHERE tenant_id = $1 AND owner_identity_id = $2 AND status = 'pending'`,
			tenantID, ownerID)
		if err := execExpectOne(tag, err, domain.ErrConflict, "finalize tenant %s: complete link", tenantID); err != nil {
			return err
		}
		if !activate {
			return nil
		}
		tag, err = tx.Exec(ctx, `
			UPDATE tenants SET status = 'active', updated_at = now()
			WHERE id = $1 AND owner_identity_id = $2 AND status = 'provisioning' AND deleted_at IS NULL`,
			tenantID, ownerID)
		return execExpectOne(tag, err, domain.ErrConflict, "finalize tenant %s: activate", tenantID)
	})
}

func (s *Store) FailOwnershipLink(ctx context.Context, tenantID, ownerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ownership_links SET status = 'failed', updated_at = now()
		WHERE tenant_id = $1 AND owner_identity_id = $2 AND status <> 'failed'`,
		tenantID, ownerID)
	return execExpectOne(tag, err, domain.ErrNotFound, "fail ownership link %s/%s", tenantID, ownerID)
}

func (s *Store) DetachOwner(ctx context.Context, tenantID, ownerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants SET owner_identity_id = NULL, updated_at = now()
		WHERE id = $1 AND owner_identity_id = $2`,
		tenantID, ownerID)
	return execExpectOne(tag, err, domain.ErrNotFound, "detach owner %s from tenant %s", ownerID, tenantID)
}

func (s *Store) SoftDeleteTenant(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, tenantID)
	return execExpectOne(tag, err, domain.ErrNotFound, "soft delete tenant %s", tenantID)
}

func scanTenant(row scannable) (*tenant.Tenant, error) {
	var (
		t       tenant.Tenant
		ownerID *string
		status  string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.ContactEmail, &ownerID, &status,
		&t.DeletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.OwnerIdentityID = deref(ownerID)
	t.Status = tenant.Status(status)
	return &t, nil
}
