package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

// emailInUseQueries holds one existence check per holder. Emails are compared
// case-insensitively; callers pass them normalized.
var emailInUseQueries = map[database.EmailHolder]string{
	database.HolderIdentities: `SELECT EXISTS (SELECT 1 FROM identity_refs WHERE lower(email) = $1)`,
	database.HolderTenants: `SELECT EXISTS (SELECT 1 FROM tenants
		WHERE lower(contact_email) = $1 AND deleted_at IS NULL
		  AND ($2 = '' OR id::text <> $2))`,
	database.HolderStaff: `SELECT EXISTS (SELECT 1 FROM staff_members WHERE lower(email) = $1)`,
}

func (s *Store) EmailInUse(ctx context.Context, holder database.EmailHolder, email, excludeTenantID string) (bool, error) {
	q, ok := emailInUseQueries[holder]
	if !ok {
		return false, fmt.Errorf("email in use: unknown holder %q", holder)
	}
	args := []any{email}
	if holder == database.HolderTenants {
		args = append(args, excludeTenantID)
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("email in use (%s): %w", holder, err)
	}
	return exists, nil
}

func (s *Store) GetIdentityRef(ctx context.Context, id string) (*identity.Identity, error) {
	var (
		ident identity.Identity
		kind  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, kind, created_at FROM identity_refs WHERE id = $1`, id,
	).Scan(&ident.ID, &ident.Email, &kind, &ident.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get identity ref %s", id)
	}
	ident.Kind = identity.Kind(kind)
	return &ident, nil
}

func (s *Store) UpsertIdentityRef(ctx context.Context, ident identity.Identity) error {
	return s.inTx(ctx, "upsert identity ref", func(tx pgx.Tx) error {
		return upsertIdentityRef(ctx, tx, ident)
	})
}

func (s *Store) UpdateIdentityRefEmail(ctx context.Context, id, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identity_refs SET email = $2, updated_at = now() WHERE id = $1`, id, email)
	if code, _ := pgErrorCode(err); code == codeUniqueViolation {
		return fmt.Errorf("update identity ref %s email: %w", id, database.ErrEmailTaken)
	}
	return execExpectOne(tag, err, domain.ErrNotFound, "update identity ref %s email", id)
}

func (s *Store) DeleteIdentityRef(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identity_refs WHERE id = $1`, id)
	return execExpectOne(tag, err, domain.ErrNotFound, "delete identity ref %s", id)
}

func (s *Store) ListAdministratorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM platform_administrators ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list administrators: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list administrators: %w", err)
	}
	return ids, nil
}
