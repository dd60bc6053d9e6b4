package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/port/database"
	"github.com/Strob0t/TenantForge/internal/port/identityprovider"
)

// AdministratorService seeds platform administrators. They are created in the
// identity service and recorded in the roster the guard reads.
type AdministratorService struct {
	dir  database.Directory
	idp  identityprovider.Provider
	prov *Provisioner
}

// NewAdministratorService creates an AdministratorService.
func NewAdministratorService(dir database.Directory, idp identityprovider.Provider, prov *Provisioner) *AdministratorService {
	return &AdministratorService{dir: dir, idp: idp, prov: prov}
}

// Add creates a platform administrator identity for email. If the roster
// write fails, the identity is deleted again.
func (s *AdministratorService) Add(ctx context.Context, rawEmail string) (identity.Identity, error) {
	email, err := NormalizeOwnerEmail(rawEmail)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := s.prov.CheckEmailAvailable(ctx, email, ""); err != nil {
		return identity.Identity{}, err
	}

	created, err := s.idp.CreateIdentity(ctx, email, identity.KindPlatformAdministrator)
	if err != nil {
		return identity.Identity{}, identityError(err, "create administrator identity")
	}
	admin := identity.Identity{ID: created.ID, Email: email, Kind: identity.KindPlatformAdministrator}

	if err := s.dir.UpsertIdentityRef(ctx, admin); err != nil {
		if derr := s.idp.DeleteIdentity(context.WithoutCancel(ctx), created.ID); derr != nil &&
			!errors.Is(derr, identityprovider.ErrIdentityNotFound) {
			slog.ErrorContext(ctx, "administrator identity left without roster entry",
				"identity_id", created.ID, "error", derr)
		}
		if errors.Is(err, domain.ErrConflict) {
			return identity.Identity{}, domain.Wrap(domain.ErrValidation, domain.CauseEmailInUse, err, "email already used by identities")
		}
		return identity.Identity{}, storeError(err, "record administrator")
	}

	slog.InfoContext(ctx, "platform administrator added", "identity_id", admin.ID, "email", email)
	return admin, nil
}

// List returns the administrator roster.
func (s *AdministratorService) List(ctx context.Context) ([]identity.Identity, error) {
	ids, err := s.dir.ListAdministratorIDs(ctx)
	if err != nil {
		return nil, storeError(err, "list administrators")
	}
	out := make([]identity.Identity, 0, len(ids))
	for _, id := range ids {
		ref, err := s.dir.GetIdentityRef(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storeError(err, "read administrator")
		}
		out = append(out, *ref)
	}
	return out, nil
}
