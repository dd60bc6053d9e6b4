package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/port/database"
	"github.com/Strob0t/TenantForge/internal/port/identityprovider"
	"github.com/Strob0t/TenantForge/internal/resilience"
)

// emailHolders is the fixed order in which conflicts are reported.
var emailHolders = []database.EmailHolder{
	database.HolderIdentities,
	database.HolderTenants,
	database.HolderStaff,
}

// Provisioner creates tenant-owner identities at the identity service.
type Provisioner struct {
	dir     database.Directory
	idp     identityprovider.Provider
	timeout time.Duration
}

// NewProvisioner creates a Provisioner. timeout bounds each identity service call.
func NewProvisioner(dir database.Directory, idp identityprovider.Provider, timeout time.Duration) *Provisioner {
	return &Provisioner{dir: dir, idp: idp, timeout: timeout}
}

// NormalizeOwnerEmail normalizes and validates an owner email.
func NormalizeOwnerEmail(raw string) (string, error) {
	email := identity.NormalizeEmail(raw)
	if err := identity.ValidateEmail(email); err != nil {
		return "", domain.New(domain.CauseEmailInvalid, "%s", err.Error())
	}
	return email, nil
}

// CheckEmailAvailable looks email up in every table that participates in
// email uniqueness. The lookups run concurrently; the first holder in
// emailHolders order is reported. excludeTenantID skips that tenant's
// contact email.
func (p *Provisioner) CheckEmailAvailable(ctx context.Context, email, excludeTenantID string) error {
	held := make([]bool, len(emailHolders))
	g, gctx := errgroup.WithContext(ctx)
	for i, holder := range emailHolders {
		g.Go(func() error {
			inUse, err := p.dir.EmailInUse(gctx, holder, email, excludeTenantID)
			if err != nil {
				return err
			}
			held[i] = inUse
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return storeError(err, "email uniqueness check")
	}
	for i, inUse := range held {
		if inUse {
			return domain.New(domain.CauseEmailInUse, "email already used by %s", emailHolders[i])
		}
	}
	return nil
}

// ResolveOrCreateOwner checks email uniqueness and creates an unverified
// tenant-owner identity. The id returned by the identity service is the only
// id used from here on.
func (p *Provisioner) ResolveOrCreateOwner(ctx context.Context, rawEmail, excludeTenantID string) (identity.Identity, error) {
	email, err := NormalizeOwnerEmail(rawEmail)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := p.CheckEmailAvailable(ctx, email, excludeTenantID); err != nil {
		return identity.Identity{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	created, err := p.idp.CreateIdentity(cctx, email, identity.KindTenantOwner)
	if err != nil {
		return identity.Identity{}, identityError(err, "create owner identity")
	}
	if created.ID == "" {
		return identity.Identity{}, domain.New(domain.CauseIdentityRejected, "identity service returned no id")
	}
	return identity.Identity{ID: created.ID, Email: email, Kind: identity.KindTenantOwner}, nil
}

// Resume reloads an identity created by an earlier attempt. found is false
// when the identity service no longer has it.
func (p *Provisioner) Resume(ctx context.Context, id string) (ident identity.Identity, found bool, err error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	got, err := p.idp.GetIdentity(cctx, id)
	if errors.Is(err, identityprovider.ErrIdentityNotFound) {
		return identity.Identity{}, false, nil
	}
	if err != nil {
		return identity.Identity{}, false, identityError(err, "reload owner identity")
	}
	got.Email = identity.NormalizeEmail(got.Email)
	return *got, true, nil
}

// Delete removes an identity at the identity service. A missing identity is
// already deleted.
func (p *Provisioner) Delete(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.idp.DeleteIdentity(cctx, id); err != nil && !errors.Is(err, identityprovider.ErrIdentityNotFound) {
		return identityError(err, "delete identity")
	}
	return nil
}

// SendSetupLink asks the identity service to deliver the verification link.
func (p *Provisioner) SendSetupLink(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.idp.SendVerificationLink(cctx, id); err != nil {
		return identityError(err, "send setup link")
	}
	return nil
}

// UpdateCredential changes one credential field of identity id.
func (p *Provisioner) UpdateCredential(ctx context.Context, id string, field identity.Field, value string) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.idp.UpdateCredential(cctx, id, field, value); err != nil {
		return identityError(err, "update credential")
	}
	return nil
}

// identityError classifies an identity service failure.
func identityError(err error, msg string) *domain.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.ErrExternalService, domain.CauseIdentityTimeout, err, msg+": identity service timed out")
	case errors.Is(err, identityprovider.ErrRejected):
		return domain.Wrap(domain.ErrExternalService, domain.CauseIdentityRejected, err, msg+": identity service rejected the request")
	case errors.Is(err, identityprovider.ErrIdentityNotFound):
		return domain.Wrap(domain.ErrVerification, domain.CauseIdentityMissing, err, msg+": identity not found")
	case errors.Is(err, resilience.ErrCircuitOpen):
		return domain.Wrap(domain.ErrExternalService, domain.CauseIdentityUnavailable, err, msg+": identity service unavailable")
	default:
		return domain.Wrap(domain.ErrExternalService, domain.CauseIdentityUnavailable, err, msg+": identity service error")
	}
}
