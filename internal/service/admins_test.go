package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
)

func TestAdministratorService_AddIsGuarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admins := NewAdministratorService(h.store, h.idp, h.prov)

	admin, err := admins.Add(ctx, "  Root@Platform.Example ")
	require.NoError(t, err)
	require.Equal(t, "root@platform.example", admin.Email)
	require.Equal(t, identity.KindPlatformAdministrator, admin.Kind)

	requireCause(t, h.guard.Check(ctx, admin.ID), domain.ErrSafetyViolation, domain.CauseAdministratorTarget)

	list, err := admins.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, admin.ID, list[0].ID)
}

func TestAdministratorService_EmailInUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admins := NewAdministratorService(h.store, h.idp, h.prov)
	h.provision(t, "bistro", "owner@bistro.example")
	before := h.idp.count()

	_, err := admins.Add(ctx, "owner@bistro.example")
	requireCause(t, err, domain.ErrValidation, domain.CauseEmailInUse)
	require.Equal(t, before, h.idp.count(), "no identity may be created for a taken email")
}

func TestAdministratorService_InvalidEmail(t *testing.T) {
	h := newHarness(t)
	admins := NewAdministratorService(h.store, h.idp, h.prov)

	_, err := admins.Add(context.Background(), "Root <root@platform.example>")
	requireCause(t, err, domain.ErrValidation, domain.CauseEmailInvalid)
	require.Zero(t, h.idp.count())
}
