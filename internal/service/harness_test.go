package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

type harness struct {
	store     *memStore
	idp       *fakeIDP
	queue     *recordingQueue
	rec       *AuditRecorder
	ledger    *Ledger
	guard     *Guard
	prov      *Provisioner
	registrar *Registrar
	coord     *Coordinator
	svc       *ProvisioningService
	rot       *RotationService
	tenants   *TenantService
	recon     *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), idp: newFakeIDP(), queue: &recordingQueue{}}
	h.rec = NewAuditRecorder(h.store, h.queue)
	h.ledger = NewLedger(h.store, time.Minute)
	h.guard = NewGuard(NewCachedRoster(h.store, nil, time.Second))
	h.prov = NewProvisioner(h.store, h.idp, time.Second)
	h.registrar = NewRegistrar(h.store, tenant.DefaultReservedSlugs, time.Second)
	h.coord = NewCoordinator(h.store, h.store, h.prov, h.guard, h.ledger, h.rec, nil)
	h.svc = NewProvisioningService(h.ledger, h.guard, h.prov, h.registrar, h.coord, h.store, h.rec, nil)
	h.rot = NewRotationService(h.store, h.store, h.guard, h.prov, h.registrar, h.coord, h.rec)
	h.tenants = NewTenantService(h.store, h.ledger, h.rec)
	h.recon = NewReconciler(h.ledger, h.coord, h.rec, time.Minute, 10)
	return h
}

func provisionReq(key, slug, email string) ProvisionRequest {
	return ProvisionRequest{
		IdempotencyKey: key,
		ActorID:        "ops-1",
		TenantName:     "Bistro " + slug,
		TenantSlug:     slug,
		OwnerEmail:     email,
	}
}

// provision runs a successful provisioning and returns its response.
func (h *harness) provision(t *testing.T, slug, email string) *ProvisionResponse {
	t.Helper()
	resp, err := h.svc.ProvisionTenant(context.Background(), provisionReq(uuid.NewString(), slug, email))
	require.NoError(t, err)
	return resp
}

func (h *harness) outcomes(t *testing.T, correlationID string) [][]audit.Outcome {
	t.Helper()
	entries, err := h.rec.List(context.Background(), correlationID)
	require.NoError(t, err)
	require.True(t, audit.Ordered(entries), "audit timestamps must not decrease")
	return audit.Attempts(entries)
}

// requireCause asserts err is a *domain.Error of the given kind and cause.
func requireCause(t *testing.T, err error, kind error, cause domain.Cause) *domain.Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind)
	de := domain.AsError(err)
	require.Equal(t, cause, de.Cause, "message: %s", de.Message)
	return de
}

// requireNoSecret fails if any audit entry contains s.
func (h *harness) requireNoSecret(t *testing.T, s string) {
	t.Helper()
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	for _, e := range h.store.entries {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		require.False(t, strings.Contains(string(data), s), "audit entry %s/%s leaks a secret", e.Action, e.Outcome)
	}
}

// seedTenant inserts a tenant directly, optionally without an owner.
func (h *harness) seedTenant(slug, contact string, owner *identity.Identity) *tenant.Tenant {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	now := time.Now()
	t := &tenant.Tenant{
		ID: uuid.NewString(), Name: slug, Slug: slug, ContactEmail: contact,
		Status: tenant.StatusActive, CreatedAt: now, UpdatedAt: now,
	}
	if owner != nil {
		t.OwnerIdentityID = owner.ID
		cp := *owner
		h.store.refs[owner.ID] = &cp
		h.store.links = append(h.store.links, &tenant.OwnershipLink{
			TenantID: t.ID, OwnerIdentityID: owner.ID, Status: tenant.LinkCompleted, GrantedBy: "seed",
		})
	}
	h.store.tenants[t.ID] = t
	return t
}
