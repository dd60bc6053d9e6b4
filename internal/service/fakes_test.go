package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/database"
	"github.com/Strob0t/TenantForge/internal/port/identityprovider"
	"github.com/Strob0t/TenantForge/internal/port/messagequeue"
)

// memStore is an in-memory database.Store with the same conditional-update
// semantics as the Postgres adapter.
type memStore struct {
	mu       sync.Mutex
	requests map[string]*provisioning.Request
	tenants  map[string]*tenant.Tenant
	links    []*tenant.OwnershipLink
	refs     map[string]*identity.Identity
	staff    map[string]bool
	entries  []audit.Entry

	// Fault injection.
	registerErr       error
	finalizeErr       error
	rosterErr         error
	recordIdentityErr error
	pendingErr        error
	// afterRegister runs inside RegisterTenant after the rows exist.
	afterRegister func(t *tenant.Tenant, link *tenant.OwnershipLink)
}

var _ database.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		requests: make(map[string]*provisioning.Request),
		tenants:  make(map[string]*tenant.Tenant),
		refs:     make(map[string]*identity.Identity),
		staff:    make(map[string]bool),
	}
}

// --- Ledger ---

func (m *memStore) InsertProvisioningRequest(_ context.Context, req *provisioning.Request) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.IdempotencyKey]; ok {
		return false, nil
	}
	now := time.Now()
	cp := *req
	cp.Status = provisioning.StatusPending
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.requests[req.IdempotencyKey] = &cp
	return true, nil
}

func (m *memStore) GetProvisioningRequest(_ context.Context, key string) (*provisioning.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[key]
	if !ok {
		return nil, fmt.Errorf("get provisioning request %s: %w", key, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ClaimProvisioningRequest(_ context.Context, key string, staleBefore time.Time) (*provisioning.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[key]
	if !ok {
		return nil, domain.ErrConflict
	}
	claimable := r.Status == provisioning.StatusPending ||
		(r.Status == provisioning.StatusFailed && r.Retryable && !r.CompensationPending) ||
		(r.Status == provisioning.StatusProcessing && r.UpdatedAt.Before(staleBefore))
	if !claimable {
		return nil, fmt.Errorf("claim %s: %w", key, domain.ErrConflict)
	}
	r.Status = provisioning.StatusProcessing
	r.Attempts++
	r.UpdatedAt = time.Now()
	r.ErrorCode, r.ErrorDetail, r.Retryable, r.CompletedAt = "", "", false, nil
	cp := *r
	return &cp, nil
}

func (m *memStore) processing(key string) (*provisioning.Request, error) {
	r, ok := m.requests[key]
	if !ok || r.Status != provisioning.StatusProcessing {
		return nil, domain.ErrConflict
	}
	r.UpdatedAt = time.Now()
	return r, nil
}

func (m *memStore) RecordProvisioningIdentity(_ context.Context, key, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordIdentityErr != nil {
		return m.recordIdentityErr
	}
	r, err := m.processing(key)
	if err != nil {
		return err
	}
	r.OwnerIdentityID = identityID
	return nil
}

func (m *memStore) RecordProvisioningTenant(_ context.Context, key, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.processing(key)
	if err != nil {
		return err
	}
	r.TenantID = tenantID
	return nil
}

func (m *memStore) CompleteProvisioningRequest(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.processing(key)
	if err != nil {
		return err
	}
	now := time.Now()
	r.Status = provisioning.StatusCompleted
	r.Result = append([]byte(nil), result...)
	r.CompletedAt = &now
	return nil
}

func (m *memStore) FailProvisioningRequest(_ context.Context, key string, f provisioning.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[key]
	if !ok || (r.Status != provisioning.StatusPending && r.Status != provisioning.StatusProcessing) {
		return domain.ErrConflict
	}
	now := time.Now()
	r.Status = provisioning.StatusFailed
	r.ErrorCode, r.ErrorDetail = f.Code, f.Detail
	r.Retryable = f.Retryable
	r.CompensationPending = f.KeepIdentity
	if !f.KeepIdentity {
		r.OwnerIdentityID = ""
	}
	r.UpdatedAt, r.CompletedAt = now, &now
	return nil
}

func (m *memStore) ListPendingCompensations(_ context.Context, limit int) ([]provisioning.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingErr != nil {
		return nil, m.pendingErr
	}
	var out []provisioning.Request
	for _, r := range m.requests {
		if r.Status == provisioning.StatusFailed && r.CompensationPending && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) ClearCompensation(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[key]
	if !ok || !r.CompensationPending {
		return domain.ErrNotFound
	}
	r.CompensationPending = false
	r.OwnerIdentityID = ""
	return nil
}

// --- Tenants ---

func (m *memStore) upsertRef(ident identity.Identity) error {
	if cur, ok := m.refs[ident.ID]; ok && cur.Kind != ident.Kind {
		return fmt.Errorf("identity %s kind is not %s: %w", ident.ID, ident.Kind, database.ErrKindMismatch)
	}
	for id, r := range m.refs {
		if id != ident.ID && r.Email == ident.Email {
			return database.ErrEmailTaken
		}
	}
	cp := ident
	m.refs[ident.ID] = &cp
	return nil
}

func (m *memStore) RegisterTenant(_ context.Context, reg database.Registration) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	for _, t := range m.tenants {
		if t.Slug == reg.Slug && !t.Deleted() {
			return nil, database.ErrSlugTaken
		}
	}
	if _, ok := m.tenants[reg.TenantID]; ok {
		return nil, fmt.Errorf("tenant %s exists", reg.TenantID)
	}
	if err := m.upsertRef(reg.Owner); err != nil {
		return nil, err
	}
	now := time.Now()
	t := &tenant.Tenant{
		ID: reg.TenantID, Name: reg.Name, Slug: reg.Slug, ContactEmail: reg.ContactEmail,
		OwnerIdentityID: reg.Owner.ID, Status: tenant.StatusProvisioning, CreatedAt: now, UpdatedAt: now,
	}
	link := &tenant.OwnershipLink{
		TenantID: t.ID, OwnerIdentityID: reg.Owner.ID, Status: tenant.LinkPending,
		GrantedBy: reg.GrantedBy, CreatedAt: now, UpdatedAt: now,
	}
	m.tenants[t.ID] = t
	m.links = append(m.links, link)
	if m.afterRegister != nil {
		m.afterRegister(t, link)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) AttachOwner(_ context.Context, tenantID string, owner identity.Identity, grantedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok || t.Deleted() || t.OwnerIdentityID != "" {
		return domain.ErrConflict
	}
	if m.liveLink(tenantID) != nil {
		return domain.ErrConflict
	}
	if err := m.upsertRef(owner); err != nil {
		return err
	}
	now := time.Now()
	t.OwnerIdentityID = owner.ID
	m.links = append(m.links, &tenant.OwnershipLink{
		TenantID: tenantID, OwnerIdentityID: owner.ID, Status: tenant.LinkPending,
		GrantedBy: grantedBy, CreatedAt: now, UpdatedAt: now,
	})
	return nil
}

func (m *memStore) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("get tenant %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) liveLink(tenantID string) *tenant.OwnershipLink {
	for i := len(m.links) - 1; i >= 0; i-- {
		if l := m.links[i]; l.TenantID == tenantID && l.Status != tenant.LinkFailed {
			return l
		}
	}
	return nil
}

func (m *memStore) GetOwnershipLink(_ context.Context, tenantID string) (*tenant.OwnershipLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.liveLink(tenantID)
	if l == nil {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) SlugInUse(_ context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Slug == slug && !t.Deleted() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FinalizeTenant(_ context.Context, tenantID, ownerID string, activate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	l := m.liveLink(tenantID)
	if l == nil || l.OwnerIdentityID != ownerID || l.Status != tenant.LinkPending {
		return domain.ErrConflict
	}
	t := m.tenants[tenantID]
	if activate && (t == nil || t.Status != tenant.StatusProvisioning || t.OwnerIdentityID != ownerID) {
		return domain.ErrConflict
	}
	l.Status = tenant.LinkCompleted
	if activate {
		t.Status = tenant.StatusActive
	}
	return nil
}

func (m *memStore) FailOwnershipLink(_ context.Context, tenantID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.TenantID == tenantID && l.OwnerIdentityID == ownerID && l.Status == tenant.LinkPending {
			l.Status = tenant.LinkFailed
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) DetachOwner(_ context.Context, tenantID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok || t.OwnerIdentityID != ownerID {
		return domain.ErrNotFound
	}
	t.OwnerIdentityID = ""
	return nil
}

func (m *memStore) SoftDeleteTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok || t.Deleted() {
		return domain.ErrNotFound
	}
	now := time.Now()
	t.DeletedAt = &now
	return nil
}

// --- Directory ---

func (m *memStore) EmailInUse(_ context.Context, holder database.EmailHolder, email, excludeTenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch holder {
	case database.HolderIdentities:
		for _, r := range m.refs {
			if strings.EqualFold(r.Email, email) {
				return true, nil
			}
		}
	case database.HolderTenants:
		for _, t := range m.tenants {
			if !t.Deleted() && t.ID != excludeTenantID && strings.EqualFold(t.ContactEmail, email) {
				return true, nil
			}
		}
	case database.HolderStaff:
		return m.staff[strings.ToLower(email)], nil
	}
	return false, nil
}

func (m *memStore) GetIdentityRef(_ context.Context, id string) (*identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpsertIdentityRef(_ context.Context, ident identity.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertRef(ident)
}

func (m *memStore) UpdateIdentityRefEmail(_ context.Context, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refs[id]
	if !ok {
		return domain.ErrNotFound
	}
	for other, o := range m.refs {
		if other != id && o.Email == email {
			return database.ErrEmailTaken
		}
	}
	r.Email = email
	return nil
}

func (m *memStore) DeleteIdentityRef(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.refs, id)
	for _, t := range m.tenants {
		if t.OwnerIdentityID == id {
			t.OwnerIdentityID = ""
		}
	}
	return nil
}

func (m *memStore) ListAdministratorIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rosterErr != nil {
		return nil, m.rosterErr
	}
	var ids []string
	for id, r := range m.refs {
		if r.Kind == identity.KindPlatformAdministrator {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Audit ---

func (m *memStore) AppendAudit(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Seq = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) ListAudit(_ context.Context, correlationID string) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for _, e := range m.entries {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- helpers ---

func (m *memStore) liveTenantsWithSlug(slug string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tenants {
		if t.Slug == slug && !t.Deleted() {
			n++
		}
	}
	return n
}

func (m *memStore) tenantsWithSlug(slug string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tenants {
		if t.Slug == slug {
			n++
		}
	}
	return n
}

// fakeIDP is an in-memory identity service.
type fakeIDP struct {
	mu         sync.Mutex
	identities map[string]*identity.Identity
	creates    int
	updates    int
	sentLinks  []string

	createErr error
	deleteErr error
	sendErr   error
	updateErr error
	// onCreate runs after a successful create, outside the lock.
	onCreate func(id string)
}

var _ identityprovider.Provider = (*fakeIDP)(nil)

func newFakeIDP() *fakeIDP {
	return &fakeIDP{identities: make(map[string]*identity.Identity)}
}

func (f *fakeIDP) CreateIdentity(_ context.Context, email string, kind identity.Kind) (identityprovider.Created, error) {
	f.mu.Lock()
	if f.createErr != nil {
		f.mu.Unlock()
		return identityprovider.Created{}, f.createErr
	}
	for _, i := range f.identities {
		if i.Email == email {
			f.mu.Unlock()
			return identityprovider.Created{}, identityprovider.ErrRejected
		}
	}
	id := uuid.New().String()
	f.identities[id] = &identity.Identity{ID: id, Email: email, Kind: kind, CreatedAt: time.Now()}
	f.creates++
	hook := f.onCreate
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return identityprovider.Created{ID: id, Email: email}, nil
}

func (f *fakeIDP) GetIdentity(_ context.Context, id string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.identities[id]
	if !ok {
		return nil, identityprovider.ErrIdentityNotFound
	}
	cp := *i
	return &cp, nil
}

func (f *fakeIDP) DeleteIdentity(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.identities[id]; !ok {
		return identityprovider.ErrIdentityNotFound
	}
	delete(f.identities, id)
	return nil
}

func (f *fakeIDP) SendVerificationLink(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentLinks = append(f.sentLinks, id)
	return nil
}

func (f *fakeIDP) UpdateCredential(_ context.Context, id string, field identity.Field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	i, ok := f.identities[id]
	if !ok {
		return identityprovider.ErrIdentityNotFound
	}
	if field == identity.FieldEmail {
		i.Email = value
	}
	f.updates++
	return nil
}

func (f *fakeIDP) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.identities)
}

func (f *fakeIDP) get(id string) (identity.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.identities[id]
	if !ok {
		return identity.Identity{}, false
	}
	return *i, true
}

// addAdmin seeds a platform administrator in both the service and the store.
func addAdmin(idp *fakeIDP, store *memStore, email string) string {
	id := uuid.New().String()
	idp.mu.Lock()
	idp.identities[id] = &identity.Identity{ID: id, Email: email, Kind: identity.KindPlatformAdministrator}
	idp.mu.Unlock()
	if err := store.UpsertIdentityRef(context.Background(), identity.Identity{ID: id, Email: email, Kind: identity.KindPlatformAdministrator}); err != nil {
		panic(err)
	}
	return id
}

// recordingQueue captures published messages.
type recordingQueue struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (q *recordingQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.subjects = append(q.subjects, subject)
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *recordingQueue) Close() error { return nil }
