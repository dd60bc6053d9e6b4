package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

// maxKeyLength bounds caller-supplied idempotency keys.
const maxKeyLength = 255

// BeginResult is the ledger's answer to Begin. Request is the current row:
// for Fresh it carries any identity or tenant id persisted by an earlier
// attempt, for Cached the stored result or failure.
type BeginResult struct {
	Outcome provisioning.Outcome
	Request *provisioning.Request
}

// Ledger dedupes provisioning attempts by idempotency key. The unique key
// is the only concurrency gate.
type Ledger struct {
	store      database.Ledger
	staleAfter time.Duration
	now        func() time.Time
}

// NewLedger creates a Ledger. A processing row not touched for staleAfter is
// considered abandoned and may be claimed again.
func NewLedger(store database.Ledger, staleAfter time.Duration) *Ledger {
	return &Ledger{store: store, staleAfter: staleAfter, now: time.Now}
}

// Begin registers the attempt for key or reports what already happened to it.
func (l *Ledger) Begin(ctx context.Context, key string, p provisioning.Payload) (BeginResult, error) {
	if key == "" || len(key) > maxKeyLength {
		return BeginResult{}, domain.New(domain.CauseInvalidInput, "idempotency key must be 1-%d characters", maxKeyLength)
	}

	req := &provisioning.Request{IdempotencyKey: key, Payload: p, PayloadHash: p.Hash()}
	inserted, err := l.store.InsertProvisioningRequest(ctx, req)
	if err != nil {
		return BeginResult{}, storeError(err, "record provisioning request")
	}
	if inserted {
		return l.claim(ctx, key)
	}

	existing, err := l.store.GetProvisioningRequest(ctx, key)
	if err != nil {
		return BeginResult{}, storeError(err, "read provisioning request")
	}
	if existing.PayloadHash != req.PayloadHash {
		return BeginResult{}, domain.New(domain.CauseKeyReused, "idempotency key was already used with a different request")
	}

	switch existing.Status {
	case provisioning.StatusCompleted:
		return BeginResult{Outcome: provisioning.Cached, Request: existing}, nil
	case provisioning.StatusFailed:
		if !existing.Retryable {
			return BeginResult{Outcome: provisioning.Cached, Request: existing}, nil
		}
		if existing.CompensationPending {
			return BeginResult{Outcome: provisioning.InFlight, Request: existing}, nil
		}
	}
	return l.claim(ctx, key)
}

func (l *Ledger) claim(ctx context.Context, key string) (BeginResult, error) {
	claimed, err := l.store.ClaimProvisioningRequest(ctx, key, l.now().Add(-l.staleAfter))
	if errors.Is(err, domain.ErrConflict) {
		return BeginResult{Outcome: provisioning.InFlight}, nil
	}
	if err != nil {
		return BeginResult{}, storeError(err, "claim provisioning request")
	}
	return BeginResult{Outcome: provisioning.Fresh, Request: claimed}, nil
}

// RecordIdentity persists the created identity id before any local write
// references it, so a retry resumes instead of creating a second identity.
func (l *Ledger) RecordIdentity(ctx context.Context, key, identityID string) error {
	if err := l.store.RecordProvisioningIdentity(ctx, key, identityID); err != nil {
		return storeError(err, "record identity on provisioning request")
	}
	return nil
}

// RecordTenant persists the tenant id chosen for the attempt.
func (l *Ledger) RecordTenant(ctx context.Context, key, tenantID string) error {
	if err := l.store.RecordProvisioningTenant(ctx, key, tenantID); err != nil {
		return storeError(err, "record tenant on provisioning request")
	}
	return nil
}

// Complete stores result as the cached answer for key.
func (l *Ledger) Complete(ctx context.Context, key string, result provisioning.Result) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal provisioning result: %w", err)
	}
	if err := l.store.CompleteProvisioningRequest(ctx, key, data); err != nil {
		return nil, storeError(err, "complete provisioning request")
	}
	return data, nil
}

// Fail marks the attempt failed. A non-retryable failure makes the key
// terminal. keepIdentity leaves the identity id on the row for the
// reconciler when its deletion did not succeed.
func (l *Ledger) Fail(ctx context.Context, key string, cause error, retryable, keepIdentity bool) error {
	de := domain.AsError(cause)
	f := provisioning.Failure{
		Code:         string(de.Cause),
		Detail:       de.Message,
		Retryable:    retryable,
		KeepIdentity: keepIdentity,
	}
	if err := l.store.FailProvisioningRequest(ctx, key, f); err != nil {
		return storeError(err, "fail provisioning request")
	}
	return nil
}

// Get returns the ledger row for key.
func (l *Ledger) Get(ctx context.Context, key string) (*provisioning.Request, error) {
	req, err := l.store.GetProvisioningRequest(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Wrap(domain.ErrNotFound, domain.CauseRequestNotFound, err, "no provisioning request for key")
	}
	if err != nil {
		return nil, storeError(err, "read provisioning request")
	}
	return req, nil
}

// StoredFailure rebuilds the caller-visible error of a failed row.
func StoredFailure(req *provisioning.Request) *domain.Error {
	cause := domain.Cause(req.ErrorCode)
	if cause == "" {
		cause = domain.CauseInternal
	}
	msg := req.ErrorDetail
	if msg == "" {
		msg = "provisioning failed"
	}
	return domain.Errorf(cause.Kind(), cause, "%s", msg).WithCorrelation(req.IdempotencyKey)
}

// storeError classifies a datastore failure. The raw error stays wrapped for
// logs; callers only see the cause.
func storeError(err error, msg string) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.ErrExternalService, domain.CauseStoreTimeout, err, msg+": timed out")
	}
	return domain.Wrap(domain.ErrExternalService, domain.CauseStoreUnavailable, err, msg)
}

// PendingCompensations lists failed rows whose identity still has to be
// deleted, oldest first.
func (l *Ledger) PendingCompensations(ctx context.Context, limit int) ([]provisioning.Request, error) {
	reqs, err := l.store.ListPendingCompensations(ctx, limit)
	if err != nil {
		return nil, storeError(err, "list pending compensations")
	}
	return reqs, nil
}

// ClearCompensation marks the identity of a failed row as handled, which
// makes the key retryable again.
func (l *Ledger) ClearCompensation(ctx context.Context, key string) error {
	if err := l.store.ClearCompensation(ctx, key); err != nil {
		return storeError(err, "clear compensation")
	}
	return nil
}
