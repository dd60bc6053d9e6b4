package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
)

const provisioningColumns = `idempotency_key, payload, payload_hash, status, owner_identity_id, tenant_id::text,
	result, error_code, error_detail, retryable, compensation_pending, attempts, created_at, updated_at, completed_at`

// --- Idempotency ledger ---

func (s *Store) InsertProvisioningRequest(ctx context.Context, req *provisioning.Request) (bool, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return false, fmt.Errorf("insert provisioning request %s: marshal payload: %w", req.IdempotencyKey, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO provisioning_requests (idempotency_key, actor_id, payload, payload_hash, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (idempotency_key) DO NOTHING`,
		req.IdempotencyKey, req.Payload.ActorID, payload, req.PayloadHash)
	if err != nil {
		return false, fmt.Errorf("insert provisioning request %s: %w", req.IdempotencyKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetProvisioningRequest(ctx context.Context, key string) (*provisioning.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+provisioningColumns+` FROM provisioning_requests WHERE idempotency_key = $1`, key)
	r, err := scanProvisioningRequest(row)
	if err != nil {
		return nil, notFoundWrap(err, "get provisioning request %s", key)
	}
	return r, nil
}

func (s *Store) ClaimProvisioningRequest(ctx context.Context, key string, staleBefore time.Time) (*provisioning.Request, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE provisioning_requests
		SET status = 'processing', attempts = attempts + 1, updated_at = now(),
		    error_code = NULL, error_detail = NULL, retryable = false, completed_at = NULL
		WHERE idempotency_key = $1
		  AND (status = 'pending'
		       OR (status = 'failed' AND retryable AND NOT compensation_pending)
		       OR (status IN ('pending', 'processing') AND updated_at < $2))
		RETURNING `+provisioningColumns,
		key, staleBefore)
	r, err := scanProvisioningRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Someone else holds the key, or it is terminal.
		return nil, fmt.Errorf("claim provisioning request %s: %w", key, domain.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("claim provisioning request %s: %w", key, err)
	}
	return r, nil
}

func (s *Store) RecordProvisioningIdentity(ctx context.Context, key, identityID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provisioning_requests SET owner_identity_id = $2, updated_at = now()
		WHERE idempotency_key = $1 AND status = 'processing'`, key, identityID)
	return execExpectOne(tag, err, domain.ErrConflict, "record identity on provisioning request %s", key)
}

func (s *Store) RecordProvisioningTenant(ctx context.Context, key, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provisioning_requests SET tenant_id = $2, updated_at = now()
		WHERE idempotency_key = $1 AND status = 'processing'`, key, tenantID)
	return execExpectOne(tag, err, domain.ErrConflict, "record tenant on provisioning request %s", key)
}

func (s *Store) CompleteProvisioningRequest(ctx context.Context, key string, result []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provisioning_requests
		SET status = 'completed', result = $2, retryable = false, error_code = NULL, error_detail = NULL,
		    updated_at = now(), completed_at = now()
		WHERE idempotency_key = $1 AND status = 'processing'`, key, result)
	return execExpectOne(tag, err, domain.ErrConflict, "complete provisioning request %s", key)
}

func (s *Store) FailProvisioningRequest(ctx context.Context, key string, f provisioning.Failure) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provisioning_requests
		SET status = 'failed', error_code = $2, error_detail = $3, retryable = $4,
		    compensation_pending = $5,
		    owner_identity_id = CASE WHEN $5 THEN owner_identity_id ELSE NULL END,
		    updated_at = now(), completed_at = now()
		WHERE idempotency_key = $1 AND status IN ('pending', 'processing')`,
		key, f.Code, f.Detail, f.Retryable, f.KeepIdentity)
	return execExpectOne(tag, err, domain.ErrConflict, "fail provisioning request %s", key)
}

func (s *Store) ListPendingCompensations(ctx context.Context, limit int) ([]provisioning.Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+provisioningColumns+` FROM provisioning_requests
		WHERE status = 'failed' AND compensation_pending
		ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending compensations: %w", err)
	}
	defer rows.Close()

	var out []provisioning.Request
	for rows.Next() {
		r, err := scanProvisioningRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provisioning request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) ClearCompensation(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE provisioning_requests
		SET compensation_pending = false, owner_identity_id = NULL, updated_at = now()
		WHERE idempotency_key = $1 AND status = 'failed' AND compensation_pending`, key)
	return execExpectOne(tag, err, domain.ErrNotFound, "clear compensation %s", key)
}

func scanProvisioningRequest(row scannable) (*provisioning.Request, error) {
	var (
		r                  provisioning.Request
		payload, result    []byte
		ownerID, tenantID  *string
		errCode, errDetail *string
		status             string
	)
	if err := row.Scan(&r.IdempotencyKey, &payload, &r.PayloadHash, &status, &ownerID, &tenantID,
		&result, &errCode, &errDetail, &r.Retryable, &r.CompensationPending, &r.Attempts,
		&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &r.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	r.Status = provisioning.Status(status)
	r.OwnerIdentityID = deref(ownerID)
	r.TenantID = deref(tenantID)
	r.ErrorCode = deref(errCode)
	r.ErrorDetail = deref(errDetail)
	if len(result) > 0 {
		r.Result = json.RawMessage(result)
	}
	return &r, nil
}
