package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/TenantForge/internal/domain/audit"
)

// AppendAudit inserts e and sets its sequence number. Rows are never updated;
// a trigger rejects UPDATE and DELETE.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("append audit %s: marshal payload: %w", e.Action, err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO audit_entries (correlation_id, actor_id, action, outcome, tenant_id, identity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		e.CorrelationID, e.ActorID, e.Action, string(e.Outcome),
		nullIfEmpty(e.TenantID), nullIfEmpty(e.IdentityID), data, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", e.Action, err)
	}
	return nil
}

// ListAudit returns the entries of one correlation id in append order.
func (s *Store) ListAudit(ctx context.Context, correlationID string) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, correlation_id, actor_id, action, outcome, tenant_id, identity_id, payload, created_at
		FROM audit_entries WHERE correlation_id = $1 ORDER BY seq`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list audit %s: %w", correlationID, err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e                    audit.Entry
			outcome              string
			tenantID, identityID *string
			data                 []byte
		)
		if err := rows.Scan(&e.Seq, &e.CorrelationID, &e.ActorID, &e.Action, &outcome,
			&tenantID, &identityID, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Outcome = audit.Outcome(outcome)
		e.TenantID = deref(tenantID)
		e.IdentityID = deref(identityID)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload %d: %w", e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
