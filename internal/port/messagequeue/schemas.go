package messagequeue

import "time"

// AuditEventPayload is the schema for audit.{action} messages. Payload is
// the already-redacted snapshot stored with the entry.
type AuditEventPayload struct {
	CorrelationID string         `json:"correlation_id"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	Outcome       string         `json:"outcome"`
	TenantID      string         `json:"tenant_id,omitempty"`
	IdentityID    string         `json:"identity_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
