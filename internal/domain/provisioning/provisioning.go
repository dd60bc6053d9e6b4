// Package provisioning defines the idempotency ledger record for one tenant
// provisioning attempt.
package provisioning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a provisioning request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payload is the caller-supplied part of a provisioning request.
type Payload struct {
	ActorID    string `json:"actor_id"`
	TenantName string `json:"tenant_name"`
	TenantSlug string `json:"tenant_slug"`
	OwnerEmail string `json:"owner_email"`
}

// Hash is a stable digest used to detect a key reused with a different payload.
func (p Payload) Hash() string {
	b, _ := json.Marshal(p)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Result is returned to the caller once provisioning completed. It never
// carries a credential.
type Result struct {
	TenantID        string `json:"tenant_id"`
	OwnerIdentityID string `json:"owner_identity_id"`
	SetupLinkSent   bool   `json:"setup_link_sent"`
}

// Request is one row of the idempotency ledger.
type Request struct {
	IdempotencyKey      string          `json:"idempotency_key"`
	Payload             Payload         `json:"payload"`
	PayloadHash         string          `json:"-"`
	Status              Status          `json:"status"`
	OwnerIdentityID     string          `json:"owner_identity_id,omitempty"`
	TenantID            string          `json:"tenant_id,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
	ErrorCode           string          `json:"error_code,omitempty"`
	ErrorDetail         string          `json:"error_detail,omitempty"`
	Retryable           bool            `json:"retryable"`
	CompensationPending bool            `json:"compensation_pending"`
	Attempts            int             `json:"attempts"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// Outcome is the ledger's answer to Begin.
type Outcome int

const (
	// Fresh means the caller owns the attempt and must execute it.
	Fresh Outcome = iota
	// InFlight means another attempt with the same key is running.
	InFlight
	// Cached means the attempt is terminal; Request carries the stored result.
	Cached
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case InFlight:
		return "in_flight"
	case Cached:
		return "cached"
	}
	return "unknown"
}

// Failure is what the ledger stores when an attempt fails.
type Failure struct {
	Code      string
	Detail    string
	Retryable bool
	// KeepIdentity leaves OwnerIdentityID on the row because its compensation
	// did not complete.
	KeepIdentity bool
}
