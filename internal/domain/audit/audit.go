// Package audit defines the append-only audit trail of provisioning and
// credential-rotation transitions.
package audit

import (
	"slices"
	"strings"
	"time"
)

// Outcome is the transition an entry records.
type Outcome string

const (
	OutcomeInitiated          Outcome = "initiated"
	OutcomeIdentityCreated    Outcome = "identity_created"
	OutcomeTenantCreated      Outcome = "tenant_created"
	OutcomeTenantCreateFailed Outcome = "tenant_create_failed"
	OutcomeVerified           Outcome = "verified"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeRolledBack         Outcome = "rolled_back"
	OutcomeCompleted          Outcome = "completed"
	OutcomeFailed             Outcome = "failed"
	OutcomeReplayed           Outcome = "replayed"
	OutcomeRejected           Outcome = "rejected"
	OutcomeSafetyViolation    Outcome = "safety_violation"
	OutcomeCredentialRotated  Outcome = "credential_rotated"
	OutcomeSoftDeleted        Outcome = "soft_deleted"
	OutcomeReconciled         Outcome = "reconciled"
)

// Action names the operation or saga step an entry belongs to.
const (
	ActionProvision          = "tenant.provision"
	ActionCreateIdentity     = "tenant.provision.identity"
	ActionRegisterTenant     = "tenant.provision.register"
	ActionVerify             = "tenant.provision.verify"
	ActionCompensateLink     = "tenant.provision.compensate.link"
	ActionCompensateTenant   = "tenant.provision.compensate.tenant"
	ActionCompensateIdentity = "tenant.provision.compensate.identity"
	ActionRotateCredential   = "tenant.owner.rotate"
	ActionAttachOwner        = "tenant.owner.attach"
	ActionSoftDelete         = "tenant.delete"
	ActionReconcile          = "tenant.provision.reconcile"
)

// Entry is one immutable audit record.
type Entry struct {
	Seq           int64          `json:"seq"`
	CorrelationID string         `json:"correlation_id"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	Outcome       Outcome        `json:"outcome"`
	TenantID      string         `json:"tenant_id,omitempty"`
	IdentityID    string         `json:"identity_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Redacted marks a value that must never be written to the audit log.
const Redacted = "[REDACTED]"

// MaskEmail keeps the first character of the local part and the domain:
// "owner@bistro.example" becomes "o***@bistro.example".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// Outcome sequences of one provisioning attempt. PathSucceeded and
// PathRolledBack cover every attempt that reaches verification. The others
// end an attempt that failed earlier:
//   - PathRegistrationFailed: the tenant transaction failed, the identity was
//     compensated.
//   - PathIdentityRolledBack: the identity was created but could not be
//     recorded on the ledger, so it was compensated.
//   - PathRefused: the guard matched an administrator; nothing is compensated.
//   - PathFailedBeforeWrite: validation or the identity call failed before
//     anything was created.
var (
	PathSucceeded          = []Outcome{OutcomeInitiated, OutcomeIdentityCreated, OutcomeTenantCreated, OutcomeVerified, OutcomeCompleted}
	PathRolledBack         = []Outcome{OutcomeInitiated, OutcomeIdentityCreated, OutcomeTenantCreated, OutcomeVerificationFailed, OutcomeRolledBack, OutcomeFailed}
	PathRegistrationFailed = []Outcome{OutcomeInitiated, OutcomeIdentityCreated, OutcomeTenantCreateFailed, OutcomeRolledBack, OutcomeFailed}
	PathIdentityRolledBack = []Outcome{OutcomeInitiated, OutcomeIdentityCreated, OutcomeRolledBack, OutcomeFailed}
	PathRefused            = []Outcome{OutcomeInitiated, OutcomeSafetyViolation, OutcomeFailed}
	PathFailedBeforeWrite  = []Outcome{OutcomeInitiated, OutcomeFailed}
)

// Paths lists every complete attempt sequence.
var Paths = [][]Outcome{
	PathSucceeded,
	PathRolledBack,
	PathRegistrationFailed,
	PathIdentityRolledBack,
	PathRefused,
	PathFailedBeforeWrite,
}

// Attempts splits a provisioning trail into attempts, one per initiated
// entry, keeping only the saga outcomes. Replayed and rejected entries
// belong to no attempt. Consecutive rolled_back entries (one per
// compensation step) are collapsed into one.
func Attempts(entries []Entry) [][]Outcome {
	var (
		out [][]Outcome
		cur []Outcome
	)
	for _, e := range entries {
		switch e.Outcome {
		case OutcomeReplayed, OutcomeRejected, OutcomeReconciled:
			continue
		case OutcomeInitiated:
			if cur != nil {
				out = append(out, cur)
			}
			cur = []Outcome{OutcomeInitiated}
			continue
		}
		if cur == nil {
			continue
		}
		if e.Outcome == OutcomeRolledBack && cur[len(cur)-1] == OutcomeRolledBack {
			continue
		}
		cur = append(cur, e.Outcome)
	}
	if cur != nil {
		out = append(out, cur)
	}
	return out
}

// CompletePath reports whether outcomes is exactly one of Paths.
func CompletePath(outcomes []Outcome) bool {
	for _, p := range Paths {
		if slices.Equal(outcomes, p) {
			return true
		}
	}
	return false
}

// Ordered reports whether timestamps never decrease along entries.
func Ordered(entries []Entry) bool {
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.Before(entries[i-1].CreatedAt) {
			return false
		}
	}
	return true
}
