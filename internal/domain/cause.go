package domain

// Cause is the stable, caller-visible code of a failure. Every new failure
// cause is added here and classified in causeRetryable.
type Cause string

const (
	CauseInvalidInput        Cause = "invalid_input"
	CauseSlugInvalid         Cause = "slug_invalid"
	CauseSlugReserved        Cause = "slug_reserved"
	CauseSlugTaken           Cause = "slug_taken"
	CauseEmailInvalid        Cause = "email_invalid"
	CauseEmailInUse          Cause = "email_in_use"
	CausePasswordWeak        Cause = "password_weak"
	CauseKeyReused           Cause = "idempotency_key_reused"
	CauseKeyInFlight         Cause = "idempotency_key_in_flight"
	CauseTenantNotFound      Cause = "tenant_not_found"
	CauseRequestNotFound     Cause = "provisioning_request_not_found"
	CauseTenantDeleted       Cause = "tenant_deleted"
	CauseNoOwner             Cause = "no_owner_identity"
	CauseIdentityTimeout     Cause = "identity_timeout"
	CauseIdentityUnavailable Cause = "identity_unavailable"
	CauseIdentityRejected    Cause = "identity_rejected"
	CauseIdentityMissing     Cause = "identity_missing"
	CauseStoreTimeout        Cause = "store_timeout"
	CauseStoreUnavailable    Cause = "store_unavailable"
	CauseOwnerMismatch       Cause = "owner_mismatch"
	CauseLinkState           Cause = "ownership_link_state"
	CauseTenantState         Cause = "tenant_state"
	CauseAdministratorTarget Cause = "administrator_target"
	CauseRosterUnavailable   Cause = "roster_unavailable"
	CauseInternal            Cause = "internal"
)

// causeRetryable is the one place retryable vs terminal is decided.
var causeRetryable = map[Cause]bool{
	CauseInvalidInput:        false,
	CauseSlugInvalid:         false,
	CauseSlugReserved:        false,
	CauseSlugTaken:           false,
	CauseEmailInvalid:        false,
	CauseEmailInUse:          false,
	CausePasswordWeak:        false,
	CauseKeyReused:           false,
	CauseKeyInFlight:         false,
	CauseTenantNotFound:      false,
	CauseRequestNotFound:     false,
	CauseTenantDeleted:       false,
	CauseNoOwner:             false,
	CauseIdentityTimeout:     true,
	CauseIdentityUnavailable: true,
	CauseIdentityRejected:    false,
	CauseIdentityMissing:     true,
	CauseStoreTimeout:        true,
	CauseStoreUnavailable:    true,
	CauseOwnerMismatch:       true,
	CauseLinkState:           true,
	CauseTenantState:         true,
	CauseAdministratorTarget: false,
	CauseRosterUnavailable:   true,
	CauseInternal:            true,
}

// Retryable reports whether resubmitting the same request may succeed.
// Unknown causes are treated as retryable.
func (c Cause) Retryable() bool {
	r, ok := causeRetryable[c]
	if !ok {
		return true
	}
	return r
}

// causeKind maps a cause back to its error kind, so a failure stored by code
// can be surfaced again with the same kind.
var causeKind = map[Cause]error{
	CauseInvalidInput:        ErrValidation,
	CauseSlugInvalid:         ErrValidation,
	CauseSlugReserved:        ErrValidation,
	CauseSlugTaken:           ErrValidation,
	CauseEmailInvalid:        ErrValidation,
	CauseEmailInUse:          ErrValidation,
	CausePasswordWeak:        ErrValidation,
	CauseKeyReused:           ErrValidation,
	CauseKeyInFlight:         ErrConflict,
	CauseTenantNotFound:      ErrNotFound,
	CauseRequestNotFound:     ErrNotFound,
	CauseTenantDeleted:       ErrValidation,
	CauseNoOwner:             ErrValidation,
	CauseIdentityTimeout:     ErrExternalService,
	CauseIdentityUnavailable: ErrExternalService,
	CauseIdentityRejected:    ErrExternalService,
	CauseIdentityMissing:     ErrVerification,
	CauseStoreTimeout:        ErrExternalService,
	CauseStoreUnavailable:    ErrExternalService,
	CauseOwnerMismatch:       ErrVerification,
	CauseLinkState:           ErrVerification,
	CauseTenantState:         ErrVerification,
	CauseAdministratorTarget: ErrSafetyViolation,
	CauseRosterUnavailable:   ErrExternalService,
	CauseInternal:            ErrExternalService,
}

// Kind returns the error kind a cause belongs to. Unknown causes are
// ExternalService errors.
func (c Cause) Kind() error {
	if k, ok := causeKind[c]; ok {
		return k
	}
	return ErrExternalService
}

// New builds an *Error whose kind is derived from cause.
func New(cause Cause, format string, args ...any) *Error {
	return Errorf(cause.Kind(), cause, format, args...)
}
