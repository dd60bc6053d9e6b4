// Package identity defines accounts held by the external identity service.
package identity

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Kind separates platform administrators from tenant owners. It never changes
// after the identity is created.
type Kind string

const (
	KindPlatformAdministrator Kind = "platform_administrator"
	KindTenantOwner           Kind = "tenant_owner"
)

// Identity is an account in the identity service. ID is assigned by the
// service itself.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Field names a credential that can be rotated.
type Field string

const (
	FieldEmail    Field = "email"
	FieldPassword Field = "password"
)

// Valid reports whether f is a rotatable field.
func (f Field) Valid() bool {
	return f == FieldEmail || f == FieldPassword
}

// Password length bounds. The upper bound is bcrypt's input limit, in bytes.
const (
	MinPasswordLength = 8
	MaxPasswordBytes  = 72
)

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address (no display name).
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidatePassword checks the minimal password policy.
func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	if len(pw) > MaxPasswordBytes {
		return errors.New("password must be at most 72 bytes")
	}
	return nil
}
