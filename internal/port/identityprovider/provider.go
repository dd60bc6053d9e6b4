// Package identityprovider defines the port to the external identity service.
package identityprovider

import (
	"context"
	"errors"

	"github.com/Strob0t/TenantForge/internal/domain/identity"
)

// ErrIdentityNotFound is returned when the service has no account with the id.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrRejected is returned when the service refused the request (4xx).
var ErrRejected = errors.New("identity service rejected request")

// Created is the service's answer to CreateIdentity. It never includes a
// credential.
type Created struct {
	ID    string
	Email string
}

// Provider is the port interface to the identity service.
type Provider interface {
	// CreateIdentity creates an unverified account. The service generates any
	// one-time credential itself; it is never returned.
	CreateIdentity(ctx context.Context, email string, kind identity.Kind) (Created, error)
	GetIdentity(ctx context.Context, id string) (*identity.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	SendVerificationLink(ctx context.Context, id string) error
	// UpdateCredential changes exactly one credential field of the account id.
	UpdateCredential(ctx context.Context, id string, field identity.Field, value string) error
}
