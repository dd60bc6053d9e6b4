// Package user defines the operator (actor) calling the administrative API.
package user

import "errors"

// Role represents the authorization level of an operator.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleSupport       Role = "support"
	RoleViewer        Role = "viewer"
)

// ValidRoles is the set of all valid operator roles.
var ValidRoles = map[Role]bool{
	RolePlatformAdmin: true,
	RoleSupport:       true,
	RoleViewer:        true,
}

// Actor is the authenticated operator behind a request. Its ID is recorded as
// the actor of every audit entry the request produces.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Validate checks that the actor carries an id and a known role.
func (a *Actor) Validate() error {
	if a.ID == "" {
		return errors.New("actor id is required")
	}
	if !ValidRoles[a.Role] {
		return errors.New("invalid role: must be platform_admin, support, or viewer")
	}
	return nil
}

// CanProvision reports whether the actor may provision tenants or rotate
// owner credentials.
func (a *Actor) CanProvision() bool {
	return a.Role == RolePlatformAdmin
}
