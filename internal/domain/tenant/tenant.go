// Package tenant defines the tenant and ownership-link domain models.
package tenant

import (
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
)

// Tenant represents a provisioned restaurant organization.
type Tenant struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Slug            string     `json:"slug"`
	ContactEmail    string     `json:"contact_email"`
	OwnerIdentityID string     `json:"owner_identity_id,omitempty"`
	Status          Status     `json:"status"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Deleted reports whether the tenant has been soft-deleted.
func (t *Tenant) Deleted() bool { return t.DeletedAt != nil }

// LinkStatus is the state of an ownership link.
type LinkStatus string

const (
	LinkPending   LinkStatus = "pending"
	LinkCompleted LinkStatus = "completed"
	LinkFailed    LinkStatus = "failed"
)

// OwnershipLink records which identity administers which tenant,
// independently of Tenant.OwnerIdentityID.
type OwnershipLink struct {
	TenantID        string     `json:"tenant_id"`
	OwnerIdentityID string     `json:"owner_identity_id"`
	Status          LinkStatus `json:"status"`
	GrantedBy       string     `json:"granted_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// DefaultReservedSlugs are slugs that collide with platform routes or brands.
var DefaultReservedSlugs = []string{
	"admin", "administrator", "api", "app", "assets", "auth", "billing", "blog",
	"dashboard", "docs", "help", "internal", "login", "logout", "mail", "platform",
	"root", "settings", "signup", "static", "status", "support", "system", "www",
}

// NormalizeSlug lower-cases and trims a slug.
func NormalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidSlug reports whether s is 3-64 lowercase alphanumeric characters or hyphens.
func ValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// ReservedSet builds a lookup set from a reserved-word list.
func ReservedSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[NormalizeSlug(w)] = true
	}
	return set
}
