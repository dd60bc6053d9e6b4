// Package secrets holds rotatable secrets in memory. The serve command
// reloads them on SIGHUP so the operator signing key can change without a
// restart.
package secrets

import (
	"fmt"
	"sync"

	"github.com/Strob0t/TenantForge/internal/config"
)

// KeyJWTSecret is the operator token signing secret.
const KeyJWTSecret = "auth.jwt_secret"

// Loader retrieves the current secret values.
type Loader func() (map[string]string, error)

// ConfigLoader re-reads the YAML file at path and the environment on every
// call and returns the secrets they define.
func ConfigLoader(path string) Loader {
	return func() (map[string]string, error) {
		cfg, err := config.LoadFrom(path)
		if err != nil {
			return nil, err
		}
		return map[string]string{KeyJWTSecret: cfg.Auth.JWTSecret}, nil
	}
}

// Vault holds secret values and swaps them atomically on Reload.
type Vault struct {
	mu      sync.RWMutex
	values  map[string]string
	loader  Loader
	version int
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader, version: 1}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Getter returns a func that reads key on every call.
func (v *Vault) Getter(key string) func() string {
	return func() string { return v.Get(key) }
}

// Version counts successful loads.
func (v *Vault) Version() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Reload calls the loader and swaps in the new values. On error the current
// values are kept. A load that would blank a non-empty secret is refused.
func (v *Vault) Reload() error {
	next, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for k, old := range v.values {
		if old != "" && next[k] == "" {
			return fmt.Errorf("reload secrets: %s would become empty", k)
		}
	}
	v.values = next
	v.version++
	return nil
}

// Redacted returns a masked form of the secret for logging: the first two
// characters and "****", or "****" for values of four characters or less.
func (v *Vault) Redacted(key string) string {
	s := v.Get(key)
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + "****"
	}
}
