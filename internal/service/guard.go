package service

import (
	"context"
	"log/slog"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/metrics"
)

// RosterSnapshot is a point-in-time set of administrator identity ids.
type RosterSnapshot map[string]struct{}

// NewRosterSnapshot builds a snapshot from a list of ids.
func NewRosterSnapshot(ids []string) RosterSnapshot {
	s := make(RosterSnapshot, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// IsAdministrator reports whether identityID is on the roster.
func IsAdministrator(roster RosterSnapshot, identityID string) bool {
	_, ok := roster[identityID]
	return ok
}

// RosterSource yields the current administrator roster.
type RosterSource interface {
	Snapshot(ctx context.Context) (RosterSnapshot, error)
}

// Guard refuses any mutation that targets a platform administrator. It has
// no bypass; a roster that cannot be loaded blocks the caller.
type Guard struct {
	roster RosterSource
}

// NewGuard creates a Guard over roster.
func NewGuard(roster RosterSource) *Guard {
	return &Guard{roster: roster}
}

// Check returns a SafetyViolation error if identityID is an administrator.
func (g *Guard) Check(ctx context.Context, identityID string) error {
	snap, err := g.roster.Snapshot(ctx)
	if err != nil {
		return domain.Wrap(domain.ErrExternalService, domain.CauseRosterUnavailable, err, "administrator roster unavailable")
	}
	if IsAdministrator(snap, identityID) {
		metrics.SafetyViolationsTotal.Inc()
		slog.ErrorContext(ctx, "blocked mutation of administrator identity", "identity_id", identityID)
		return domain.New(domain.CauseAdministratorTarget, "target identity is a platform administrator")
	}
	return nil
}
