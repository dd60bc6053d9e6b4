package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/TenantForge/internal/metrics"
	"github.com/Strob0t/TenantForge/internal/port/cache"
	"github.com/Strob0t/TenantForge/internal/port/database"
)

const rosterCacheKey = "roster:administrators"

// CachedRoster reads the administrator roster view through a cache with a
// short TTL. Concurrent misses share one store read.
type CachedRoster struct {
	store database.Directory
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

var _ RosterSource = (*CachedRoster)(nil)

// NewCachedRoster creates a CachedRoster. c may be nil to always read the store.
func NewCachedRoster(store database.Directory, c cache.Cache, ttl time.Duration) *CachedRoster {
	return &CachedRoster{store: store, cache: c, ttl: ttl}
}

// Snapshot returns the roster. Cache errors fall through to the store; a
// store error is returned so the guard fails closed.
func (r *CachedRoster) Snapshot(ctx context.Context) (RosterSnapshot, error) {
	if r.cache != nil {
		ids, ok, err := cache.GetJSON[[]string](ctx, r.cache, rosterCacheKey)
		if err != nil {
			slog.WarnContext(ctx, "roster cache read failed", "error", err)
		}
		if ok {
			return NewRosterSnapshot(ids), nil
		}
	}

	v, err, _ := r.group.Do(rosterCacheKey, func() (any, error) {
		ids, err := r.store.ListAdministratorIDs(ctx)
		if err != nil {
			metrics.RosterRefreshTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("load administrator roster: %w", err)
		}
		metrics.RosterRefreshTotal.WithLabelValues("ok").Inc()
		if r.cache != nil {
			if err := cache.SetJSON(ctx, r.cache, rosterCacheKey, ids, r.ttl); err != nil {
				slog.WarnContext(ctx, "roster cache write failed", "error", err)
			}
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return NewRosterSnapshot(v.([]string)), nil
}

// Invalidate drops the cached roster, e.g. after an administrator is added.
func (r *CachedRoster) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, rosterCacheKey)
}
