// Package redis implements the cache port on Redis as an alternative L2.
package redis

import (
	"context"
	"errors"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Cache wraps a go-redis client.
type Cache struct {
	c      rdb.UniversalClient
	prefix string
}

// New connects to addr. Keys are namespaced under prefix.
func New(addr, prefix string) *Cache {
	return NewFromClient(rdb.NewClient(&rdb.Options{Addr: addr}), prefix)
}

// NewFromClient wraps an existing client.
func NewFromClient(c rdb.UniversalClient, prefix string) *Cache {
	return &Cache{c: c, prefix: prefix}
}

// Ping checks connectivity.
func (r *Cache) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

// Get retrieves a value.
func (r *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	b, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Set stores a value with the given TTL (0 means no expiry).
func (r *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, r.prefix+key, value, ttl).Err()
}

// Delete removes a value.
func (r *Cache) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.prefix+key).Err()
}

// Close closes the client.
func (r *Cache) Close() error {
	return r.c.Close()
}
