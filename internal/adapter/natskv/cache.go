// Package natskv implements the cache port using NATS JetStream KV as L2 remote cache.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// entry wraps a value with its own expiry. Bucket TTL in JetStream KV is
// bucket-wide, so per-key TTLs are enforced on read.
type entry struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// Cache wraps a NATS JetStream KeyValue store as an L2 cache.
type Cache struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Open creates or updates the named bucket and returns a cache over it.
// maxAge bounds how long any key survives in the bucket.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, maxAge time.Duration) (*Cache, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    maxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

// Get retrieves a value from the NATS KV store. Expired entries are misses.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	kve, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var e entry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return nil, false, nil
	}
	if !e.ExpiresAt.IsZero() && !c.now().Before(e.ExpiresAt) {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Set stores a value in the NATS KV store. A zero ttl never expires on read.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = c.now().Add(ttl)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = c.kv.Put(ctx, key, data)
	return err
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
