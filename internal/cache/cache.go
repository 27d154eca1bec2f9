// Package cache is a cache-aside layer over the shared store. The shared
// store is the source of truth; a process-local mirror answers repeat reads
// without a round trip.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/vmihailenco/msgpack/v5"

	"staffroom/internal/store"
)

const keyPrefix = "cache:"

type Cache struct {
	backend store.Backend
	mirror  geche.Geche[string, []byte]
	ttl     time.Duration
}

// New creates a cache whose local mirror holds entries for defaultTTL. The
// mirror TTL bounds staleness when another instance updates the shared copy.
func New(ctx context.Context, backend store.Backend, defaultTTL time.Duration) *Cache {
	return &Cache{
		backend: backend,
		mirror:  geche.NewMapTTLCache[string, []byte](ctx, defaultTTL, time.Minute),
		ttl:     defaultTTL,
	}
}

// Get unmarshals the cached value for key into dest. Returns false on miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if data, err := c.mirror.Get(key); err == nil {
		return msgpack.Unmarshal(data, dest) == nil
	}

	raw, ok := c.backend.Get(ctx, keyPrefix+key)
	if !ok {
		return false
	}
	data := []byte(raw)
	c.mirror.Set(key, data)
	return msgpack.Unmarshal(data, dest) == nil
}

// Set writes value to the shared store and the local mirror. ttl <= 0 uses
// the cache default.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.backend.SetWithTTL(ctx, keyPrefix+key, string(data), ttl)
	c.mirror.Set(key, data)
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) {
	c.backend.Del(ctx, keyPrefix+key)
	_ = c.mirror.Del(key)
}

// DeletePattern invalidates every key matching pattern, where pattern is a
// prefix glob like "room:42:*".
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	prefix := strings.TrimSuffix(pattern, "*")
	for _, k := range c.backend.ScanByPrefix(ctx, keyPrefix+prefix) {
		c.backend.Del(ctx, k)
	}
	for k := range c.mirror.Snapshot() {
		if strings.HasPrefix(k, prefix) {
			_ = c.mirror.Del(k)
		}
	}
}

// GetOrSet returns the cached value for key, running loader on a miss and
// writing its result back. Concurrent callers racing on the same cold key
// may each run the loader; last write wins, which is accepted for this
// layer.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest any, ttl time.Duration, loader func(ctx context.Context) (any, error)) error {
	if c.Get(ctx, key, dest) {
		return nil
	}

	value, err := loader(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, dest)
}
