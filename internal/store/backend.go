package store

import (
	"context"
	"time"
)

// Backend is the uniform contract over the shared key-value store. All
// methods are non-throwing from the caller's perspective: connectivity
// failures are absorbed by the implementation (served from the in-process
// fallback and logged once), never returned. Callers stay backend-agnostic;
// the implementation is chosen once at construction.
type Backend interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool)
	// SetWithTTL stores value under key. ttl == 0 means no expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration)
	Del(ctx context.Context, key string)
	// Incr atomically increments the integer at key and returns the result.
	Incr(ctx context.Context, key string) int64
	// DecrFloor atomically decrements the integer at key, clamping at 0.
	DecrFloor(ctx context.Context, key string) int64
	Expire(ctx context.Context, key string, ttl time.Duration)
	// ScanByPrefix returns all live keys starting with prefix.
	ScanByPrefix(ctx context.Context, prefix string) []string
	// PipelinedGet fetches many keys in a bounded number of round trips.
	// Missing keys are absent from the result map.
	PipelinedGet(ctx context.Context, keys []string) map[string]string
	// Publish fans payload out to channel subscribers, returning how many
	// subscribers received it. At-most-once, no backlog.
	Publish(ctx context.Context, channel, payload string) int64
	// Subscribe registers handler for messages on channel.
	Subscribe(channel string, handler func(channel, payload string)) Subscription
	// Degraded reports whether the shared store is currently unreachable.
	Degraded() bool
	Close() error
}

// Subscription is a handle returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}
