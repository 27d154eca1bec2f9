// Package ratelimit implements fixed-window request counters on the shared
// store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"staffroom/internal/metrics"
	"staffroom/internal/store"
)

const keyPrefix = "ratelimit:"

type Result struct {
	Allowed   bool
	Remaining int64
}

type Limiter struct {
	backend store.Backend
}

func New(backend store.Backend) *Limiter {
	return &Limiter{backend: backend}
}

// Check increments the window counter for key and decides. The first
// increment in a window sets the window expiry; increment and expiry are two
// round trips, so a crash between them can leave a counter without a TTL
// until the next window. The source of truth accepts this.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) Result {
	counterKey := fmt.Sprintf("%s%s", keyPrefix, key)

	count := l.backend.Incr(ctx, counterKey)
	if count == 1 {
		l.backend.Expire(ctx, counterKey, window)
	}

	if count > limit {
		metrics.RateLimited.Inc()
		return Result{Allowed: false, Remaining: 0}
	}
	return Result{Allowed: true, Remaining: limit - count}
}
