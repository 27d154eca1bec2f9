package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type localEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LocalBackend serves the Backend contract from process-local state. It is
// the degraded-mode substitute for the shared store and the fallback target
// of RemoteBackend. Single-instance deployments can run on it exclusively;
// cross-instance consistency is lost, nothing else.
type LocalBackend struct {
	mu      sync.RWMutex
	entries map[string]localEntry

	subMu   sync.RWMutex
	subs    map[string]map[uint64]func(channel, payload string)
	nextSub uint64

	now func() time.Time
}

func NewLocal(ctx context.Context) *LocalBackend {
	b := &LocalBackend{
		entries: make(map[string]localEntry),
		subs:    make(map[string]map[uint64]func(channel, payload string)),
		now:     time.Now,
	}
	go b.janitor(ctx)
	return b
}

// janitor evicts expired entries so the map does not grow unbounded between
// reads. Lazy expiry on Get keeps correctness regardless.
func (b *LocalBackend) janitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := b.now()
			b.mu.Lock()
			for k, e := range b.entries {
				if e.expired(now) {
					delete(b.entries, k)
				}
			}
			b.mu.Unlock()
		}
	}
}

func (b *LocalBackend) Get(_ context.Context, key string) (string, bool) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok || e.expired(b.now()) {
		return "", false
	}
	return e.value, true
}

func (b *LocalBackend) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = b.now().Add(ttl)
	}
	b.mu.Lock()
	b.entries[key] = localEntry{value: value, expiresAt: exp}
	b.mu.Unlock()
}

func (b *LocalBackend) Del(_ context.Context, key string) {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
}

func (b *LocalBackend) Incr(_ context.Context, key string) int64 {
	return b.add(key, 1, 0)
}

func (b *LocalBackend) DecrFloor(_ context.Context, key string) int64 {
	return b.add(key, -1, 0)
}

// add applies delta to the counter at key under the write lock, clamping the
// result at floor. A counter that was absent or expired restarts from zero
// with no expiry, matching shared-store INCR semantics.
func (b *LocalBackend) add(key string, delta, floor int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, ok := b.entries[key]
	if !ok || e.expired(now) {
		e = localEntry{}
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n += delta
	if n < floor {
		n = floor
	}
	e.value = strconv.FormatInt(n, 10)
	b.entries[key] = e
	return n
}

func (b *LocalBackend) Expire(_ context.Context, key string, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.expired(b.now()) {
		return
	}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	b.entries[key] = e
}

func (b *LocalBackend) ScanByPrefix(_ context.Context, prefix string) []string {
	now := b.now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k, e := range b.entries {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (b *LocalBackend) PipelinedGet(ctx context.Context, keys []string) map[string]string {
	result := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := b.Get(ctx, k); ok {
			result[k] = v
		}
	}
	return result
}

// Publish invokes local subscribers synchronously, preserving observable
// pub/sub behavior for single-instance deployments.
func (b *LocalBackend) Publish(_ context.Context, channel, payload string) int64 {
	b.subMu.RLock()
	handlers := make([]func(string, string), 0, len(b.subs[channel]))
	for _, h := range b.subs[channel] {
		handlers = append(handlers, h)
	}
	b.subMu.RUnlock()

	for _, h := range handlers {
		h(channel, payload)
	}
	return int64(len(handlers))
}

func (b *LocalBackend) Subscribe(channel string, handler func(channel, payload string)) Subscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextSub++
	id := b.nextSub
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]func(string, string))
	}
	b.subs[channel][id] = handler

	return &localSubscription{backend: b, channel: channel, id: id}
}

func (b *LocalBackend) Degraded() bool { return false }

func (b *LocalBackend) Close() error { return nil }

type localSubscription struct {
	backend *LocalBackend
	channel string
	id      uint64
	once    sync.Once
}

func (s *localSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.backend.subMu.Lock()
		defer s.backend.subMu.Unlock()
		delete(s.backend.subs[s.channel], s.id)
		if len(s.backend.subs[s.channel]) == 0 {
			delete(s.backend.subs, s.channel)
		}
	})
}
