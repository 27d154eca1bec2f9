package store

import (
	"context"
	"testing"
	"time"
)

func TestLocalBackend_TTL(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(ctx)

	now := time.Now()
	b.now = func() time.Time { return now }

	b.SetWithTTL(ctx, "k1", "v1", time.Minute)
	b.SetWithTTL(ctx, "k2", "v2", 0)

	if v, ok := b.Get(ctx, "k1"); !ok || v != "v1" {
		t.Fatalf("expected v1 before expiry, got %q ok=%v", v, ok)
	}

	// Jump past the TTL.
	now = now.Add(2 * time.Minute)

	if _, ok := b.Get(ctx, "k1"); ok {
		t.Error("expected k1 expired")
	}
	if v, ok := b.Get(ctx, "k2"); !ok || v != "v2" {
		t.Errorf("expected k2 to survive without TTL, got %q ok=%v", v, ok)
	}
}

func TestLocalBackend_Counters(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(ctx)

	if n := b.Incr(ctx, "c"); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	if n := b.Incr(ctx, "c"); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if n := b.DecrFloor(ctx, "c"); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	if n := b.DecrFloor(ctx, "c"); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
	// Floor: never goes negative.
	if n := b.DecrFloor(ctx, "c"); n != 0 {
		t.Errorf("expected floor at 0, got %d", n)
	}
	if n := b.DecrFloor(ctx, "missing"); n != 0 {
		t.Errorf("expected floor at 0 for missing key, got %d", n)
	}
}

func TestLocalBackend_CounterExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(ctx)

	now := time.Now()
	b.now = func() time.Time { return now }

	b.Incr(ctx, "w")
	b.Expire(ctx, "w", 10*time.Second)
	if n := b.Incr(ctx, "w"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}

	now = now.Add(11 * time.Second)

	// Counter restarts once the window lapsed.
	if n := b.Incr(ctx, "w"); n != 1 {
		t.Errorf("expected counter restart at 1, got %d", n)
	}
}

func TestLocalBackend_ScanAndPipeline(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(ctx)

	b.SetWithTTL(ctx, "presence:a", "1", 0)
	b.SetWithTTL(ctx, "presence:b", "2", 0)
	b.SetWithTTL(ctx, "other:c", "3", 0)

	keys := b.ScanByPrefix(ctx, "presence:")
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	got := b.PipelinedGet(ctx, []string{"presence:a", "presence:b", "missing"})
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %d", len(got))
	}
	if got["presence:a"] != "1" || got["presence:b"] != "2" {
		t.Errorf("unexpected values: %v", got)
	}
}

func TestLocalBackend_PubSub(t *testing.T) {
	ctx := context.Background()
	b := NewLocal(ctx)

	var received []string
	sub := b.Subscribe("ch", func(channel, payload string) {
		received = append(received, payload)
	})

	if n := b.Publish(ctx, "ch", "one"); n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
	if n := b.Publish(ctx, "other", "x"); n != 0 {
		t.Errorf("expected 0 subscribers on other channel, got %d", n)
	}

	sub.Unsubscribe()
	if n := b.Publish(ctx, "ch", "two"); n != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", n)
	}

	if len(received) != 1 || received[0] != "one" {
		t.Errorf("unexpected deliveries: %v", received)
	}
}

func TestLocalBackend_Degraded(t *testing.T) {
	b := NewLocal(context.Background())
	if b.Degraded() {
		t.Error("local backend never reports degraded")
	}
}
