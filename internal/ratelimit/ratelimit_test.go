package ratelimit

import (
	"context"
	"testing"
	"time"

	"staffroom/internal/store"
)

func TestLimiter_CountsDown(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewLocal(ctx))

	for want := int64(4); want >= 0; want-- {
		res := l.Check(ctx, "u1", 5, time.Minute)
		if !res.Allowed {
			t.Fatalf("request should be allowed at remaining=%d", want)
		}
		if res.Remaining != want {
			t.Fatalf("remaining = %d, want %d", res.Remaining, want)
		}
	}

	res := l.Check(ctx, "u1", 5, time.Minute)
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("sixth request should be denied, got %+v", res)
	}
}

func TestLimiter_WindowResets(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewLocal(ctx))

	for i := 0; i < 4; i++ {
		if res := l.Check(ctx, "u1", 3, 50*time.Millisecond); i < 3 != res.Allowed {
			t.Fatalf("request %d: allowed=%v", i+1, res.Allowed)
		}
	}

	time.Sleep(80 * time.Millisecond)

	res := l.Check(ctx, "u1", 3, 50*time.Millisecond)
	if !res.Allowed || res.Remaining != 2 {
		t.Errorf("expected fresh window, got %+v", res)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewLocal(ctx))

	l.Check(ctx, "u1", 1, time.Minute)
	if res := l.Check(ctx, "u1", 1, time.Minute); res.Allowed {
		t.Error("u1 should be exhausted")
	}
	if res := l.Check(ctx, "u2", 1, time.Minute); !res.Allowed {
		t.Error("u2 should be untouched")
	}
}
