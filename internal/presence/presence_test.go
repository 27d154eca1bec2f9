package presence

import (
	"context"
	"testing"
	"time"

	"staffroom/internal/models"
	"staffroom/internal/store"
)

var alice = models.Principal{Type: models.PrincipalEmployee, ID: "e1"}
var bob = models.Principal{Type: models.PrincipalApplicant, ID: "a1"}

func newTestTracker(t *testing.T, ttl time.Duration) *Tracker {
	t.Helper()
	return NewTracker(store.NewLocal(context.Background()), ttl, ttl)
}

func TestTracker_ConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, time.Minute)

	rec := tr.Connect(ctx, alice, "desktop")
	if rec.SocketCount != 1 {
		t.Fatalf("expected 1 socket, got %d", rec.SocketCount)
	}
	if rec.Status != models.StatusOnline {
		t.Fatalf("expected online, got %s", rec.Status)
	}
	if !tr.IsOnline(ctx, alice) {
		t.Fatal("expected alice online")
	}

	// Second device.
	rec = tr.Connect(ctx, alice, "mobile")
	if rec.SocketCount != 2 {
		t.Fatalf("expected 2 sockets, got %d", rec.SocketCount)
	}

	// First disconnect keeps her online.
	if remaining := tr.Disconnect(ctx, alice); remaining != 1 {
		t.Fatalf("expected 1 remaining socket, got %d", remaining)
	}
	if !tr.IsOnline(ctx, alice) {
		t.Error("expected alice still online with one socket")
	}

	// Last disconnect means offline: record gone.
	if remaining := tr.Disconnect(ctx, alice); remaining != 0 {
		t.Fatalf("expected 0 remaining sockets, got %d", remaining)
	}
	if tr.IsOnline(ctx, alice) {
		t.Error("expected alice offline at zero sockets")
	}
	if _, ok := tr.Get(ctx, alice); ok {
		t.Error("expected no record after last disconnect")
	}

	// Extra disconnects never push the count negative.
	if remaining := tr.Disconnect(ctx, alice); remaining != 0 {
		t.Errorf("expected floor at 0, got %d", remaining)
	}
}

func TestTracker_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, 50*time.Millisecond)

	tr.Connect(ctx, alice, "")
	if !tr.IsOnline(ctx, alice) {
		t.Fatal("expected online right after connect")
	}

	time.Sleep(80 * time.Millisecond)

	// No heartbeat within the TTL: absent record is offline.
	if tr.IsOnline(ctx, alice) {
		t.Error("expected offline after TTL lapsed without refresh")
	}
}

func TestTracker_HeartbeatRefreshes(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, 80*time.Millisecond)

	tr.Connect(ctx, alice, "")
	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		tr.Heartbeat(ctx, alice)
	}
	if !tr.IsOnline(ctx, alice) {
		t.Error("expected online while heartbeats keep coming")
	}
}

func TestTracker_SetStatus(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, time.Minute)

	tr.Connect(ctx, alice, "")

	rec, changed := tr.SetStatus(ctx, alice, models.StatusBusy, "interviews all day", "📅")
	if !changed || rec.Status != models.StatusBusy {
		t.Fatalf("expected busy, got %+v changed=%v", rec, changed)
	}
	if rec.CustomStatus != "interviews all day" {
		t.Errorf("custom status not kept: %q", rec.CustomStatus)
	}

	// A new socket keeps the chosen status.
	rec = tr.Connect(ctx, alice, "mobile")
	if rec.Status != models.StatusBusy {
		t.Errorf("expected busy preserved on reconnect, got %s", rec.Status)
	}

	// Offline with live sockets is refused: socketCount > 0 implies not
	// offline.
	rec, changed = tr.SetStatus(ctx, alice, models.StatusOffline, "", "")
	if changed {
		t.Error("expected offline refused while sockets connected")
	}
	if rec.Status != models.StatusBusy {
		t.Errorf("status should be unchanged, got %s", rec.Status)
	}
}

func TestTracker_BulkGetAndListOnline(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, time.Minute)

	tr.Connect(ctx, alice, "")
	tr.Connect(ctx, bob, "")

	records := tr.BulkGet(ctx, []models.Principal{alice, bob, {Type: models.PrincipalAdmin, ID: "ghost"}})
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[alice] == nil || records[bob] == nil {
		t.Fatal("expected records for both connected principals")
	}

	online := tr.ListOnline(ctx)
	if len(online) != 2 {
		t.Errorf("expected 2 online, got %d", len(online))
	}
}

func TestTracker_Typing(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(store.NewLocal(context.Background()), time.Minute, 50*time.Millisecond)

	tr.SetTyping(ctx, "room1", alice, "Alice")
	tr.SetTyping(ctx, "room1", bob, "Bob")
	tr.SetTyping(ctx, "room2", alice, "Alice")

	typing := tr.ListTyping(ctx, "room1")
	if len(typing) != 2 {
		t.Fatalf("expected 2 typing in room1, got %d", len(typing))
	}

	// Self-expires, no explicit clear.
	time.Sleep(80 * time.Millisecond)
	if typing := tr.ListTyping(ctx, "room1"); len(typing) != 0 {
		t.Errorf("expected typing records expired, got %d", len(typing))
	}
}
