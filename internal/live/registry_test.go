package live

import (
	"sync"
	"testing"

	"staffroom/internal/models"
)

func TestRegistry_JoinLeave(t *testing.T) {
	r := NewRegistry()
	p := models.Principal{Type: models.PrincipalEmployee, ID: "e1"}

	c1 := r.Join(p)
	c2 := r.Join(p)
	if !r.IsConnected(p) {
		t.Fatal("expected connected after join")
	}
	if r.Count(p) != 2 {
		t.Fatalf("count = %d, want 2", r.Count(p))
	}

	r.Leave(c1)
	if !r.IsConnected(p) {
		t.Error("one socket left, still connected")
	}
	r.Leave(c2)
	if r.IsConnected(p) {
		t.Error("expected disconnected after last leave")
	}

	// Leaving twice is harmless.
	r.Leave(c2)
}

func TestRegistry_Send(t *testing.T) {
	r := NewRegistry()
	p := models.Principal{Type: models.PrincipalEmployee, ID: "e1"}
	other := models.Principal{Type: models.PrincipalApplicant, ID: "a1"}

	c1 := r.Join(p)
	c2 := r.Join(p)

	ev := models.Event{Type: models.EventMessage, RoomID: "room1"}
	if !r.Send(p, ev) {
		t.Fatal("expected delivery to a connected principal")
	}
	if len(c1.Events) != 1 || len(c2.Events) != 1 {
		t.Error("every socket of the principal gets the event")
	}

	if r.Send(other, ev) {
		t.Error("no sockets, no delivery")
	}
}

func TestRegistry_SendFullChannelDrops(t *testing.T) {
	r := NewRegistry()
	p := models.Principal{Type: models.PrincipalEmployee, ID: "e1"}
	c := r.Join(p)

	// Saturate the socket's buffer; further sends must not block.
	for i := 0; i < sendBuffer; i++ {
		c.Events <- models.Event{Type: models.EventTyping}
	}
	if !r.Send(p, models.Event{Type: models.EventMessage}) {
		// A single saturated socket means nothing took the event.
		if len(c.Events) != sendBuffer {
			t.Error("event leaked into a full channel")
		}
	}
}

func TestRegistry_SendDuringTeardown(t *testing.T) {
	r := NewRegistry()
	p := models.Principal{Type: models.PrincipalEmployee, ID: "e1"}

	// Bus-relay goroutines send while sockets churn through join/leave. A
	// socket that leaves mid-send must absorb the event, not crash.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					r.Send(p, models.Event{Type: models.EventMessage})
					r.Broadcast(models.Event{Type: models.EventPresenceChange})
				}
			}
		}()
	}

	for i := 0; i < 5000; i++ {
		c := r.Join(p)
		r.Leave(c)
	}
	close(done)
	wg.Wait()

	if r.IsConnected(p) {
		t.Error("expected empty registry after churn")
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	r := NewRegistry()
	a := models.Principal{Type: models.PrincipalEmployee, ID: "e1"}
	b := models.Principal{Type: models.PrincipalApplicant, ID: "a1"}

	ca := r.Join(a)
	cb := r.Join(b)

	r.Broadcast(models.Event{Type: models.EventPresenceChange})
	if len(ca.Events) != 1 || len(cb.Events) != 1 {
		t.Error("broadcast reaches every local socket")
	}
}
