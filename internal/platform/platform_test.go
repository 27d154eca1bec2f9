package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"staffroom/internal/cache"
	"staffroom/internal/models"
	"staffroom/internal/store"
)

func membersHandler(hits *atomic.Int32, members []models.Member) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(members)
	}
}

func TestClient_FetchMembers(t *testing.T) {
	want := []models.Member{
		{Principal: models.Principal{Type: models.PrincipalEmployee, ID: "e1"}, Name: "Alice", Active: true, NotificationsEnabled: true},
	}
	var hits atomic.Int32
	srv := httptest.NewServer(membersHandler(&hits, want))
	defer srv.Close()

	got, err := NewClient(srv.URL).FetchMembers(context.Background(), "room1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Alice" {
		t.Errorf("got %+v", got)
	}
}

func TestClient_EmptyBaseURL(t *testing.T) {
	c := NewClient("")

	members, err := c.FetchMembers(context.Background(), "room1")
	if err != nil || len(members) != 0 {
		t.Errorf("members=%v err=%v, want empty/nil", members, err)
	}

	if _, err := c.Load(context.Background(), "m1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("load err = %v, want ErrNotFound", err)
	}
}

func TestClient_LoadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Load(context.Background(), "m1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCachedDirectory(t *testing.T) {
	ctx := context.Background()
	want := []models.Member{
		{Principal: models.Principal{Type: models.PrincipalApplicant, ID: "a1"}, Active: true},
	}
	var hits atomic.Int32
	srv := httptest.NewServer(membersHandler(&hits, want))
	defer srv.Close()

	c := cache.New(ctx, store.NewLocal(ctx), time.Minute)
	d := NewCachedDirectory(NewClient(srv.URL), c, time.Minute)

	for i := 0; i < 3; i++ {
		members, err := d.ListMembers(ctx, "room1")
		if err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		if len(members) != 1 || members[0].Principal.ID != "a1" {
			t.Fatalf("list %d: got %+v", i, members)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1 (cache-aside)", hits.Load())
	}

	// Invalidation forces the next read back upstream.
	d.InvalidateRoom(ctx, "room1")
	if _, err := d.ListMembers(ctx, "room1"); err != nil {
		t.Fatalf("list after invalidate: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hits = %d, want 2 after invalidation", hits.Load())
	}
}
