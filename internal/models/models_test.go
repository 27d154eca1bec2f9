package models

import (
	"strings"
	"testing"
	"time"
)

func TestPrincipalValid(t *testing.T) {
	cases := []struct {
		name string
		p    Principal
		want bool
	}{
		{"employee", Principal{Type: PrincipalEmployee, ID: "e1"}, true},
		{"applicant", Principal{Type: PrincipalApplicant, ID: "a1"}, true},
		{"admin", Principal{Type: PrincipalAdmin, ID: "x"}, true},
		{"empty id", Principal{Type: PrincipalEmployee}, false},
		{"unknown type", Principal{Type: "robot", ID: "r1"}, false},
		{"zero value", Principal{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNotificationTitle(t *testing.T) {
	cases := []struct {
		name string
		ev   MessageEvent
		want string
	}{
		{
			"direct message uses sender name",
			MessageEvent{Type: MessageDirect, SenderName: "Alice", RoomName: "DM"},
			"Alice",
		},
		{
			"group message prefixes room",
			MessageEvent{Type: MessageChannel, SenderName: "Alice", RoomName: "Hiring"},
			"Hiring: Alice",
		},
		{
			"announcement overrides",
			MessageEvent{Type: MessageChannel, SenderName: "Alice", RoomName: "All Hands", Announcement: true},
			"Announcement: All Hands",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.NotificationTitle(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNotificationPreview(t *testing.T) {
	t.Run("short text untouched", func(t *testing.T) {
		ev := MessageEvent{BodyKind: BodyText, Body: "see you at 3"}
		if got := ev.NotificationPreview(); got != "see you at 3" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("long text truncated", func(t *testing.T) {
		ev := MessageEvent{BodyKind: BodyText, Body: strings.Repeat("a", 150)}
		got := ev.NotificationPreview()
		if len([]rune(got)) != 103 || !strings.HasSuffix(got, "...") {
			t.Errorf("got %d runes: %q", len([]rune(got)), got)
		}
	})

	t.Run("multibyte safe", func(t *testing.T) {
		ev := MessageEvent{BodyKind: BodyText, Body: strings.Repeat("е", 150)}
		got := ev.NotificationPreview()
		if len([]rune(got)) != 103 {
			t.Errorf("got %d runes", len([]rune(got)))
		}
	})

	t.Run("fixed strings for non-text", func(t *testing.T) {
		for kind, want := range map[BodyKind]string{
			BodyPhoto:  "Sent a photo",
			BodyFile:   "Sent a file",
			BodySystem: "System message",
		} {
			if got := (MessageEvent{BodyKind: kind, Body: "ignored"}).NotificationPreview(); got != want {
				t.Errorf("%s: got %q, want %q", kind, got, want)
			}
		}
	})
}

func TestMemberMuted(t *testing.T) {
	now := time.Now()
	m := Member{MutedUntil: now.Add(time.Hour)}
	if !m.Muted(now) {
		t.Error("expected muted before MutedUntil")
	}
	if m.Muted(now.Add(2 * time.Hour)) {
		t.Error("expected unmuted after MutedUntil")
	}
	if (Member{}).Muted(now) {
		t.Error("zero MutedUntil means never muted")
	}
}
