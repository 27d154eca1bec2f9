package push

import (
	"context"
	"testing"
)

func TestWebPushSender_InvalidToken(t *testing.T) {
	s := NewWebPush("mailto:ops@example.com", "pub", "priv")
	err := s.Send(context.Background(), "not a subscription", Notification{Title: "x"})
	if err == nil {
		t.Fatal("expected error for a token that is not a serialized subscription")
	}
}

func TestNopSender(t *testing.T) {
	if err := (NopSender{}).Send(context.Background(), "any", Notification{Title: "x"}); err != nil {
		t.Fatalf("nop sender must not fail: %v", err)
	}
}
