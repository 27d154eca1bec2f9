// Package push is the notification hand-off boundary. The queue only needs
// "send this payload to this token, tell me if it worked"; the web push
// implementation below is one provider behind that contract.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"staffroom/internal/metrics"
)

// Notification is the payload any push provider must deliver.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Data  Data   `json:"data"`
}

type Data struct {
	MessageID   string `json:"messageId"`
	ChannelID   string `json:"channelId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
	MessageType string `json:"messageType"`
}

type Sender interface {
	Send(ctx context.Context, token string, n Notification) error
}

// WebPushSender delivers through the Web Push protocol. The stored token is
// a JSON-serialized browser subscription (endpoint plus keys).
type WebPushSender struct {
	options webpush.Options
}

func NewWebPush(subscriber, vapidPublicKey, vapidPrivateKey string) *WebPushSender {
	return &WebPushSender{
		options: webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  vapidPublicKey,
			VAPIDPrivateKey: vapidPrivateKey,
			TTL:             3600,
		},
	}
}

func (s *WebPushSender) Send(ctx context.Context, token string, n Notification) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		metrics.PushFailures.Inc()
		return fmt.Errorf("invalid push token: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotification(payload, &sub, &s.options)
	if err != nil {
		metrics.PushFailures.Inc()
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.PushFailures.Inc()
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// NopSender is used when no VAPID keys are configured. It logs and reports
// success so queue entries are not retried forever against nothing.
type NopSender struct{}

func (NopSender) Send(_ context.Context, _ string, n Notification) error {
	log.Debug().Str("title", n.Title).Msg("push sending disabled, notification dropped")
	return nil
}
