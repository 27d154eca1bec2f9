// Package pubsub fans events out across instances. Delivery is at-most-once
// and best-effort: an offline subscriber misses the event entirely. Durable
// paths (presence records, offline messages) are guaranteed elsewhere.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"staffroom/internal/models"
	"staffroom/internal/store"
)

const channelPrefix = "bus:"

// EventsChannel carries lightweight instance-wide events: presence changes,
// typing, read receipts, reactions and room-level message markers. Every
// instance holds one subscription and relays to its local sockets; clients
// filter by room. Directed message deliveries use PrincipalChannel instead.
const EventsChannel = "events"

// PrincipalChannel carries deliveries addressed to one principal, consumed
// by whichever instance holds their sockets. Instances subscribe while a
// socket for the principal is attached and unsubscribe when it drops.
func PrincipalChannel(p models.Principal) string {
	return fmt.Sprintf("principal:%s:%s", p.Type, p.ID)
}

type Bus struct {
	backend store.Backend
}

func New(backend store.Backend) *Bus {
	return &Bus{backend: backend}
}

// Publish sends ev to channel and returns how many subscribers received it.
func (b *Bus) Publish(ctx context.Context, channel string, ev models.Event) int64 {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("marshal bus event")
		return 0
	}
	return b.backend.Publish(ctx, channelPrefix+channel, string(payload))
}

// Subscribe registers handler for events on channel. Malformed payloads are
// dropped with a log line, never handed to the handler.
func (b *Bus) Subscribe(channel string, handler func(models.Event)) store.Subscription {
	return b.backend.Subscribe(channelPrefix+channel, func(_, payload string) {
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("drop malformed bus event")
			return
		}
		handler(ev)
	})
}
