// Package dispatch is the single orchestration point mapping a domain event
// to fan-out decisions. The dispatcher decides who is reachable right now;
// whether an unreachable member eventually sees the message is the caller's
// job (via the offline queue). The two responsibilities are deliberately
// separate.
package dispatch

import (
	"context"
	"time"

	"github.com/samber/lo"

	"staffroom/internal/metrics"
	"staffroom/internal/models"
	"staffroom/internal/pubsub"
	"staffroom/internal/store"
)

// MemberDirectory is the external membership store boundary: active rows for
// a room with their notification preferences and mute state.
type MemberDirectory interface {
	ListMembers(ctx context.Context, roomID string) ([]models.Member, error)
}

// LiveSender is the local socket registry surface the dispatcher routes
// through.
type LiveSender interface {
	Send(p models.Principal, ev models.Event) bool
	IsConnected(p models.Principal) bool
	Broadcast(ev models.Event)
}

// Result reports the fan-out outcome for one message event. Unreachable
// members are the caller's cue to queue offline; the dispatcher never
// queues and never retries a failed live send.
type Result struct {
	Delivered   []models.Member
	Unreachable []models.Member
}

type Dispatcher struct {
	directory MemberDirectory
	live      LiveSender
	bus       *pubsub.Bus
	sub       store.Subscription
	now       func() time.Time
}

func New(directory MemberDirectory, live LiveSender, bus *pubsub.Bus) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		live:      live,
		bus:       bus,
		now:       time.Now,
	}
}

// Start subscribes this instance to the shared events channel and relays
// everything on it to local sockets. All local delivery of broadcast events
// flows through this one subscription, in remote mode via the store's
// loopback and in degraded mode synchronously.
func (d *Dispatcher) Start() {
	d.sub = d.bus.Subscribe(pubsub.EventsChannel, func(ev models.Event) {
		d.live.Broadcast(ev)
	})
}

func (d *Dispatcher) Stop() {
	if d.sub != nil {
		d.sub.Unsubscribe()
	}
}

// AttachPrincipal relays directed bus deliveries for p to local sockets
// while a connection is held. The returned detach must be called on
// disconnect.
func (d *Dispatcher) AttachPrincipal(p models.Principal) func() {
	sub := d.bus.Subscribe(pubsub.PrincipalChannel(p), func(ev models.Event) {
		d.live.Send(p, ev)
	})
	return sub.Unsubscribe
}

// NotifyNewMessage fans a message event out to eligible members: active,
// notifications enabled, not the sender, not muted. Each member gets one
// live delivery attempt (local socket, else the bus channel owned by their
// instance); members with neither go into the Unreachable list for the
// caller to queue. A room-level marker is always published so read/typing
// indicators stay consistent across instances.
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, ev models.MessageEvent) (Result, error) {
	members, err := d.directory.ListMembers(ctx, ev.RoomID)
	if err != nil {
		return Result{}, err
	}

	now := d.now()
	eligible := lo.Filter(members, func(m models.Member, _ int) bool {
		return m.Active && m.NotificationsEnabled && m.Principal != ev.Sender && !m.Muted(now)
	})

	eventType := models.EventMessage
	if ev.Announcement {
		eventType = models.EventAnnouncement
	}
	event := models.Event{
		Type:    eventType,
		RoomID:  ev.RoomID,
		Message: &ev,
		SentAt:  now.Unix(),
	}

	var result Result
	for _, m := range eligible {
		if d.deliver(ctx, m.Principal, event) {
			result.Delivered = append(result.Delivered, m)
		} else {
			result.Unreachable = append(result.Unreachable, m)
		}
	}

	// Room-level marker, published regardless of per-member outcomes.
	d.bus.Publish(ctx, pubsub.EventsChannel, models.Event{
		Type:   eventType,
		RoomID: ev.RoomID,
		Message: &models.MessageEvent{
			MessageID:  ev.MessageID,
			RoomID:     ev.RoomID,
			Sender:     ev.Sender,
			SenderName: ev.SenderName,
			Type:       ev.Type,
		},
		SentAt: now.Unix(),
	})

	metrics.EventsDispatched.WithLabelValues(string(eventType)).Inc()
	return result, nil
}

// deliver attempts exactly one live delivery: the local registry first, then
// the principal's bus channel for sockets held by another instance. The
// subscriber count answers "did any instance take it". No retries; a miss
// degrades to "caller may queue offline".
func (d *Dispatcher) deliver(ctx context.Context, p models.Principal, ev models.Event) bool {
	if d.live.Send(p, ev) {
		return true
	}
	return d.bus.Publish(ctx, pubsub.PrincipalChannel(p), ev) > 0
}

// PresenceChanged broadcasts a presence record update. Ephemeral: never
// queued, subscribers that miss it catch up on the next heartbeat.
func (d *Dispatcher) PresenceChanged(ctx context.Context, rec *models.PresenceRecord) {
	d.bus.Publish(ctx, pubsub.EventsChannel, models.Event{
		Type:     models.EventPresenceChange,
		Presence: rec,
		SentAt:   d.now().Unix(),
	})
	metrics.EventsDispatched.WithLabelValues(string(models.EventPresenceChange)).Inc()
}

// WentOffline broadcasts that p's last socket dropped.
func (d *Dispatcher) WentOffline(ctx context.Context, p models.Principal) {
	d.bus.Publish(ctx, pubsub.EventsChannel, models.Event{
		Type: models.EventPresenceChange,
		Presence: &models.PresenceRecord{
			Principal: p,
			Status:    models.StatusOffline,
			LastSeen:  d.now().Unix(),
		},
		SentAt: d.now().Unix(),
	})
	metrics.EventsDispatched.WithLabelValues(string(models.EventPresenceChange)).Inc()
}

// TypingStarted broadcasts a typing indicator for roomID.
func (d *Dispatcher) TypingStarted(ctx context.Context, roomID string, p models.Principal, name string) {
	d.bus.Publish(ctx, pubsub.EventsChannel, models.Event{
		Type:   models.EventTyping,
		RoomID: roomID,
		Typing: &models.TypingRecord{
			RoomID:    roomID,
			Type:      p.Type,
			ID:        p.ID,
			Name:      name,
			StartedAt: d.now().Unix(),
		},
		SentAt: d.now().Unix(),
	})
	metrics.EventsDispatched.WithLabelValues(string(models.EventTyping)).Inc()
}

// NotifyRead broadcasts a read receipt to the room.
func (d *Dispatcher) NotifyRead(ctx context.Context, r models.ReadReceipt) {
	d.bus.Publish(ctx, pubsub.EventsChannel, models.Event{
		Type:   models.EventReadReceipt,
		RoomID: r.RoomID,
		Read:   &r,
		SentAt: d.now().Unix(),
	})
	metrics.EventsDispatched.WithLabelValues(string(models.EventReadReceipt)).Inc()
}

// NotifyReaction broadcasts a reaction change to the room.
func (d *Dispatcher) NotifyReaction(ctx context.Context, r models.Reaction) {
	d.bus.Publish(ctx, pubsub.EventsChannel, models.Event{
		Type:     models.EventReaction,
		RoomID:   r.RoomID,
		Reaction: &r,
		SentAt:   d.now().Unix(),
	})
	metrics.EventsDispatched.WithLabelValues(string(models.EventReaction)).Inc()
}
