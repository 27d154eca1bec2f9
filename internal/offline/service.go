package offline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"staffroom/internal/metrics"
	"staffroom/internal/models"
	"staffroom/internal/push"
	"staffroom/internal/worker"
)

var ErrInvalidEntry = errors.New("offline entry missing required fields")

const previewLimit = 200

// LiveRegistry answers local reachability and pushes events to local sockets.
type LiveRegistry interface {
	IsConnected(p models.Principal) bool
	Send(p models.Principal, ev models.Event) bool
}

// PresenceChecker answers cross-instance reachability.
type PresenceChecker interface {
	IsOnline(ctx context.Context, p models.Principal) bool
}

// MessageSource resolves full message bodies from the external message
// store when flushing the queue. May be nil; the preview is used instead.
type MessageSource interface {
	Load(ctx context.Context, messageID string) (*models.MessageEvent, error)
}

// Service guarantees that a message to an offline recipient is retrievable
// later, ordered by importance and bounded in lifetime.
type Service struct {
	store    *QueueStore
	live     LiveRegistry
	presence PresenceChecker
	source   MessageSource
	sender   push.Sender
	pool     *worker.Pool
	ttl      time.Duration
	now      func() time.Time
}

func NewService(store *QueueStore, live LiveRegistry, presence PresenceChecker, source MessageSource, sender push.Sender, pool *worker.Pool, ttl time.Duration) *Service {
	return &Service{
		store:    store,
		live:     live,
		presence: presence,
		source:   source,
		sender:   sender,
		pool:     pool,
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsOnline checks the local connection registry first, then the presence
// tracker for sockets held by other instances.
func (s *Service) IsOnline(ctx context.Context, p models.Principal) bool {
	if s.live.IsConnected(p) {
		return true
	}
	return s.presence.IsOnline(ctx, p)
}

type QueueParams struct {
	Recipient models.Principal
	Event     models.MessageEvent
	PushToken string
}

func (p QueueParams) validate() error {
	if p.Recipient.ID == "" || (p.Recipient.Type != models.PrincipalEmployee && p.Recipient.Type != models.PrincipalApplicant) {
		return ErrInvalidEntry
	}
	if p.Event.MessageID == "" || p.Event.Sender.ID == "" {
		return ErrInvalidEntry
	}
	return nil
}

// QueueMessage hardens a message for an unreachable recipient. The online
// state is re-checked immediately before the write; a recipient who came
// online in the meantime gets nothing queued and a nil entry back. A socket
// connecting between that check and the write can still cost one live
// notification; the reconnect flush and history fetch cover that window.
func (s *Service) QueueMessage(ctx context.Context, params QueueParams) (*Entry, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	if s.IsOnline(ctx, params.Recipient) {
		return nil, nil
	}

	now := s.now()
	ev := params.Event
	entry := &Entry{
		ID:             uuid.NewString(),
		RecipientType:  params.Recipient.Type,
		RecipientID:    params.Recipient.ID,
		MessageID:      ev.MessageID,
		ChannelID:      ev.ChannelID,
		RoomID:         ev.RoomID,
		SenderType:     ev.Sender.Type,
		SenderID:       ev.Sender.ID,
		SenderName:     ev.SenderName,
		ContentPreview: truncatePreview(ev.Body),
		MessageType:    ev.Type,
		Priority:       PriorityFor(ev.Type),
		Status:         StatusPending,
		CreatedAt:      now.UnixNano(),
		PushToken:      params.PushToken,
		ExpiresAt:      now.Add(s.ttl).UnixNano(),
		SiteCode:       ev.SiteCode,
	}

	if err := s.store.Put(entry); err != nil {
		return nil, err
	}
	metrics.OfflineQueued.Inc()

	if params.PushToken != "" {
		s.handOffPush(entry, params.Event)
	}

	return entry, nil
}

// handOffPush sends the notification on the worker pool, best-effort. A
// failed attempt leaves pushSent=false; the cleanup sweep retries later.
func (s *Service) handOffPush(entry *Entry, ev models.MessageEvent) {
	recipient := entry.Recipient()
	key := entry.Key()
	token := entry.PushToken
	notification := push.Notification{
		Title: ev.NotificationTitle(),
		Body:  entry.ContentPreview,
		Data: push.Data{
			MessageID:   entry.MessageID,
			ChannelID:   entry.ChannelID,
			RoomID:      entry.RoomID,
			MessageType: string(entry.MessageType),
		},
	}

	s.pool.Enqueue(worker.Task{
		Name:       "offline-push",
		MaxRetries: 2,
		Run: func(ctx context.Context) error {
			if err := s.sender.Send(ctx, token, notification); err != nil {
				return err
			}
			return s.store.MarkPushSent(recipient, key, s.now())
		},
	})
}

// DeliverPending flushes the queue to a freshly connected p: pending
// unexpired entries in (priority DESC, createdAt ASC) order, bodies resolved
// from the message source, pushed over the live channel, then the whole
// batch marked delivered. At-least-once at this layer: once marked, an entry
// is never resent even if the client dropped before rendering; history
// fetch is the application-level fallback.
func (s *Service) DeliverPending(ctx context.Context, p models.Principal) (int, error) {
	entries, err := s.store.ListPending(p, s.now(), 0)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	keys := make([][]byte, 0, len(entries))
	for _, e := range entries {
		s.live.Send(p, models.Event{
			Type:    models.EventOfflineFlush,
			RoomID:  e.RoomID,
			Message: s.resolve(ctx, e),
			SentAt:  s.now().Unix(),
		})
		keys = append(keys, e.Key())
	}

	if err := s.store.MarkDelivered(p, keys, s.now()); err != nil {
		return 0, err
	}
	metrics.OfflineDelivered.Add(float64(len(entries)))
	return len(entries), nil
}

// resolve fetches the full message body, falling back to the stored preview
// when the external message store cannot serve it.
func (s *Service) resolve(ctx context.Context, e *Entry) *models.MessageEvent {
	if s.source != nil {
		if ev, err := s.source.Load(ctx, e.MessageID); err == nil && ev != nil {
			return ev
		}
	}
	return &models.MessageEvent{
		MessageID:  e.MessageID,
		RoomID:     e.RoomID,
		ChannelID:  e.ChannelID,
		Sender:     models.Principal{Type: e.SenderType, ID: e.SenderID},
		SenderName: e.SenderName,
		Type:       e.MessageType,
		BodyKind:   models.BodyText,
		Body:       e.ContentPreview,
		SentAt:     e.CreatedAt / int64(time.Second),
		SiteCode:   e.SiteCode,
	}
}

// GetPendingMessages is the badge/preview query surface; it mutates nothing.
func (s *Service) GetPendingMessages(ctx context.Context, p models.Principal, limit int) ([]*Entry, error) {
	return s.store.ListPending(p, s.now(), limit)
}

func (s *Service) GetUnreadCount(ctx context.Context, p models.Principal) (int, error) {
	return s.store.CountPending(p, s.now())
}

// MarkDeliveredByMessageID acknowledges one message for one recipient,
// scoped to pending entries only.
func (s *Service) MarkDeliveredByMessageID(ctx context.Context, messageID string, p models.Principal) (bool, error) {
	return s.store.MarkDeliveredByMessageID(p, messageID, s.now())
}

// CleanupExpired flips expired pending rows and retries unsent pushes.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	expired, pending, err := s.store.SweepExpired(s.now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		metrics.OfflineExpired.Add(float64(expired))
		log.Info().Int("expired", expired).Msg("offline queue sweep")
	}
	metrics.OfflineQueueDepth.Set(float64(pending))

	unsent, err := s.store.ListUnsentPush(s.now())
	if err != nil {
		return expired, err
	}
	for _, e := range unsent {
		s.handOffPush(e, *s.resolve(ctx, e))
	}

	return expired, nil
}

// RunSweeper runs CleanupExpired on interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				log.Error().Err(err).Msg("offline queue sweep failed")
			}
		}
	}
}

func truncatePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= previewLimit {
		return body
	}
	return string(runes[:previewLimit-3]) + "..."
}
