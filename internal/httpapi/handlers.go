package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"staffroom/internal/dispatch"
	"staffroom/internal/models"
	"staffroom/internal/offline"
	"staffroom/internal/presence"
	"staffroom/internal/ratelimit"
	"staffroom/internal/worker"
)

const (
	sendLimit  = 30
	sendWindow = time.Minute
)

type Handlers struct {
	dispatcher *dispatch.Dispatcher
	queue      *offline.Service
	limiter    *ratelimit.Limiter
	tracker    *presence.Tracker
	pool       *worker.Pool
}

func NewHandlers(dispatcher *dispatch.Dispatcher, queue *offline.Service, limiter *ratelimit.Limiter, tracker *presence.Tracker, pool *worker.Pool) *Handlers {
	return &Handlers{
		dispatcher: dispatcher,
		queue:      queue,
		limiter:    limiter,
		tracker:    tracker,
		pool:       pool,
	}
}

// SendMessageRequest is what the platform's message route hands over after
// persisting the message body. Push tokens are keyed "type:id" for the
// recipients the caller knows tokens for.
type SendMessageRequest struct {
	Event      models.MessageEvent `json:"event"`
	PushTokens map[string]string   `json:"pushTokens,omitempty"`
}

type SendMessageResponse struct {
	Delivered   int   `json:"delivered"`
	Queued      int   `json:"queued"`
	RateRemains int64 `json:"rateRemaining"`
}

// SendMessageHandler fans a new message out. Reachability is the
// dispatcher's decision; durable queueing for the unreachable happens here,
// on the worker pool so a slow queue write never blocks the response and a
// failed one is retried instead of lost.
func (h *Handlers) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ev := req.Event
	if ev.MessageID == "" || ev.RoomID == "" || !ev.Sender.Valid() {
		http.Error(w, "missing message fields", http.StatusBadRequest)
		return
	}

	rateKey := fmt.Sprintf("send:%s:%s", ev.Sender.Type, ev.Sender.ID)
	rl := h.limiter.Check(r.Context(), rateKey, sendLimit, sendWindow)
	if !rl.Allowed {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	result, err := h.dispatcher.NotifyNewMessage(r.Context(), ev)
	if err != nil {
		log.Error().Err(err).Str("room", ev.RoomID).Msg("member lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for _, m := range result.Unreachable {
		h.enqueueOffline(m, ev, req.PushTokens)
	}

	writeJSON(w, SendMessageResponse{
		Delivered:   len(result.Delivered),
		Queued:      len(result.Unreachable),
		RateRemains: rl.Remaining,
	})
}

func (h *Handlers) enqueueOffline(m models.Member, ev models.MessageEvent, tokens map[string]string) {
	recipient := m.Principal
	entryEvent := ev
	for _, mention := range ev.Mentions {
		if mention == recipient {
			entryEvent.Type = models.MessageMention
			break
		}
	}
	token := tokens[fmt.Sprintf("%s:%s", recipient.Type, recipient.ID)]

	h.pool.Enqueue(worker.Task{
		Name:       "offline-enqueue",
		MaxRetries: 3,
		Run: func(ctx context.Context) error {
			_, err := h.queue.QueueMessage(ctx, offline.QueueParams{
				Recipient: recipient,
				Event:     entryEvent,
				PushToken: token,
			})
			if errors.Is(err, offline.ErrInvalidEntry) {
				// Not retryable; log and drop.
				log.Warn().Str("recipient", recipient.ID).Msg("invalid offline entry rejected")
				return nil
			}
			return err
		},
	})
}

// ReadReceiptHandler broadcasts a read receipt. Ephemeral, never queued.
func (h *Handlers) ReadReceiptHandler(w http.ResponseWriter, r *http.Request) {
	var receipt models.ReadReceipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if receipt.RoomID == "" || receipt.MessageID == "" || !receipt.Reader.Valid() {
		http.Error(w, "missing receipt fields", http.StatusBadRequest)
		return
	}
	h.dispatcher.NotifyRead(r.Context(), receipt)
	w.WriteHeader(http.StatusNoContent)
}

// ReactionHandler broadcasts a reaction change. Ephemeral, never queued.
func (h *Handlers) ReactionHandler(w http.ResponseWriter, r *http.Request) {
	var reaction models.Reaction
	if err := json.NewDecoder(r.Body).Decode(&reaction); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if reaction.RoomID == "" || reaction.MessageID == "" || !reaction.Reactor.Valid() {
		http.Error(w, "missing reaction fields", http.StatusBadRequest)
		return
	}
	h.dispatcher.NotifyReaction(r.Context(), reaction)
	w.WriteHeader(http.StatusNoContent)
}

// PendingMessagesHandler lists queued entries for a recipient without
// changing their state.
func (h *Handlers) PendingMessagesHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromQuery(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.queue.GetPendingMessages(r.Context(), p, limit)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"entries": entries})
}

func (h *Handlers) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromQuery(w, r)
	if !ok {
		return
	}
	count, err := h.queue.GetUnreadCount(r.Context(), p)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"count": count})
}

// MarkDeliveredHandler acknowledges one message for one recipient.
func (h *Handlers) MarkDeliveredHandler(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("id")
	p, ok := principalFromQuery(w, r)
	if !ok || messageID == "" {
		if messageID == "" {
			http.Error(w, "missing message id", http.StatusBadRequest)
		}
		return
	}
	changed, err := h.queue.MarkDeliveredByMessageID(r.Context(), messageID, p)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"acknowledged": changed})
}

// OnlineHandler lists every principal with a live presence record.
func (h *Handlers) OnlineHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"online": h.tracker.ListOnline(r.Context())})
}

// PresenceHandler returns one principal's presence record; absence means
// offline.
func (h *Handlers) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	p := models.Principal{
		Type: models.PrincipalType(r.PathValue("type")),
		ID:   r.PathValue("id"),
	}
	if !p.Valid() {
		http.Error(w, "bad principal", http.StatusBadRequest)
		return
	}
	rec, ok := h.tracker.Get(r.Context(), p)
	if !ok {
		rec = &models.PresenceRecord{Principal: p, Status: models.StatusOffline}
	}
	writeJSON(w, rec)
}

// TypingHandler lists who is typing in a room right now.
func (h *Handlers) TypingHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "missing roomId", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"typing": h.tracker.ListTyping(r.Context(), roomID)})
}

func principalFromQuery(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p := models.Principal{
		Type: models.PrincipalType(r.URL.Query().Get("recipientType")),
		ID:   r.URL.Query().Get("recipientId"),
	}
	if !p.Valid() {
		http.Error(w, "missing recipient", http.StatusBadRequest)
		return models.Principal{}, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
