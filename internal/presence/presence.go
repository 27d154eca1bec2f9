// Package presence tracks who currently has a live connection. Records live
// in the shared store under a TTL; an expired or absent record is offline.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"staffroom/internal/models"
	"staffroom/internal/store"
)

const (
	recordPrefix = "presence:record:"
	socketPrefix = "presence:sockets:"
	typingPrefix = "presence:typing:"
)

type Tracker struct {
	backend   store.Backend
	ttl       time.Duration
	typingTTL time.Duration
	now       func() time.Time
}

func NewTracker(backend store.Backend, ttl, typingTTL time.Duration) *Tracker {
	return &Tracker{
		backend:   backend,
		ttl:       ttl,
		typingTTL: typingTTL,
		now:       time.Now,
	}
}

func recordKey(p models.Principal) string {
	return fmt.Sprintf("%s%s:%s", recordPrefix, p.Type, p.ID)
}

func socketKey(p models.Principal) string {
	return fmt.Sprintf("%s%s:%s", socketPrefix, p.Type, p.ID)
}

func typingKey(roomID string, p models.Principal) string {
	return fmt.Sprintf("%s%s:%s:%s", typingPrefix, roomID, p.Type, p.ID)
}

// Connect registers one more socket for p and refreshes its record. The
// socket counter is a shared-store atomic so concurrent connects across
// instances never lose increments.
func (t *Tracker) Connect(ctx context.Context, p models.Principal, device string) *models.PresenceRecord {
	count := t.backend.Incr(ctx, socketKey(p))
	t.backend.Expire(ctx, socketKey(p), t.ttl)

	rec := &models.PresenceRecord{
		Principal:   p,
		Status:      models.StatusOnline,
		Device:      device,
		SocketCount: count,
		LastSeen:    t.now().Unix(),
	}
	if prev, ok := t.Get(ctx, p); ok && prev.Status != models.StatusOffline {
		// Keep the status the principal chose before this socket joined.
		rec.Status = prev.Status
		rec.CustomStatus = prev.CustomStatus
		rec.StatusEmoji = prev.StatusEmoji
	}
	t.put(ctx, rec)
	return rec
}

// Disconnect drops one socket. When the count reaches zero the record is
// removed, which is the offline state. Returns the remaining socket count.
func (t *Tracker) Disconnect(ctx context.Context, p models.Principal) int64 {
	count := t.backend.DecrFloor(ctx, socketKey(p))
	if count > 0 {
		if rec, ok := t.Get(ctx, p); ok {
			rec.SocketCount = count
			rec.LastSeen = t.now().Unix()
			t.put(ctx, rec)
		}
		return count
	}

	t.backend.Del(ctx, socketKey(p))
	t.backend.Del(ctx, recordKey(p))
	return 0
}

// Heartbeat refreshes the TTL on the record and socket counter.
func (t *Tracker) Heartbeat(ctx context.Context, p models.Principal) {
	rec, ok := t.Get(ctx, p)
	if !ok {
		return
	}
	rec.LastSeen = t.now().Unix()
	t.put(ctx, rec)
	t.backend.Expire(ctx, socketKey(p), t.ttl)
}

// SetStatus updates the advertised status. Requesting offline while sockets
// are still connected is ignored: socketCount > 0 implies a non-offline
// status.
func (t *Tracker) SetStatus(ctx context.Context, p models.Principal, status models.PresenceStatus, customStatus, emoji string) (*models.PresenceRecord, bool) {
	rec, ok := t.Get(ctx, p)
	if !ok {
		return nil, false
	}
	if status == models.StatusOffline {
		if rec.SocketCount > 0 {
			return rec, false
		}
		t.backend.Del(ctx, recordKey(p))
		return nil, true
	}
	rec.Status = status
	rec.CustomStatus = customStatus
	rec.StatusEmoji = emoji
	rec.LastSeen = t.now().Unix()
	t.put(ctx, rec)
	return rec, true
}

func (t *Tracker) Get(ctx context.Context, p models.Principal) (*models.PresenceRecord, bool) {
	raw, ok := t.backend.Get(ctx, recordKey(p))
	if !ok {
		return nil, false
	}
	var rec models.PresenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Warn().Err(err).Str("key", recordKey(p)).Msg("corrupt presence record")
		return nil, false
	}
	return &rec, true
}

// IsOnline reports whether p has an unexpired, non-offline record.
func (t *Tracker) IsOnline(ctx context.Context, p models.Principal) bool {
	rec, ok := t.Get(ctx, p)
	return ok && rec.Status != models.StatusOffline
}

// BulkGet fetches records for many principals in one pipelined round trip.
// Principals without a record are absent from the result, meaning offline.
func (t *Tracker) BulkGet(ctx context.Context, principals []models.Principal) map[models.Principal]*models.PresenceRecord {
	keys := make([]string, len(principals))
	for i, p := range principals {
		keys[i] = recordKey(p)
	}
	raw := t.backend.PipelinedGet(ctx, keys)

	result := make(map[models.Principal]*models.PresenceRecord, len(raw))
	for i, p := range principals {
		v, ok := raw[keys[i]]
		if !ok {
			continue
		}
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		result[p] = &rec
	}
	return result
}

// ListOnline scans record keys by prefix, then batch-fetches them in one
// pipelined call rather than one round trip per key.
func (t *Tracker) ListOnline(ctx context.Context) []*models.PresenceRecord {
	keys := t.backend.ScanByPrefix(ctx, recordPrefix)
	raw := t.backend.PipelinedGet(ctx, keys)

	records := make([]*models.PresenceRecord, 0, len(raw))
	for _, v := range raw {
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		if rec.Status != models.StatusOffline {
			records = append(records, &rec)
		}
	}
	return records
}

func (t *Tracker) put(ctx context.Context, rec *models.PresenceRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("marshal presence record")
		return
	}
	t.backend.SetWithTTL(ctx, recordKey(rec.Principal), string(data), t.ttl)
}

// SetTyping marks p as typing in roomID. The record self-expires; there is
// no explicit clear.
func (t *Tracker) SetTyping(ctx context.Context, roomID string, p models.Principal, name string) {
	rec := models.TypingRecord{
		RoomID:    roomID,
		Type:      p.Type,
		ID:        p.ID,
		Name:      name,
		StartedAt: t.now().Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	t.backend.SetWithTTL(ctx, typingKey(roomID, p), string(data), t.typingTTL)
}

// ListTyping returns who is currently typing in roomID.
func (t *Tracker) ListTyping(ctx context.Context, roomID string) []models.TypingRecord {
	keys := t.backend.ScanByPrefix(ctx, typingPrefix+roomID+":")
	raw := t.backend.PipelinedGet(ctx, keys)

	records := make([]models.TypingRecord, 0, len(raw))
	for _, v := range raw {
		var rec models.TypingRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}
