package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// PrincipalType identifies which population a chat participant belongs to.
type PrincipalType string

const (
	PrincipalEmployee  PrincipalType = "employee"
	PrincipalApplicant PrincipalType = "applicant"
	PrincipalAdmin     PrincipalType = "admin"
)

// Principal is a typed participant reference used as the key for presence,
// live connections and offline delivery.
type Principal struct {
	Type PrincipalType `json:"type"`
	ID   string        `json:"id"`
}

func (p Principal) Valid() bool {
	return p.ID != "" && (p.Type == PrincipalEmployee || p.Type == PrincipalApplicant || p.Type == PrincipalAdmin)
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusDND     PresenceStatus = "dnd"
	StatusOffline PresenceStatus = "offline"
)

// PresenceRecord is the TTL-backed online state of a principal. An absent
// record means offline. SocketCount > 0 implies Status != offline.
type PresenceRecord struct {
	Principal    Principal      `json:"principal"`
	Status       PresenceStatus `json:"status"`
	Device       string         `json:"device,omitempty"`
	SocketCount  int64          `json:"socketCount"`
	LastSeen     int64          `json:"lastSeen"` // Unix timestamp (seconds)
	CustomStatus string         `json:"customStatus,omitempty"`
	StatusEmoji  string         `json:"statusEmoji,omitempty"`
}

// TypingRecord marks a principal as typing in a room. Ephemeral, expires on
// its own after a few seconds and is never persisted.
type TypingRecord struct {
	RoomID    string        `json:"roomId"`
	Type      PrincipalType `json:"type"`
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	StartedAt int64         `json:"startedAt"`
}

type MessageType string

const (
	MessageDirect  MessageType = "direct"
	MessageChannel MessageType = "channel"
	MessageThread  MessageType = "thread"
	MessageMention MessageType = "mention"
)

type BodyKind string

const (
	BodyText   BodyKind = "text"
	BodyPhoto  BodyKind = "photo"
	BodyFile   BodyKind = "file"
	BodySystem BodyKind = "system"
)

// MessageEvent is the domain event the dispatcher fans out when a message is
// sent. Bodies live in the external message store; this carries only what
// routing and notification formatting need.
type MessageEvent struct {
	MessageID    string      `json:"messageId"`
	RoomID       string      `json:"roomId"`
	RoomName     string      `json:"roomName"`
	ChannelID    string      `json:"channelId,omitempty"`
	Sender       Principal   `json:"sender"`
	SenderName   string      `json:"senderName"`
	Type         MessageType `json:"messageType"`
	BodyKind     BodyKind    `json:"bodyKind"`
	Body         string      `json:"body"`
	Announcement bool        `json:"announcement,omitempty"`
	Mentions     []Principal `json:"mentions,omitempty"`
	SentAt       int64       `json:"sentAt"`
	SiteCode     string      `json:"siteCode,omitempty"`
}

// NotificationTitle renders the push/notification title for this event:
// the sender's name for direct messages, "{room}: {sender}" for group
// messages and "Announcement: {room}" for announcements.
func (e MessageEvent) NotificationTitle() string {
	if e.Announcement {
		return "Announcement: " + e.RoomName
	}
	if e.Type == MessageDirect {
		return e.SenderName
	}
	return e.RoomName + ": " + e.SenderName
}

// NotificationPreview renders the notification body. Non-text bodies map to
// fixed strings; text is cut at 100 characters plus an ellipsis.
func (e MessageEvent) NotificationPreview() string {
	switch e.BodyKind {
	case BodyPhoto:
		return "Sent a photo"
	case BodyFile:
		return "Sent a file"
	case BodySystem:
		return "System message"
	}
	runes := []rune(e.Body)
	if len(runes) <= 100 {
		return e.Body
	}
	return string(runes[:100]) + "..."
}

type EventType string

const (
	EventMessage        EventType = "message"
	EventPresenceChange EventType = "presence"
	EventStatusChange   EventType = "status"
	EventTyping         EventType = "typing"
	EventReadReceipt    EventType = "read"
	EventReaction       EventType = "reaction"
	EventAnnouncement   EventType = "announcement"
	EventOfflineFlush   EventType = "offline_flush"
)

// Event is the envelope pushed to live clients and across the bus.
type Event struct {
	Type     EventType       `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	Message  *MessageEvent   `json:"message,omitempty"`
	Presence *PresenceRecord `json:"presence,omitempty"`
	Typing   *TypingRecord   `json:"typing,omitempty"`
	Read     *ReadReceipt    `json:"read,omitempty"`
	Reaction *Reaction       `json:"reaction,omitempty"`
	SentAt   int64           `json:"sentAt,omitempty"`
}

type ReadReceipt struct {
	RoomID    string    `json:"roomId"`
	MessageID string    `json:"messageId"`
	Reader    Principal `json:"reader"`
	ReadAt    int64     `json:"readAt"`
}

type Reaction struct {
	RoomID    string    `json:"roomId"`
	MessageID string    `json:"messageId"`
	Reactor   Principal `json:"reactor"`
	Emoji     string    `json:"emoji"`
	Removed   bool      `json:"removed,omitempty"`
}

// Member is a room membership row as the external membership store exposes it
// to the dispatcher.
type Member struct {
	Principal            Principal `json:"principal" msgpack:"principal"`
	Name                 string    `json:"name" msgpack:"name"`
	Active               bool      `json:"active" msgpack:"active"`
	NotificationsEnabled bool      `json:"notificationsEnabled" msgpack:"notificationsEnabled"`
	MutedUntil           time.Time `json:"mutedUntil,omitempty" msgpack:"mutedUntil"`
}

// Muted reports whether notifications for this member are muted at t.
func (m Member) Muted(t time.Time) bool {
	return !m.MutedUntil.IsZero() && m.MutedUntil.After(t)
}
