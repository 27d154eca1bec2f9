package offline

import (
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"

	"staffroom/internal/models"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

const (
	PriorityMention = 10
	PriorityDirect  = 5
	PriorityDefault = 0
)

// PriorityFor maps a message type to its queue tier: mentions beat direct
// messages beat everything else.
func PriorityFor(t models.MessageType) int {
	switch t {
	case models.MessageMention:
		return PriorityMention
	case models.MessageDirect:
		return PriorityDirect
	default:
		return PriorityDefault
	}
}

// Entry is a durable record of a message addressed to a recipient who was
// offline at send time. Entries are never physically deleted; status moves
// pending -> delivered or pending -> expired and both are terminal.
type Entry struct {
	ID               string               `msgpack:"id"`
	RecipientType    models.PrincipalType `msgpack:"recipientType"`
	RecipientID      string               `msgpack:"recipientId"`
	MessageID        string               `msgpack:"messageId"`
	ChannelID        string               `msgpack:"channelId,omitempty"`
	RoomID           string               `msgpack:"roomId,omitempty"`
	SenderType       models.PrincipalType `msgpack:"senderType"`
	SenderID         string               `msgpack:"senderId"`
	SenderName       string               `msgpack:"senderName"`
	ContentPreview   string               `msgpack:"contentPreview"`
	MessageType      models.MessageType   `msgpack:"messageType"`
	Priority         int                  `msgpack:"priority"`
	Status           Status               `msgpack:"status"`
	CreatedAt        int64                `msgpack:"createdAt"`   // Unix nanoseconds
	DeliveredAt      int64                `msgpack:"deliveredAt"` // Unix nanoseconds, 0 until delivered
	DeliveryAttempts int                  `msgpack:"deliveryAttempts"`
	PushSent         bool                 `msgpack:"pushSent"`
	PushSentAt       int64                `msgpack:"pushSentAt"`
	PushToken        string               `msgpack:"pushToken,omitempty"`
	ExpiresAt        int64                `msgpack:"expiresAt"` // Unix nanoseconds
	SiteCode         string               `msgpack:"siteCode,omitempty"`
}

// Key orders entries inside a recipient bucket: inverted priority first,
// then creation time, then ID for uniqueness. A forward cursor walk yields
// (priority DESC, createdAt ASC).
func (e *Entry) Key() []byte {
	key := make([]byte, 0, 9+len(e.ID))
	key = append(key, byte(0xFF-e.Priority))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.CreatedAt))
	key = append(key, ts[:]...)
	key = append(key, e.ID...)
	return key
}

func (e *Entry) Recipient() models.Principal {
	return models.Principal{Type: e.RecipientType, ID: e.RecipientID}
}

func (e *Entry) MarshalBinary() (data []byte, err error) {
	type alias Entry
	return msgpack.Marshal((*alias)(e))
}

func (e *Entry) UnmarshalBinary(data []byte) error {
	type alias Entry
	return msgpack.Unmarshal(data, (*alias)(e))
}
