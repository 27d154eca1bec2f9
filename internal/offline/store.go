package offline

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"staffroom/internal/models"
)

var (
	bucketEntries  = []byte("offline_entries")
	bucketMsgIndex = []byte("offline_msg_index")
)

// QueueStore persists offline entries in bbolt: one nested bucket per
// recipient, ordered by the Entry key layout, plus a message-ID index for
// point acknowledgements.
type QueueStore struct {
	db *bbolt.DB
}

func NewQueueStore(path string) (*QueueStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMsgIndex); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &QueueStore{db: db}, nil
}

func (s *QueueStore) Close() error {
	return s.db.Close()
}

func recipientKey(p models.Principal) []byte {
	return []byte(fmt.Sprintf("%s:%s", p.Type, p.ID))
}

func indexKey(p models.Principal, messageID string) []byte {
	return []byte(fmt.Sprintf("%s:%s|%s", p.Type, p.ID, messageID))
}

// Put stores entry and indexes it by (recipient, messageID).
func (s *QueueStore) Put(entry *Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		recipients := tx.Bucket(bucketEntries)
		b, err := recipients.CreateBucketIfNotExists(recipientKey(entry.Recipient()))
		if err != nil {
			return fmt.Errorf("failed to create recipient bucket: %w", err)
		}

		data, err := entry.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if err := b.Put(entry.Key(), data); err != nil {
			return err
		}

		return tx.Bucket(bucketMsgIndex).Put(indexKey(entry.Recipient(), entry.MessageID), entry.Key())
	})
}

// ListPending returns unexpired pending entries for p in delivery order.
// limit <= 0 means all.
func (s *QueueStore) ListPending(p models.Principal, now time.Time, limit int) ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries).Bucket(recipientKey(p))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if limit > 0 && len(entries) >= limit {
				return nil
			}
			var e Entry
			if err := e.UnmarshalBinary(v); err != nil {
				return err
			}
			if e.Status == StatusPending && e.ExpiresAt > now.UnixNano() {
				entries = append(entries, &e)
			}
			return nil
		})
	})
	return entries, err
}

// CountPending counts unexpired pending entries for p.
func (s *QueueStore) CountPending(p models.Principal, now time.Time) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries).Bucket(recipientKey(p))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := e.UnmarshalBinary(v); err != nil {
				return err
			}
			if e.Status == StatusPending && e.ExpiresAt > now.UnixNano() {
				count++
			}
			return nil
		})
	})
	return count, err
}

// MarkDelivered flips the given entries to delivered in one transaction.
// Entries already in a terminal state are left untouched.
func (s *QueueStore) MarkDelivered(p models.Principal, keys [][]byte, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries).Bucket(recipientKey(p))
		if b == nil {
			return nil
		}
		for _, key := range keys {
			data := b.Get(key)
			if data == nil {
				continue
			}
			var e Entry
			if err := e.UnmarshalBinary(data); err != nil {
				return err
			}
			if e.Status != StatusPending {
				continue
			}
			e.Status = StatusDelivered
			e.DeliveredAt = at.UnixNano()
			e.DeliveryAttempts++

			updated, err := e.MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put(key, updated); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkDeliveredByMessageID acknowledges one message for one recipient.
// Idempotent: only a pending entry transitions, repeats are no-ops.
func (s *QueueStore) MarkDeliveredByMessageID(p models.Principal, messageID string, at time.Time) (bool, error) {
	changed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entryKey := tx.Bucket(bucketMsgIndex).Get(indexKey(p, messageID))
		if entryKey == nil {
			return nil
		}
		b := tx.Bucket(bucketEntries).Bucket(recipientKey(p))
		if b == nil {
			return nil
		}
		data := b.Get(entryKey)
		if data == nil {
			return nil
		}
		var e Entry
		if err := e.UnmarshalBinary(data); err != nil {
			return err
		}
		if e.Status != StatusPending {
			return nil
		}
		e.Status = StatusDelivered
		e.DeliveredAt = at.UnixNano()
		e.DeliveryAttempts++

		updated, err := e.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(entryKey, updated); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// MarkPushSent records a successful push attempt on an entry.
func (s *QueueStore) MarkPushSent(p models.Principal, key []byte, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries).Bucket(recipientKey(p))
		if b == nil {
			return nil
		}
		data := b.Get(key)
		if data == nil {
			return nil
		}
		var e Entry
		if err := e.UnmarshalBinary(data); err != nil {
			return err
		}
		e.PushSent = true
		e.PushSentAt = at.UnixNano()

		updated, err := e.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(key, updated)
	})
}

// SweepExpired flips expired pending entries to expired. Rows are kept as an
// audit trail, never deleted. Returns how many were flipped and how many
// remain pending. Writes never happen while a cursor is walking the bucket
// being written: recipient keys are collected first, and within a recipient
// the flips are applied after its iteration finishes.
func (s *QueueStore) SweepExpired(now time.Time) (expired, pending int, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		recipients := tx.Bucket(bucketEntries)

		var recipientKeys [][]byte
		if err := recipients.ForEachBucket(func(rk []byte) error {
			key := make([]byte, len(rk))
			copy(key, rk)
			recipientKeys = append(recipientKeys, key)
			return nil
		}); err != nil {
			return err
		}

		for _, rk := range recipientKeys {
			b := recipients.Bucket(rk)
			if b == nil {
				continue
			}
			type flip struct {
				key  []byte
				data []byte
			}
			var flips []flip

			err := b.ForEach(func(k, v []byte) error {
				var e Entry
				if err := e.UnmarshalBinary(v); err != nil {
					return err
				}
				if e.Status != StatusPending {
					return nil
				}
				if e.ExpiresAt > now.UnixNano() {
					pending++
					return nil
				}
				e.Status = StatusExpired
				data, err := e.MarshalBinary()
				if err != nil {
					return err
				}
				key := make([]byte, len(k))
				copy(key, k)
				flips = append(flips, flip{key: key, data: data})
				return nil
			})
			if err != nil {
				return err
			}

			for _, f := range flips {
				if err := b.Put(f.key, f.data); err != nil {
					return err
				}
				expired++
			}
		}
		return nil
	})
	return expired, pending, err
}

// ListUnsentPush returns pending entries that carry a push token but have no
// successful push yet, for the retry sweep.
func (s *QueueStore) ListUnsentPush(now time.Time) ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		recipients := tx.Bucket(bucketEntries)
		return recipients.ForEachBucket(func(rk []byte) error {
			return recipients.Bucket(rk).ForEach(func(k, v []byte) error {
				var e Entry
				if err := e.UnmarshalBinary(v); err != nil {
					return err
				}
				if e.Status == StatusPending && !e.PushSent && e.PushToken != "" && e.ExpiresAt > now.UnixNano() {
					entries = append(entries, &e)
				}
				return nil
			})
		})
	})
	return entries, err
}
