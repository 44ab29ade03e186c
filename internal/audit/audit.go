// Package audit provides an append-only log of registry mutations,
// backed by bbolt. It is pure observability: nothing in the registry's
// request path depends on a successful audit write.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/quayforge/ociregistry/pkg/models"
)

var bucketEvents = []byte("events")

// Log records registry events to a bbolt database.
type Log struct {
	db     *bbolt.DB
	logger *logrus.Logger
}

// NewLog opens (creating if necessary) the events bucket on db.
func NewLog(db *bbolt.DB, logger *logrus.Logger) (*Log, error) {
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to create events bucket: %w", err)
	}

	return &Log{db: db, logger: logger}, nil
}

// Record appends ev to the log. Failures are logged and swallowed: a
// broken audit trail must never fail a registry request.
func (l *Log) Record(ev models.Event) {
	if l == nil || l.db == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		l.logger.WithError(err).WithField("type", ev.Type).Error("failed to record audit event")
	}
}

// Recent returns up to n most recently recorded events, newest first.
func (l *Log) Recent(n int) ([]models.Event, error) {
	var events []models.Event

	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		c := b.Cursor()

		for k, v := c.Last(); k != nil && len(events) < n; k, v = c.Prev() {
			var ev models.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("failed to unmarshal event %x: %w", k, err)
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
