package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/conductor-sh/conductor/pkg/types"
)

// EventType classifies an orchestration event
type EventType string

const (
	EventInit            EventType = "init"
	EventDeploySucceeded EventType = "deploy.succeeded"
	EventDeployFailed    EventType = "deploy.failed"
	EventStopAll         EventType = "stop_all"
	EventSend            EventType = "send"
)

// Event is one journal record
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

var bucketEvents = []byte("events")

// Journal is the append-only orchestration history, kept in a bbolt file
// under the log root. It exists for operator visibility (status shows
// the recent tail); it is not a durability mechanism, and callers treat
// append failures as best-effort.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal database
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.WrapError(types.KindIOError, "failed to create journal directory", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, types.WrapError(types.KindIOError, "failed to open journal", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, types.WrapError(types.KindIOError, "failed to create journal bucket", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one event. Keys are the bucket's monotonic sequence so
// iteration order is append order.
func (j *Journal) Append(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		return b.Put(key, data)
	})
}

// Recent returns the newest n events, oldest first
func (j *Journal) Recent(n int) ([]Event, error) {
	var out []Event
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var event Event
			if err := json.Unmarshal(v, &event); err != nil {
				continue
			}
			out = append(out, event)
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(types.KindIOError, "failed to read journal", err)
	}
	// Cursor walked newest-first; present oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
