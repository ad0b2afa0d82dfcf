package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// BoltStore is an embedded, single-file EventStore requiring no server
// process — the same tradeoff the SWARM-INTELLIGENCE-NETWORK orchestrator
// made for its WorkflowStore ("BoltDB is chosen over RocksDB for easier
// deployment (pure Go, no C dependencies)"). Each workflow id gets its own
// bucket; keys are big-endian sequence numbers so bbolt's native key
// ordering gives us ascending iteration for free.
type BoltStore struct {
	db *bbolt.DB
}

var eventsRoot = []byte("workflow_events")

// NewBoltStore opens (creating if necessary) a BoltDB file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsRoot)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create root bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seq))
	return buf
}

// Append implements EventStore.
func (s *BoltStore) Append(_ context.Context, workflowID string, eventType EventType, payload map[string]any, attemptNumber int, backoffDelayMs int64, failureReason string) (int64, error) {
	var seq int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(eventsRoot)
		wfBucket, err := root.CreateBucketIfNotExists([]byte(workflowID))
		if err != nil {
			return err
		}
		next, err := wfBucket.NextSequence()
		if err != nil {
			return err
		}
		seq = int64(next)

		e := Event{
			Sequence:       seq,
			WorkflowID:     workflowID,
			Type:           eventType,
			Payload:        payload,
			AttemptNumber:  attemptNumber,
			BackoffDelayMs: backoffDelayMs,
			FailureReason:  failureReason,
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return wfBucket.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// Events implements EventStore.
func (s *BoltStore) Events(_ context.Context, workflowID string, fromSeq int64) ([]Event, error) {
	var out []Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(eventsRoot)
		wfBucket := root.Bucket([]byte(workflowID))
		if wfBucket == nil {
			return nil
		}
		c := wfBucket.Cursor()
		for k, v := c.Seek(seqKey(fromSeq)); k != nil; k, v = c.Next() {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal event: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
