package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed EventStore, for single-process workflows
// that want durability across process restarts (the orchestrator's own
// restart recovery is a collaborator concern per §1; this store only
// guarantees the log survives). Schema and connection tuning mirror the
// teacher's graph/store/sqlite.go: WAL mode, a single writer connection,
// auto-migration on first use.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed event log at
// path. Use ":memory:" for an ephemeral store useful in tests that still
// want to exercise the SQL path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS workflow_events (
	workflow_id     TEXT NOT NULL,
	sequence        INTEGER NOT NULL,
	event_type      TEXT NOT NULL,
	payload_json    TEXT NOT NULL,
	attempt_number  INTEGER NOT NULL DEFAULT 0,
	backoff_delay_ms INTEGER NOT NULL DEFAULT 0,
	failure_reason  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (workflow_id, sequence)
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append implements EventStore.
func (s *SQLiteStore) Append(ctx context.Context, workflowID string, eventType EventType, payload map[string]any, attemptNumber int, backoffDelayMs int64, failureReason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM workflow_events WHERE workflow_id = ?`, workflowID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("read max sequence: %w", err)
	}
	seq := maxSeq.Int64 + 1

	_, err = tx.ExecContext(ctx, `
INSERT INTO workflow_events (workflow_id, sequence, event_type, payload_json, attempt_number, backoff_delay_ms, failure_reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		workflowID, seq, string(eventType), string(payloadJSON), attemptNumber, backoffDelayMs, failureReason, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return seq, nil
}

// Events implements EventStore.
func (s *SQLiteStore) Events(ctx context.Context, workflowID string, fromSeq int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sequence, event_type, payload_json, attempt_number, backoff_delay_ms, failure_reason, created_at
FROM workflow_events WHERE workflow_id = ? AND sequence >= ? ORDER BY sequence ASC`, workflowID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e           Event
			payloadJSON string
			eventType   string
		)
		if err := rows.Scan(&e.Sequence, &eventType, &payloadJSON, &e.AttemptNumber, &e.BackoffDelayMs, &e.FailureReason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.WorkflowID = workflowID
		e.Type = EventType(eventType)
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
