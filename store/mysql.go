package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed EventStore for deployments that already run
// a MySQL cluster for other durability needs, mirroring the teacher's
// graph/store/mysql.go (same schema shape, swapped dialect).
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and ensures the
// workflow_events table exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS workflow_events (
	workflow_id      VARCHAR(191) NOT NULL,
	sequence         BIGINT NOT NULL,
	event_type       VARCHAR(64) NOT NULL,
	payload_json     JSON NOT NULL,
	attempt_number   INT NOT NULL DEFAULT 0,
	backoff_delay_ms BIGINT NOT NULL DEFAULT 0,
	failure_reason   TEXT,
	created_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (workflow_id, sequence)
) ENGINE=InnoDB;
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Append implements EventStore.
func (s *MySQLStore) Append(ctx context.Context, workflowID string, eventType EventType, payload map[string]any, attemptNumber int, backoffDelayMs int64, failureReason string) (int64, error) {
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
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM workflow_events WHERE workflow_id = ? FOR UPDATE`, workflowID).Scan(&maxSeq); err != nil {
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
func (s *MySQLStore) Events(ctx context.Context, workflowID string, fromSeq int64) ([]Event, error) {
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
			reason      sql.NullString
		)
		if err := rows.Scan(&e.Sequence, &eventType, &payloadJSON, &e.AttemptNumber, &e.BackoffDelayMs, &reason, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.WorkflowID = workflowID
		e.Type = EventType(eventType)
		e.FailureReason = reason.String
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
