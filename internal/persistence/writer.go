package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes appended events to Postgres using batch inserts.
// This implementation uses multi-row INSERT as a portable alternative to
// pgx CopyFrom; swap in CopyFrom for production-grade throughput.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow represents a row in event_log.events — the durable mirror of
// one marketsim/internal/event.Event.
type EventRow struct {
	RunID     string
	TickID    int64
	EventSeq  int64
	EventType string
	AgentID   *string
	Payload   []byte // JSON-encoded canonical payload
	PrevHash  string
	EventHash string
	CreatedAt time.Time
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// execer is satisfied by both *sql.DB and *sql.Tx, so WriteEventBatch can
// run standalone or as part of the worker's batch transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteEventBatch writes a batch of events to event_log.events using
// multi-row INSERT, keyed by (run_id, event_seq) for idempotent replay.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, exec execer) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(run_id, tick_id, event_seq, event_type, agent_id, payload, prev_hash, event_hash, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.RunID, e.TickID, e.EventSeq, e.EventType, e.AgentID,
			e.Payload, e.PrevHash, e.EventHash, e.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (run_id, event_seq) DO NOTHING"

	_, err := exec.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event payload to JSON for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
