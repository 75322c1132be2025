package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PersistedEventChecker tells a resuming writer whether a given event has
// already been durably written, so resuming a partially-persisted run never
// double-inserts a row the batch writer already committed.
type PersistedEventChecker struct {
	db *sql.DB
}

func NewPersistedEventChecker(db *sql.DB) *PersistedEventChecker {
	return &PersistedEventChecker{db: db}
}

// IsPersisted checks whether (run_id, event_seq) already exists in the
// durable event log.
func (c *PersistedEventChecker) IsPersisted(runID string, eventSeq int64) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1 FROM event_log.events WHERE run_id = $1 AND event_seq = $2 LIMIT 1
	`, runID, eventSeq).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateIdempotencyIndex creates the unique index that makes WriteEventBatch's
// ON CONFLICT (run_id, event_seq) DO NOTHING idempotent.
func (c *PersistedEventChecker) CreateIdempotencyIndex() error {
	_, err := c.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_run_seq
		ON event_log.events (run_id, event_seq)
	`)
	return err
}
