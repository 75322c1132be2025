package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketsim/internal/world"
)

// SnapshotManager handles creating and loading world snapshots for warm
// restart. A snapshot lets a restarted runner skip replaying the full event
// log; the event log itself remains the authority a snapshot is always
// checked against via verify_chain.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the durable envelope around one world.Snapshot.
type SnapshotData struct {
	RunID     string          `json:"run_id"`
	TickID    int64           `json:"tick_id"`
	EventSeq  int64           `json:"event_seq"`
	PrevHash  string          `json:"prev_hash"`
	World     world.Snapshot  `json:"world"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres, keyed by (run_id, event_seq);
// saving again at the same event_seq replaces that row's data and size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, run_id, event_seq, data, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (run_id, event_seq) DO UPDATE SET data = $4, size_bytes = $6
	`, snapshotID, snap.RunID, snap.EventSeq, data, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot for a run.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context, runID string) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE run_id = $1 AND verified = TRUE
		ORDER BY event_seq DESC
		LIMIT 1
	`, runID)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot — cold start, replay from GENESIS
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after an integrity check
// (confirming verify_chain reports valid).
func (sm *SnapshotManager) MarkVerified(ctx context.Context, runID string, eventSeq int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE run_id = $1 AND event_seq = $2
	`, runID, eventSeq)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay, used for
// both warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, runID string, fromSeq int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT run_id, tick_id, event_seq, event_type, agent_id, payload, prev_hash, event_hash, created_at
		FROM event_log.events
		WHERE run_id = $1 AND event_seq >= $2
		ORDER BY event_seq ASC
		LIMIT $3
	`, runID, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.RunID, &e.TickID, &e.EventSeq, &e.EventType, &e.AgentID,
			&e.Payload, &e.PrevHash, &e.EventHash, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest event_seq recorded for a run.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context, runID string) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(event_seq) FROM event_log.events WHERE run_id = $1
	`, runID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // empty event log for this run
	}
	return seq.Int64, nil
}
