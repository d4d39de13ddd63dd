package db

import (
	"fmt"
	"log/slog"
	"time"
)

// FlowEventRow is one journaled flow event.
type FlowEventRow struct {
	ID        string
	Flow      string
	FlowID    string
	User      string
	Type      string
	Payload   string
	CreatedAt time.Time
}

// InsertFlowEvent appends an event to the journal. Re-inserting an id is a no-op.
func (d *DB) InsertFlowEvent(e FlowEventRow) error {
	if e.Payload == "" {
		e.Payload = "{}"
	}
	_, err := d.conn.Exec(
		`INSERT INTO flow_events (id, flow, flow_id, user, type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Flow, e.FlowID, e.User, e.Type, e.Payload,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert flow event %s: %w", e.ID, err)
	}

	slog.Debug("flow event journaled",
		"id", e.ID,
		"flow", e.Flow,
		"flowID", e.FlowID,
		"type", e.Type,
	)
	return nil
}

// ListFlowEvents returns the most recent events for user, newest first.
func (d *DB) ListFlowEvents(user string, limit int) ([]FlowEventRow, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(
		`SELECT id, flow, flow_id, user, type, payload, created_at
		 FROM flow_events WHERE user = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query flow events for %s: %w", user, err)
	}
	defer rows.Close()

	var out []FlowEventRow
	for rows.Next() {
		var (
			e       FlowEventRow
			created string
		)
		if err := rows.Scan(&e.ID, &e.Flow, &e.FlowID, &e.User, &e.Type, &e.Payload, &created); err != nil {
			return nil, fmt.Errorf("scan flow event row: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse flow event time %q: %w", created, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow event rows: %w", err)
	}
	return out, nil
}
