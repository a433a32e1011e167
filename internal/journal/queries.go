package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event outcomes recorded per stage transition.
const (
	Started   = "started"
	Succeeded = "succeeded"
	Failed    = "failed"
	Skipped   = "skipped"
)

// Event represents a row in the release_events table.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Event     string    `json:"event"`
	Version   string    `json:"version,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record appends an event. A zero CreatedAt is stamped with the current time.
func (d *DB) Record(ctx context.Context, e Event) error {
	created := now()
	if !e.CreatedAt.IsZero() {
		created = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := d.conn.ExecContext(ctx,
		d.rebind(`INSERT INTO release_events (run_id, stage, event, version, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		e.RunID, e.Stage, e.Event, nullable(e.Version), nullable(e.Detail), created,
	)
	if err != nil {
		return fmt.Errorf("record release event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. A limit <= 0 returns all.
func (d *DB) Recent(ctx context.Context, limit int) ([]Event, error) {
	query := `SELECT id, run_id, stage, event, version, detail, created_at
		 FROM release_events ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.conn.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query release events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Run returns every event of one release run in the order recorded.
func (d *DB) Run(ctx context.Context, runID string) ([]Event, error) {
	rows, err := d.conn.QueryContext(ctx,
		d.rebind(`SELECT id, run_id, stage, event, version, detail, created_at
		 FROM release_events WHERE run_id = ? ORDER BY id ASC`),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var version, detail sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Event, &version, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan release event: %w", err)
		}
		e.Version = version.String
		e.Detail = detail.String
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate release events: %w", err)
	}
	return events, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
