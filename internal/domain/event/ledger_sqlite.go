package event

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type ledgerSQLite struct{ db *sql.DB }

// NewLedgerSQLite wraps an open SQLite handle and ensures the
// processed_events table exists.
func NewLedgerSQLite(db *sql.DB) (Ledger, error) {
	l := &ledgerSQLite{db: db}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS processed_events (
		event_id      TEXT PRIMARY KEY,
		event_type    TEXT NOT NULL,
		patient_id    TEXT,
		processed_utc TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return l, nil
}

func (l *ledgerSQLite) HasSeen(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE event_id = ? LIMIT 1`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *ledgerSQLite) Record(ctx context.Context, eventID, eventType, patientID string) error {
	var pid *string
	if patientID != "" {
		pid = &patientID
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, patient_id, processed_utc)
		VALUES (?,?,?,?)
		ON CONFLICT (event_id) DO UPDATE SET
			event_type = excluded.event_type,
			patient_id = excluded.patient_id,
			processed_utc = excluded.processed_utc`,
		eventID, eventType, pid, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}
