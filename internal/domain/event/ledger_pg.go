package event

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ledgerPG struct{ pool *pgxpool.Pool }

func NewLedgerPG(pool *pgxpool.Pool) Ledger {
	return &ledgerPG{pool: pool}
}

func (l *ledgerPG) HasSeen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	return exists, err
}

func (l *ledgerPG) Record(ctx context.Context, eventID, eventType, patientID string) error {
	var pid *string
	if patientID != "" {
		pid = &patientID
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, patient_id, processed_utc)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (event_id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			patient_id = EXCLUDED.patient_id,
			processed_utc = EXCLUDED.processed_utc`,
		eventID, eventType, pid, time.Now().UTC())
	return err
}
