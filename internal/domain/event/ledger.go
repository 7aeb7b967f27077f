package event

import (
	"context"
)

// Ledger records which event ids have been fully processed. HasSeen before
// processing and Record after it give at-least-once delivery exactly-once
// effects for redeliveries that arrive after a completed run; concurrent
// deliveries of the same id may still race, which downstream upserts absorb.
type Ledger interface {
	HasSeen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, eventType, patientID string) error
}
