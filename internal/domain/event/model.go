package event

import (
	"time"
)

// Event types recognized by the ingestion surface.
const (
	TypeDischargeCreated       = "DischargeCreated"
	TypeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
)

// IncomingEvent is one Event Grid envelope from the discharge webhook.
type IncomingEvent struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"eventType"`
	Subject   string                 `json:"subject,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// DataString returns the first non-empty string among the named data keys,
// so both camelCase and snake_case payload spellings resolve.
func (e *IncomingEvent) DataString(keys ...string) string {
	for _, key := range keys {
		if v, ok := e.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ProcessedRecord maps to the processed_events table: one row per event id
// the orchestrator has fully handled.
type ProcessedRecord struct {
	EventID      string    `db:"event_id" json:"eventId"`
	EventType    string    `db:"event_type" json:"eventType"`
	PatientID    *string   `db:"patient_id" json:"patientId"`
	ProcessedUTC time.Time `db:"processed_utc" json:"processedUtc"`
}
