package task

import (
	"encoding/json"
	"time"
)

// CareTask maps to the care_tasks table: one follow-up action owed to a
// patient after discharge.
type CareTask struct {
	TaskID            string    `db:"task_id" json:"taskId"`
	PatientID         string    `db:"patient_id" json:"patientId"`
	Category          string    `db:"category" json:"category"`
	Title             string    `db:"title" json:"title"`
	DueDate           *string   `db:"due_date" json:"dueDate"`
	Priority          string    `db:"priority" json:"priority"`
	Status            string    `db:"status" json:"status"`
	SourceEncounterID *string   `db:"source_encounter_id" json:"sourceEncounterId"`
	CreatedUTC        time.Time `db:"created_utc" json:"createdUtc"`
	UpdatedUTC        time.Time `db:"updated_utc" json:"updatedUtc"`
}

// AuditRecord maps to the task_audit table. PayloadJSON holds the caller's
// original task payload before normalization.
type AuditRecord struct {
	AuditID      string          `db:"audit_id" json:"auditId"`
	TaskID       string          `db:"task_id" json:"taskId"`
	Action       string          `db:"action" json:"action"`
	Actor        string          `db:"actor" json:"actor"`
	TimestampUTC time.Time       `db:"timestamp_utc" json:"timestampUtc"`
	PayloadJSON  json.RawMessage `db:"payload_json" json:"payload,omitempty"`
}
