package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// auditActor identifies the writer in the task_audit trail.
const auditActor = "tools-server"

// ErrValidation marks a rejected payload or query parameter, as opposed to a
// store failure. Callers branch on it with errors.Is.
var ErrValidation = errors.New("validation failed")

var validStatuses = map[string]bool{
	"open":      true,
	"done":      true,
	"cancelled": true,
}

// Service is the single normalization seam for task payloads. Callers hand
// it loosely shaped JSON; everything below it works with canonical tasks.
type Service struct {
	tasks Repository
}

func NewService(tasks Repository) *Service {
	return &Service{tasks: tasks}
}

// NewTaskID returns a fresh task id: "T" followed by 10 hex characters.
func NewTaskID() string {
	id := uuid.New()
	return fmt.Sprintf("T%x", id[0:5])
}

// Upsert normalizes payload and persists it together with an audit record.
// Both camelCase and snake_case field spellings are accepted. patientId and
// title are required; category defaults to "other" and priority to "normal",
// both lowercased; a missing task id is generated. Returns the task id.
func (s *Service) Upsert(ctx context.Context, payload map[string]interface{}) (string, error) {
	patientID := stringField(payload, "patientId", "patient_id")
	if patientID == "" {
		return "", fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	title := stringField(payload, "title")
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrValidation)
	}

	category := strings.ToLower(stringField(payload, "category"))
	if category == "" {
		category = "other"
	}
	priority := strings.ToLower(stringField(payload, "priority"))
	if priority == "" {
		priority = "normal"
	}

	taskID := stringField(payload, "taskId", "task_id")
	if taskID == "" {
		taskID = NewTaskID()
	}

	now := time.Now().UTC()
	t := &CareTask{
		TaskID:     taskID,
		PatientID:  patientID,
		Category:   category,
		Title:      title,
		Priority:   priority,
		Status:     "open",
		CreatedUTC: now,
		UpdatedUTC: now,
	}
	if due := stringField(payload, "dueDate", "due_date"); due != "" {
		t.DueDate = &due
	}
	if enc := stringField(payload, "sourceEncounterId", "source_encounter_id"); enc != "" {
		t.SourceEncounterID = &enc
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}
	audit := &AuditRecord{
		AuditID:      ulid.Make().String(),
		TaskID:       taskID,
		Action:       "upsert",
		Actor:        auditActor,
		TimestampUTC: now,
		PayloadJSON:  raw,
	}

	if err := s.tasks.Upsert(ctx, t, audit); err != nil {
		return "", err
	}
	return taskID, nil
}

func (s *Service) Get(ctx context.Context, taskID string) (*CareTask, error) {
	return s.tasks.GetByID(ctx, taskID)
}

// ListByPatient returns a patient's tasks ordered by due date ascending with
// undated tasks last. An empty status means no filter; anything other than
// open, done, or cancelled is rejected.
func (s *Service) ListByPatient(ctx context.Context, patientID, status string, limit, offset int) ([]*CareTask, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, fmt.Errorf("%w: status must be open, done, or cancelled, got %q", ErrValidation, status)
	}
	return s.tasks.ListByPatient(ctx, patientID, status, limit, offset)
}

func (s *Service) ListAudit(ctx context.Context, taskID string) ([]*AuditRecord, error) {
	return s.tasks.ListAudit(ctx, taskID)
}

// stringField returns the first non-empty string value among keys.
func stringField(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
