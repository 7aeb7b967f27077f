package task

import (
	"context"
)

// Repository persists care tasks and their audit trail. Upsert writes the
// task and the audit record atomically: insert when the task id is new,
// otherwise overwrite the mutable fields while status and created_utc keep
// their stored values.
type Repository interface {
	Upsert(ctx context.Context, t *CareTask, audit *AuditRecord) error
	GetByID(ctx context.Context, taskID string) (*CareTask, error)
	ListByPatient(ctx context.Context, patientID, status string, limit, offset int) ([]*CareTask, int, error)
	ListAudit(ctx context.Context, taskID string) ([]*AuditRecord, error)
}
