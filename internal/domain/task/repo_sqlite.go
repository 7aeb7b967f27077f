package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type repoSQLite struct{ db *sql.DB }

// NewRepoSQLite wraps an open SQLite handle and ensures the care_tasks and
// task_audit tables exist.
func NewRepoSQLite(db *sql.DB) (Repository, error) {
	r := &repoSQLite{db: db}
	if err := r.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure task schema: %w", err)
	}
	return r, nil
}

func (r *repoSQLite) ensureSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS care_tasks (
		task_id             TEXT PRIMARY KEY,
		patient_id          TEXT NOT NULL,
		category            TEXT NOT NULL,
		title               TEXT NOT NULL,
		due_date            TEXT,
		priority            TEXT NOT NULL,
		source_encounter_id TEXT,
		status              TEXT NOT NULL DEFAULT 'open',
		created_utc         TEXT NOT NULL,
		updated_utc         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_care_tasks_patient_status ON care_tasks(patient_id, status);
	CREATE INDEX IF NOT EXISTS idx_care_tasks_due ON care_tasks(due_date);

	CREATE TABLE IF NOT EXISTS task_audit (
		audit_id      TEXT PRIMARY KEY,
		task_id       TEXT NOT NULL,
		action        TEXT NOT NULL,
		actor         TEXT NOT NULL,
		timestamp_utc TEXT NOT NULL,
		payload_json  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_task_audit_task ON task_audit(task_id);`)
	return err
}

func (r *repoSQLite) Upsert(ctx context.Context, t *CareTask, audit *AuditRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO care_tasks (task_id, patient_id, category, title, due_date, priority,
			source_encounter_id, status, created_utc, updated_utc)
		VALUES (?,?,?,?,?,?,?,'open',?,?)
		ON CONFLICT (task_id) DO UPDATE SET
			patient_id = excluded.patient_id,
			category = excluded.category,
			title = excluded.title,
			due_date = excluded.due_date,
			priority = excluded.priority,
			source_encounter_id = excluded.source_encounter_id,
			updated_utc = excluded.updated_utc`,
		t.TaskID, t.PatientID, t.Category, t.Title, t.DueDate, t.Priority,
		t.SourceEncounterID, formatTime(t.UpdatedUTC), formatTime(t.UpdatedUTC)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_audit (audit_id, task_id, action, actor, timestamp_utc, payload_json)
		VALUES (?,?,?,?,?,?)`,
		audit.AuditID, audit.TaskID, audit.Action, audit.Actor,
		formatTime(audit.TimestampUTC), string(audit.PayloadJSON)); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *repoSQLite) GetByID(ctx context.Context, taskID string) (*CareTask, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT task_id, patient_id, category, title, due_date, priority,
			status, source_encounter_id, created_utc, updated_utc
		FROM care_tasks WHERE task_id = ?`, taskID)
	return scanSQLiteTask(row)
}

func (r *repoSQLite) ListByPatient(ctx context.Context, patientID, status string, limit, offset int) ([]*CareTask, int, error) {
	where := `WHERE patient_id = ?`
	args := []interface{}{patientID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM care_tasks `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, patient_id, category, title, due_date, priority,
			status, source_encounter_id, created_utc, updated_utc
		FROM care_tasks `+where+`
		ORDER BY due_date IS NULL, due_date, task_id
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*CareTask
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *repoSQLite) ListAudit(ctx context.Context, taskID string) ([]*AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT audit_id, task_id, action, actor, timestamp_utc, payload_json
		FROM task_audit WHERE task_id = ? ORDER BY audit_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		var a AuditRecord
		var ts string
		var payload sql.NullString
		if err := rows.Scan(&a.AuditID, &a.TaskID, &a.Action, &a.Actor, &ts, &payload); err != nil {
			return nil, err
		}
		a.TimestampUTC, _ = time.Parse(time.RFC3339Nano, ts)
		if payload.Valid {
			a.PayloadJSON = []byte(payload.String)
		}
		records = append(records, &a)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteTask(row rowScanner) (*CareTask, error) {
	var t CareTask
	var created, updated string
	err := row.Scan(&t.TaskID, &t.PatientID, &t.Category, &t.Title, &t.DueDate,
		&t.Priority, &t.Status, &t.SourceEncounterID, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.CreatedUTC, _ = time.Parse(time.RFC3339Nano, created)
	t.UpdatedUTC, _ = time.Parse(time.RFC3339Nano, updated)
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
