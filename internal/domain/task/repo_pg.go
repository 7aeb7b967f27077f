package task

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careloop/careloop/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const taskCols = `task_id, patient_id, category, title, due_date, priority,
	status, source_encounter_id, created_utc, updated_utc`

func (r *repoPG) scanTask(row pgx.Row) (*CareTask, error) {
	var t CareTask
	err := row.Scan(&t.TaskID, &t.PatientID, &t.Category, &t.Title, &t.DueDate,
		&t.Priority, &t.Status, &t.SourceEncounterID, &t.CreatedUTC, &t.UpdatedUTC)
	return &t, err
}

func (r *repoPG) Upsert(ctx context.Context, t *CareTask, audit *AuditRecord) error {
	if db.TxFromContext(ctx) != nil {
		return r.upsert(ctx, t, audit)
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return r.upsert(ctx, t, audit)
	})
}

func (r *repoPG) upsert(ctx context.Context, t *CareTask, audit *AuditRecord) error {
	if _, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO care_tasks (task_id, patient_id, category, title, due_date, priority,
			source_encounter_id, status, created_utc, updated_utc)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'open',$8,$8)
		ON CONFLICT (task_id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			category = EXCLUDED.category,
			title = EXCLUDED.title,
			due_date = EXCLUDED.due_date,
			priority = EXCLUDED.priority,
			source_encounter_id = EXCLUDED.source_encounter_id,
			updated_utc = EXCLUDED.updated_utc`,
		t.TaskID, t.PatientID, t.Category, t.Title, t.DueDate, t.Priority,
		t.SourceEncounterID, t.UpdatedUTC); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO task_audit (audit_id, task_id, action, actor, timestamp_utc, payload_json)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		audit.AuditID, audit.TaskID, audit.Action, audit.Actor, audit.TimestampUTC, audit.PayloadJSON)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, taskID string) (*CareTask, error) {
	return r.scanTask(r.conn(ctx).QueryRow(ctx,
		`SELECT `+taskCols+` FROM care_tasks WHERE task_id = $1`, taskID))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID, status string, limit, offset int) ([]*CareTask, int, error) {
	where := `WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM care_tasks `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM care_tasks %s
		ORDER BY due_date IS NULL, due_date, task_id
		LIMIT $%d OFFSET $%d`, taskCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*CareTask
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListAudit(ctx context.Context, taskID string) ([]*AuditRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT audit_id, task_id, action, actor, timestamp_utc, payload_json
		FROM task_audit WHERE task_id = $1 ORDER BY audit_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		var a AuditRecord
		if err := rows.Scan(&a.AuditID, &a.TaskID, &a.Action, &a.Actor, &a.TimestampUTC, &a.PayloadJSON); err != nil {
			return nil, err
		}
		records = append(records, &a)
	}
	return records, rows.Err()
}
