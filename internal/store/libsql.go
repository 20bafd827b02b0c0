package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/playbook/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db        *sql.DB
	retention int
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at dbPath, a file URI such as
// "file:/path/to/playbook.db". retention caps the execution history;
// non-positive means DefaultRetention.
func NewLibSQLStore(dbPath string, retention int) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, retention: retentionOrDefault(retention)}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) (*schema.Workflow, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save workflow: %w", err)
	}
	defer tx.Rollback()

	var prev *schema.Workflow
	var def string
	err = tx.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE name = ?`, wf.Name).Scan(&def)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		prev = &schema.Workflow{}
		if err := json.Unmarshal([]byte(def), prev); err != nil {
			return nil, fmt.Errorf("unmarshal workflow %q: %w", wf.Name, err)
		}
	}

	saved := nextVersion(prev, wf, time.Now().UTC())
	raw, err := json.Marshal(saved)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (name, id, version, category, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version=excluded.version, category=excluded.category,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		saved.Name, saved.ID, saved.Version, nullStr(saved.Category), string(raw),
		saved.CreatedAt.UnixMilli(), saved.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, name string) (*schema.Workflow, error) {
	var def string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE name = ?`, name).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", name)
	}
	if err != nil {
		return nil, err
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(def), wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %q: %w", name, err)
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := `SELECT definition FROM workflows`
	var args []any
	if filter.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		wf := &schema.Workflow{}
		if err := json.Unmarshal([]byte(def), wf); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		// Tags live inside the JSON definition.
		if !filter.matches(wf) {
			continue
		}
		out = append(out, wf)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", name)
}

// --- Executions ---

func (s *LibSQLStore) AppendExecution(ctx context.Context, rec *schema.ExecutionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append execution: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_name, ts, duration_ms, success, status, successful_steps, failed_steps, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowName, rec.Timestamp.UnixMilli(), rec.DurationMs, boolInt(rec.Success),
		string(rec.Status), rec.Analysis.SuccessfulSteps, rec.Analysis.FailedSteps, string(raw),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already recorded", rec.ID).WithCause(err)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM executions WHERE seq <= (
		   SELECT seq FROM executions ORDER BY seq DESC LIMIT 1 OFFSET ?
		 )`, s.retention,
	); err != nil {
		return fmt.Errorf("evict executions: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.ExecutionRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM executions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowName != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, filter.Until.UnixMilli())
	}
	switch filter.Outcome {
	case "", "all":
	case schema.OutcomeSuccess:
		where = append(where, "success = 1")
	case schema.OutcomeFailed:
		where = append(where, "success = 0")
	case schema.OutcomePartial:
		where = append(where, "failed_steps > 0 AND successful_steps > 0")
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidInput, "unknown outcome filter %q", filter.Outcome)
	}

	query := `SELECT record FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.ExecutionRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) CountExecutions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n)
	return n, err
}

func (s *LibSQLStore) ClearExecutions(ctx context.Context, workflowName string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if workflowName == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM executions`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM executions WHERE workflow_name = ?`, workflowName)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = timeOrNow(job.CreatedAt)
	vars, err := marshalMapOrDefault(job.Variables)
	if err != nil {
		return fmt.Errorf("marshal job variables: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow_name, cron_expression, variables, enabled, last_run_at, next_run_at, last_run_status, max_runs, run_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.WorkflowName, job.CronExpression, string(vars), boolInt(job.Enabled),
		nullMillis(job.LastRunAt), nullMillis(job.NextRunAt), nullStr(job.LastRunStatus),
		job.MaxRuns, job.RunCount, job.CreatedAt.UnixMilli(),
	)
	return err
}

const jobColumns = `id, workflow_name, cron_expression, variables, enabled, last_run_at, next_run_at, last_run_status, max_runs, run_count, created_at`

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, update.LastRunAt.UnixMilli())
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, update.NextRunAt.UnixMilli())
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if update.CountRun {
		sets = append(sets, "run_count = run_count + 1")
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.WorkflowName != "" {
		where = append(where, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}

	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var (
		vars              string
		enabled           int
		lastRun, nextRun  sql.NullInt64
		lastStatus        sql.NullString
		createdAtMillisec int64
	)
	if err := row.Scan(&job.ID, &job.WorkflowName, &job.CronExpression, &vars, &enabled,
		&lastRun, &nextRun, &lastStatus, &job.MaxRuns, &job.RunCount, &createdAtMillisec); err != nil {
		return nil, err
	}
	if vars != "" && vars != "{}" {
		if err := json.Unmarshal([]byte(vars), &job.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal job variables: %w", err)
		}
	}
	job.Enabled = enabled != 0
	job.LastRunAt = millisOrNil(lastRun)
	job.NextRunAt = millisOrNil(nextRun)
	job.LastRunStatus = lastStatus.String
	job.CreatedAt = time.UnixMilli(createdAtMillisec).UTC()
	return job, nil
}

// --- Helpers ---

// nextVersion derives the stored form of wf given the previous version, if any.
func nextVersion(prev, wf *schema.Workflow, now time.Time) *schema.Workflow {
	saved := *wf
	saved.UpdatedAt = now
	if prev == nil {
		if saved.ID == "" {
			saved.ID = uuid.NewString()
		}
		saved.Version = 1
		saved.CreatedAt = now
		return &saved
	}
	saved.ID = prev.ID
	saved.CreatedAt = prev.CreatedAt
	saved.Version = prev.Version + 1
	return &saved
}

func decodeRecord(raw string) (*schema.ExecutionRecord, error) {
	rec := &schema.ExecutionRecord{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return rec, nil
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisOrNil(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
