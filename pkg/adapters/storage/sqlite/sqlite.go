package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store implements the storage ports on top of SQLite.
//
// It expects an *sql.DB opened with a SQLite driver; the service uses
// modernc.org/sqlite:
//
//	import _ "modernc.org/sqlite"
//	db, err := sql.Open("sqlite", path)
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ ports.RevisionSource       = (*Store)(nil)
	_ ports.TemplateSource       = (*Store)(nil)
	_ ports.RunStore             = (*Store)(nil)
	_ ports.ExecutionRecordStore = (*Store)(nil)
)

// NewStore initializes the schema in db and returns a new Store
func NewStore(db *sql.DB, logger *zap.Logger) (*Store, error) {
	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_revisions (
			workflow_id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_templates (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS execution_records (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			task_name TEXT NOT NULL,
			ord INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_execution_records_run ON execution_records (run_id, ord);`,
	)
	return err
}

// SaveWorkflowRevision sets the revision returned for its workflow
func (s *Store) SaveWorkflowRevision(ctx context.Context, rev *domain.WorkflowRevision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow revision: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_revisions (workflow_id, data) VALUES (?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET data = excluded.data`,
		rev.WorkflowID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow revision: %w", err)
	}
	return nil
}

// GetWorkflowRevision returns the current revision of a workflow
func (s *Store) GetWorkflowRevision(ctx context.Context, workflowID string) (*domain.WorkflowRevision, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM workflow_revisions WHERE workflow_id = ?`, workflowID,
	).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("workflow revision %s: %w", workflowID, notFound(err))
	}

	var rev domain.WorkflowRevision
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow revision: %w", err)
	}
	return &rev, nil
}

// SaveTaskTemplate stores a task template
func (s *Store) SaveTaskTemplate(ctx context.Context, tmpl *domain.TaskTemplate) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal task template: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_templates (id, data) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		tmpl.ID, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save task template: %w", err)
	}
	return nil
}

// GetTaskTemplate returns a task template
func (s *Store) GetTaskTemplate(ctx context.Context, templateID string) (*domain.TaskTemplate, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM task_templates WHERE id = ?`, templateID,
	).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("task template %s: %w", templateID, notFound(err))
	}

	var tmpl domain.TaskTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task template: %w", err)
	}
	return &tmpl, nil
}

// SaveRun creates or replaces a run
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, status_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			status_message = excluded.status_message,
			updated_at = excluded.updated_at`,
		run.ID,
		run.WorkflowID,
		string(run.Status),
		run.StatusMessage,
		run.CreatedAt.UnixNano(),
		run.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)))

	return nil
}

// GetRun returns a run
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var (
		run                  domain.Run
		status               string
		createdAt, updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, status_message, created_at, updated_at
		FROM runs WHERE id = ?`, runID,
	).Scan(&run.ID, &run.WorkflowID, &status, &run.StatusMessage, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, notFound(err))
	}

	run.Status = domain.ExecutionStatus(status)
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return &run, nil
}

// CreateExecutionRecord stores a new execution record with a generated id
func (s *Store) CreateExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error) {
	out := *rec
	out.ID = uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_records (id, run_id, task_id, task_name, ord, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID,
		out.RunID,
		out.TaskID,
		out.TaskName,
		out.Order,
		string(out.Status),
		out.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save execution record: %w", err)
	}

	return &out, nil
}

// ListExecutionRecords returns the records of a run sorted by order
func (s *Store) ListExecutionRecords(ctx context.Context, runID string) ([]*domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, task_id, task_name, ord, status, created_at
		FROM execution_records WHERE run_id = ? ORDER BY ord ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	records := []*domain.ExecutionRecord{}
	for rows.Next() {
		var (
			rec       domain.ExecutionRecord
			status    string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.TaskID, &rec.TaskName, &rec.Order, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		rec.Status = domain.ExecutionStatus(status)
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}

	return records, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
