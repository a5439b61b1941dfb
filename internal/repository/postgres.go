package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Schema creates the tables used by PostgresStore. Each row keeps the full
// entity as JSONB next to the columns the store filters on.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	version    BIGINT NOT NULL,
	body       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflows_active_idx
	ON workflows (created_at) WHERE status IN ('pending', 'in_progress');
CREATE TABLE IF NOT EXISTS tasks (
	workflow_id TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
	task_id     TEXT NOT NULL,
	position    INT NOT NULL,
	status      TEXT NOT NULL,
	version     BIGINT NOT NULL,
	body        JSONB NOT NULL,
	PRIMARY KEY (workflow_id, task_id)
);
`

// PostgresStore is a PostgreSQL implementation of StateStore.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	wfBody, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encoding workflow: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO workflows (id, status, version, body, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5) ON CONFLICT (id) DO NOTHING`,
		wf.ID, string(wf.Status), wf.Version, string(wfBody), wf.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrWorkflowExists
	}

	batch := &pgx.Batch{}
	for i, t := range tasks {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding task %s: %w", t.ID, err)
		}
		batch.Queue(
			`INSERT INTO tasks (workflow_id, task_id, position, status, version, body)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
			wf.ID, t.ID, i, string(t.Status), t.Version, string(body))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting tasks: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var body []byte
	err := s.db.QueryRow(ctx, "SELECT body FROM workflows WHERE id = $1", id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}
	var wf models.Workflow
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("decoding workflow %s: %w", id, err)
	}
	return &wf, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, workflowID string) ([]*models.Task, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		"SELECT body FROM tasks WHERE workflow_id = $1 ORDER BY position", workflowID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var t models.Task
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("decoding task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, workflowID, taskID string) (*models.Task, error) {
	var body []byte
	err := s.db.QueryRow(ctx,
		"SELECT body FROM tasks WHERE workflow_id = $1 AND task_id = $2", workflowID, taskID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("task", workflowID+"/"+taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	var t models.Task
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decoding task: %w", err)
	}
	return &t, nil
}

// UpdateTask writes the task only if its version is unchanged and the owning
// workflow is still running.
func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.Task) error {
	next := task.Clone()
	next.Version = task.Version + 1
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE tasks t SET status = $1, version = version + 1, body = $2::jsonb
		 WHERE t.workflow_id = $3 AND t.task_id = $4 AND t.version = $5
		   AND EXISTS (SELECT 1 FROM workflows w
		               WHERE w.id = t.workflow_id AND w.status NOT IN ('completed', 'failed'))`,
		string(task.Status), string(body), task.WorkflowID, task.ID, task.Version)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if tag.RowsAffected() == 1 {
		task.Version = next.Version
		return nil
	}
	return s.explainTaskMiss(ctx, task.WorkflowID, task.ID)
}

func (s *PostgresStore) explainTaskMiss(ctx context.Context, workflowID, taskID string) error {
	var wfStatus string
	err := s.db.QueryRow(ctx, `
		SELECT w.status FROM tasks t JOIN workflows w ON w.id = t.workflow_id
		WHERE t.workflow_id = $1 AND t.task_id = $2`, workflowID, taskID).Scan(&wfStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("task", workflowID+"/"+taskID)
	}
	if err != nil {
		return fmt.Errorf("checking task: %w", err)
	}
	if models.WorkflowStatus(wfStatus).Terminal() {
		return models.ErrWorkflowTerminal
	}
	return models.ErrVersionConflict
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	next := wf.Clone()
	next.Version = wf.Version + 1
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding workflow: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET status = $1, version = version + 1, body = $2::jsonb
		 WHERE id = $3 AND version = $4 AND status NOT IN ('completed', 'failed')`,
		string(wf.Status), string(body), wf.ID, wf.Version)
	if err != nil {
		return fmt.Errorf("updating workflow: %w", err)
	}
	if tag.RowsAffected() == 1 {
		wf.Version = next.Version
		return nil
	}

	var status string
	err = s.db.QueryRow(ctx, "SELECT status FROM workflows WHERE id = $1", wf.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("workflow", wf.ID)
	}
	if err != nil {
		return fmt.Errorf("checking workflow: %w", err)
	}
	if models.WorkflowStatus(status).Terminal() {
		return models.ErrWorkflowTerminal
	}
	return models.ErrVersionConflict
}

func (s *PostgresStore) ListActiveWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT body FROM workflows WHERE status IN ('pending', 'in_progress') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var wf models.Workflow
		if err := json.Unmarshal(body, &wf); err != nil {
			return nil, fmt.Errorf("decoding workflow: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
