package repository

import (
	"context"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// StateStore is the durable source of truth for workflows and tasks.
//
// Updates are conditional: the caller passes the entity carrying the Version
// it read, and the store only writes when the stored Version still matches,
// bumping it by one. A lost race yields models.ErrVersionConflict. Writes to
// tasks of a terminal workflow, or to a terminal workflow, yield
// models.ErrWorkflowTerminal.
type StateStore interface {
	// CreateWorkflow persists a new workflow and all of its tasks atomically.
	CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error
	// GetWorkflow returns models.ErrNotFound for unknown ids.
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// ListTasks returns the workflow's tasks in creation order.
	ListTasks(ctx context.Context, workflowID string) ([]*models.Task, error)
	GetTask(ctx context.Context, workflowID, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	// ListActiveWorkflows returns workflows that are not yet terminal.
	ListActiveWorkflows(ctx context.Context) ([]*models.Workflow, error)
	Ping(ctx context.Context) error
}

func notFound(entity, id string) error {
	return &models.NotFoundError{Entity: entity, ID: id}
}
