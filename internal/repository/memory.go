package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// MemoryStore is an in-process StateStore for tests and single-node development.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	tasks     map[string]map[string]*models.Task
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*models.Workflow),
		tasks:     make(map[string]map[string]*models.Task),
	}
}

func (s *MemoryStore) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return models.ErrWorkflowExists
	}
	s.workflows[wf.ID] = wf.Clone()
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t.Clone()
	}
	s.tasks[wf.ID] = byID
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, notFound("workflow", id)
	}
	return wf.Clone(), nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, workflowID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, notFound("workflow", workflowID)
	}
	out := make([]*models.Task, 0, len(wf.TaskIDs))
	for _, id := range wf.TaskIDs {
		if t, ok := s.tasks[workflowID][id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, workflowID, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[workflowID][taskID]
	if !ok {
		return nil, notFound("task", workflowID+"/"+taskID)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[task.WorkflowID][task.ID]
	if !ok {
		return notFound("task", task.WorkflowID+"/"+task.ID)
	}
	if s.workflows[task.WorkflowID].Status.Terminal() {
		return models.ErrWorkflowTerminal
	}
	if current.Version != task.Version {
		return models.ErrVersionConflict
	}
	task.Version++
	s.tasks[task.WorkflowID][task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.workflows[wf.ID]
	if !ok {
		return notFound("workflow", wf.ID)
	}
	if current.Status.Terminal() {
		return models.ErrWorkflowTerminal
	}
	if current.Version != wf.Version {
		return models.ErrVersionConflict
	}
	wf.Version++
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

func (s *MemoryStore) ListActiveWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Workflow
	for _, wf := range s.workflows {
		if !wf.Status.Terminal() {
			out = append(out, wf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
