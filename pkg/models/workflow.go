// Package models defines the domain models shared by the orchestrator, the
// workers and the tool gateway.
package models

import (
	"time"
)

// WorkflowStatus is the overall state of a Workflow.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed
}

// Workflow is a top-level unit of requested work. It owns its Tasks.
type Workflow struct {
	ID          string         `json:"workflow_id"`
	Template    string         `json:"template"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	RequestedBy string         `json:"requested_by"`
	TaskIDs     []string       `json:"task_ids"`
	Status      WorkflowStatus `json:"status"`
	// Error is set when the workflow fails and carries the surfaced cause.
	Error       *TaskError `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Deadline is the workflow-level timeout; zero means none.
	Deadline time.Time `json:"deadline,omitempty"`
	Version  int64     `json:"version"`
}

// Clone returns a deep enough copy for optimistic updates.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.TaskIDs = append([]string(nil), w.TaskIDs...)
	c.Parameters = cloneMap(w.Parameters)
	if w.Error != nil {
		e := *w.Error
		c.Error = &e
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// WorkflowView is the read model returned to clients.
type WorkflowView struct {
	ID          string         `json:"workflow_id"`
	Template    string         `json:"template"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	RequestedBy string         `json:"requested_by"`
	Status      WorkflowStatus `json:"status"`
	Error       *TaskError     `json:"error,omitempty"`
	Tasks       []*Task        `json:"tasks"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	// Duration is the wall time in seconds for terminal workflows.
	Duration *float64 `json:"duration,omitempty"`
}

// NewWorkflowView assembles the read model, ordering tasks as the workflow lists them.
func NewWorkflowView(wf *Workflow, tasks []*Task) *WorkflowView {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	ordered := make([]*Task, 0, len(wf.TaskIDs))
	for _, id := range wf.TaskIDs {
		if t, ok := byID[id]; ok {
			ordered = append(ordered, t)
		}
	}
	view := &WorkflowView{
		ID:          wf.ID,
		Template:    wf.Template,
		Parameters:  wf.Parameters,
		RequestedBy: wf.RequestedBy,
		Status:      wf.Status,
		Error:       wf.Error,
		Tasks:       ordered,
		CreatedAt:   wf.CreatedAt,
		CompletedAt: wf.CompletedAt,
	}
	if wf.CompletedAt != nil {
		d := wf.CompletedAt.Sub(wf.CreatedAt).Seconds()
		view.Duration = &d
	}
	return view
}

// cloneMap copies m and every nested map and slice in it, so a clone shares
// no mutable JSON structure with the original.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		if x == nil {
			return x
		}
		c := make([]any, len(x))
		for i, e := range x {
			c[i] = cloneValue(e)
		}
		return c
	case []string:
		return append([]string(nil), x...)
	case map[string]string:
		if x == nil {
			return x
		}
		c := make(map[string]string, len(x))
		for k, s := range x {
			c[k] = s
		}
		return c
	default:
		return v
	}
}
