package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkerKind names one specialised worker capability.
type WorkerKind string

const (
	KindCodegen       WorkerKind = "codegen"
	KindTemplate      WorkerKind = "template"
	KindPolicy        WorkerKind = "policy"
	KindDeployment    WorkerKind = "deployment"
	KindObservability WorkerKind = "observability"
	KindRemediation   WorkerKind = "remediation"
	KindIntake        WorkerKind = "intake"
)

// WorkerKinds is the fixed set of kinds a task may be assigned to.
var WorkerKinds = []WorkerKind{
	KindCodegen,
	KindTemplate,
	KindPolicy,
	KindDeployment,
	KindObservability,
	KindRemediation,
	KindIntake,
}

// Valid reports whether k is one of WorkerKinds.
func (k WorkerKind) Valid() bool {
	for _, known := range WorkerKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TaskStatus is the state of a single Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskDispatched TaskStatus = "dispatched"
	TaskRetrying   TaskStatus = "retrying"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the task has finished for good.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskError is the error detail recorded for a failed attempt.
type TaskError struct {
	// Class is one of the ErrorClass values.
	Class   ErrorClass `json:"class"`
	Code    int        `json:"code,omitempty"`
	Message string     `json:"message"`
}

func (e *TaskError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// AttemptRecord is one failed attempt in a task's audit trail.
type AttemptRecord struct {
	Attempt    int        `json:"attempt"`
	Kind       WorkerKind `json:"kind"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Error      *TaskError `json:"error,omitempty"`
}

// TaskSpec is a planned task before it is persisted.
type TaskSpec struct {
	ID           string         `json:"task_id"`
	Kind         WorkerKind     `json:"agent"`
	Description  string         `json:"description"`
	Input        map[string]any `json:"input_params"`
	Dependencies []string       `json:"dependencies"`
	Priority     int            `json:"priority"`
}

// Task is an individually dispatchable unit of work.
type Task struct {
	ID         string     `json:"task_id"`
	WorkflowID string     `json:"workflow_id"`
	Kind       WorkerKind `json:"agent"`
	// OriginalKind is the planned kind; Kind differs when a fallback is active.
	OriginalKind WorkerKind     `json:"original_agent,omitempty"`
	Description  string         `json:"description"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Priority     int            `json:"priority"`
	Status       TaskStatus     `json:"status"`
	Attempts     int            `json:"attempts"`
	Input        map[string]any `json:"input_params,omitempty"`
	Result       map[string]any `json:"output_data,omitempty"`
	// Error is the cause of the most recent failed attempt.
	Error *TaskError `json:"error,omitempty"`
	// History records every failed attempt, oldest first.
	History []AttemptRecord `json:"history,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DeadlineAt    *time.Time `json:"deadline_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	Version int64 `json:"version"`
}

// NewTask builds a pending task from its spec.
func NewTask(workflowID string, spec TaskSpec, now time.Time) *Task {
	return &Task{
		ID:           spec.ID,
		WorkflowID:   workflowID,
		Kind:         spec.Kind,
		OriginalKind: spec.Kind,
		Description:  spec.Description,
		Dependencies: append([]string(nil), spec.Dependencies...),
		Priority:     spec.Priority,
		Status:       TaskPending,
		Input:        cloneMap(spec.Input),
		CreatedAt:    now,
	}
}

// Clone returns a copy safe to mutate before a conditional write.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.History = append([]AttemptRecord(nil), t.History...)
	c.Input = cloneMap(t.Input)
	c.Result = cloneMap(t.Result)
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	c.DispatchedAt = cloneTime(t.DispatchedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.DeadlineAt = cloneTime(t.DeadlineAt)
	c.NextAttemptAt = cloneTime(t.NextAttemptAt)
	return &c
}

// CorrelationID links a dispatch to its eventual completion signal.
// It carries the attempt so that a late signal from an earlier attempt
// cannot be applied to a later one.
type CorrelationID struct {
	WorkflowID string
	TaskID     string
	Attempt    int
}

// CorrelationFor returns the correlation id of the task's current attempt.
func CorrelationFor(t *Task) CorrelationID {
	return CorrelationID{WorkflowID: t.WorkflowID, TaskID: t.ID, Attempt: t.Attempts}
}

func (c CorrelationID) String() string {
	return c.WorkflowID + "/" + c.TaskID + "/" + strconv.Itoa(c.Attempt)
}

// ParseCorrelationID parses the form produced by CorrelationID.String.
func ParseCorrelationID(s string) (CorrelationID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return CorrelationID{}, fmt.Errorf("malformed correlation id %q", s)
	}
	attempt, err := strconv.Atoi(parts[2])
	if err != nil || attempt < 1 {
		return CorrelationID{}, fmt.Errorf("malformed correlation id %q: bad attempt", s)
	}
	return CorrelationID{WorkflowID: parts[0], TaskID: parts[1], Attempt: attempt}, nil
}

// DispatchRequest is the body the orchestrator POSTs to a worker.
type DispatchRequest struct {
	CorrelationID string         `json:"correlation_id"`
	WorkflowID    string         `json:"workflow_id"`
	TaskID        string         `json:"task_id"`
	Kind          WorkerKind     `json:"agent"`
	Attempt       int            `json:"attempt"`
	Description   string         `json:"description"`
	Input         map[string]any `json:"input_params"`
	// Upstream holds results of completed predecessor tasks keyed by task id.
	Upstream    map[string]map[string]any `json:"upstream,omitempty"`
	CallbackURL string                    `json:"callback_url"`
}

// CompletionSignal is what a worker reports back for one attempt.
type CompletionSignal struct {
	CorrelationID string         `json:"correlation_id"`
	Success       bool           `json:"success"`
	Result        map[string]any `json:"result,omitempty"`
	Error         *TaskError     `json:"error,omitempty"`
	ReportedAt    time.Time      `json:"reported_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
