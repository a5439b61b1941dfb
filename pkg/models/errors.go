package models

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failed attempt for retry and fallback decisions.
type ErrorClass string

const (
	ClassValidation       ErrorClass = "validation"
	ClassDispatchTimeout  ErrorClass = "dispatch_timeout"
	ClassTool             ErrorClass = "tool"
	ClassWorker           ErrorClass = "worker"
	ClassExhaustedRetries ErrorClass = "exhausted_retries"
	ClassWorkflowDeadline ErrorClass = "workflow_deadline"
)

var (
	// ErrNotFound is returned when a workflow or task id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrWorkflowExists is returned when a workflow id is already stored.
	ErrWorkflowExists = errors.New("workflow already exists")

	// ErrVersionConflict is returned when a conditional write lost a race.
	ErrVersionConflict = errors.New("version conflict")

	// ErrWorkflowTerminal is returned when a write targets a finished workflow.
	ErrWorkflowTerminal = errors.New("workflow is terminal")
)

// ValidationError rejects a submission synchronously. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DispatchTimeoutError is a worker that was unreachable or did not respond
// within the deadline. It counts as a failed attempt.
type DispatchTimeoutError struct {
	Kind  WorkerKind
	Cause error
}

func (e *DispatchTimeoutError) Error() string {
	return fmt.Sprintf("dispatch to %s worker failed: %v", e.Kind, e.Cause)
}

func (e *DispatchTimeoutError) Unwrap() error { return e.Cause }

// ToolError is a structured failure returned by the tool gateway.
type ToolError struct {
	Method  string
	Code    int
	Message string
	Data    map[string]any
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed (%d): %s", e.Method, e.Code, e.Message)
}

// AlreadyExists reports whether the gateway flagged an idempotent create.
func (e *ToolError) AlreadyExists() bool {
	return e.Code == CodeAlreadyExists
}

// ExhaustedRetriesError is terminal; it carries the last attempt's cause verbatim.
type ExhaustedRetriesError struct {
	TaskID   string
	Attempts int
	Last     *TaskError
}

func (e *ExhaustedRetriesError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("task %s exhausted %d attempts", e.TaskID, e.Attempts)
	}
	return fmt.Sprintf("task %s exhausted %d attempts: %s", e.TaskID, e.Attempts, e.Last.Error())
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
