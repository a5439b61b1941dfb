package planner

import (
	"strings"

	"github.com/google/uuid"
)

// NewWorkflowID returns an id of the form wf-<12 hex>.
func NewWorkflowID() string {
	return "wf-" + hexID(12)
}

// NewTaskID returns an id of the form t-<8 hex>.
func NewTaskID() string {
	return "t-" + hexID(8)
}

func hexID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
