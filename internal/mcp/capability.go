package mcp

import (
	"context"
	"fmt"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// ParamType is the JSON type of an action parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "boolean"
	ParamObject ParamType = "object"
)

// Param describes one action parameter.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// HandlerFunc executes an action. Params have already been checked against
// the action's declared Params.
type HandlerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Action is one callable method of a capability.
type Action struct {
	Name        string
	Description string
	Params      []Param
	Handler     HandlerFunc
}

// Capability groups actions under a namespace; methods are "<name>.<action>".
type Capability interface {
	Name() string
	Actions() []Action
}

// InvalidParams reports a parameter problem found by the handler itself.
func InvalidParams(format string, args ...any) error {
	return &models.ToolError{Code: models.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists reports that a create action found its target in place.
// Callers treat it as non-fatal.
func AlreadyExists(resource string) error {
	return &models.ToolError{
		Code:    models.CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
		Data:    map[string]any{"resource": resource},
	}
}

// UpstreamNotFound reports that the external system has no such object.
func UpstreamNotFound(resource string) error {
	return &models.ToolError{
		Code:    models.CodeUpstreamNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Data:    map[string]any{"resource": resource},
	}
}

func checkParams(action Action, params map[string]any) error {
	for _, p := range action.Params {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Required {
				return InvalidParams("missing required parameter: %s", p.Name)
			}
			continue
		}
		if !p.Type.matches(v) {
			return InvalidParams("parameter %s must be a %s", p.Name, p.Type)
		}
	}
	return nil
}

func (t ParamType) matches(v any) bool {
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamNumber:
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case ParamBool:
		_, ok := v.(bool)
		return ok
	case ParamObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
