// Package planner turns a template and its parameters into a task graph.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/darrylbowler72/agenticframework-sub001/internal/llm"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Plan is the validated output of a Planner.
type Plan struct {
	Tasks []models.TaskSpec
	// Parameters are the submitted parameters with defaults applied.
	Parameters map[string]any
}

// Planner builds task plans. Unknown templates and bad parameters yield a
// *models.ValidationError.
type Planner interface {
	Plan(ctx context.Context, template string, params map[string]any) (*Plan, error)
}

// StaticPlanner plans from the template registry alone.
type StaticPlanner struct {
	registry *Registry
}

// NewStaticPlanner creates a StaticPlanner.
func NewStaticPlanner(registry *Registry) *StaticPlanner {
	return &StaticPlanner{registry: registry}
}

func (p *StaticPlanner) Plan(ctx context.Context, template string, params map[string]any) (*Plan, error) {
	tasks, normalized, err := p.registry.Plan(template, params)
	if err != nil {
		return nil, err
	}
	if err := ValidateGraph(tasks); err != nil {
		return nil, fmt.Errorf("template %s produced an invalid plan: %w", template, err)
	}
	return &Plan{Tasks: tasks, Parameters: normalized}, nil
}

const planSystemPrompt = "You are a DevOps workflow planner. You answer with a JSON array only."

// LLMPlanner asks a language model for the plan and falls back to the
// template's static plan when the call fails or the answer is not a valid graph.
type LLMPlanner struct {
	registry  *Registry
	completer llm.Completer
	logger    *slog.Logger
}

// NewLLMPlanner creates an LLMPlanner.
func NewLLMPlanner(registry *Registry, completer llm.Completer, logger *slog.Logger) *LLMPlanner {
	return &LLMPlanner{
		registry:  registry,
		completer: completer,
		logger:    logger.With("component", "planner"),
	}
}

func (p *LLMPlanner) Plan(ctx context.Context, template string, params map[string]any) (*Plan, error) {
	tmpl, err := p.registry.Lookup(template)
	if err != nil {
		return nil, err
	}
	normalized, err := tmpl.Normalize(params)
	if err != nil {
		return nil, err
	}

	tasks, err := p.ask(ctx, tmpl, normalized)
	if err != nil {
		p.logger.Warn("using fallback task planning", "template", template, "error", err)
		return NewStaticPlanner(p.registry).Plan(ctx, template, normalized)
	}
	return &Plan{Tasks: tasks, Parameters: normalized}, nil
}

func (p *LLMPlanner) ask(ctx context.Context, tmpl *Template, params map[string]any) ([]models.TaskSpec, error) {
	paramJSON, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return nil, err
	}
	kinds := make([]string, len(models.WorkerKinds))
	for i, k := range models.WorkerKinds {
		kinds[i] = string(k)
	}

	prompt := fmt.Sprintf(`Break the following request into tasks for specialized agents.

Template: %s (%s)
Parameters: %s

Available agents: %s

Answer with a JSON array of objects with the fields
task_id, agent, description, input_params, dependencies, priority.
Dependencies name other task_id values from the same array.
Code generation comes first, policy validation before deployment, observability last.`,
		tmpl.Name, tmpl.Description, paramJSON, strings.Join(kinds, ", "))

	answer, err := p.completer.Complete(ctx, planSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var specs []models.TaskSpec
	if err := json.Unmarshal([]byte(llm.StripCodeFence(answer)), &specs); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if err := ValidateGraph(specs); err != nil {
		return nil, fmt.Errorf("model returned an invalid plan: %w", err)
	}
	for i := range specs {
		if specs[i].Input == nil {
			specs[i].Input = params
		}
	}
	return AssignIDs(specs), nil
}
