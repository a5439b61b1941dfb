package planner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

var (
	kebabCase = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)
	repoName  = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
)

// Languages accepted by the code generation templates.
var Languages = []string{"python", "nodejs", "go"}

// Param describes one template parameter.
type Param struct {
	Name     string
	Required bool
	Default  any
	Check    func(v any) error
}

// Template maps parameters deterministically to a task plan.
type Template struct {
	Name        string
	Description string
	Params      []Param
	// build returns the plan with local ids; Registry.Plan replaces them.
	build func(params map[string]any) []models.TaskSpec
}

// Registry holds the recognized templates.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry returns a registry with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	for _, t := range builtinTemplates() {
		r.templates[t.Name] = t
	}
	return r
}

// Names lists template names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the template or a ValidationError.
func (r *Registry) Lookup(name string) (*Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, &models.ValidationError{
			Field:   "template",
			Message: fmt.Sprintf("unknown template %q (known: %s)", name, strings.Join(r.Names(), ", ")),
		}
	}
	return t, nil
}

// Normalize validates params against the template and fills defaults. The
// returned map is a copy.
func (t *Template) Normalize(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range t.Params {
		v, ok := out[p.Name]
		if !ok || v == nil || v == "" {
			if p.Required {
				return nil, &models.ValidationError{Field: "parameters." + p.Name, Message: "is required"}
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		if p.Check != nil {
			if err := p.Check(v); err != nil {
				return nil, &models.ValidationError{Field: "parameters." + p.Name, Message: err.Error()}
			}
		}
	}
	return out, nil
}

// Plan validates params and returns the task plan with fresh task ids.
func (r *Registry) Plan(template string, params map[string]any) ([]models.TaskSpec, map[string]any, error) {
	t, err := r.Lookup(template)
	if err != nil {
		return nil, nil, err
	}
	normalized, err := t.Normalize(params)
	if err != nil {
		return nil, nil, err
	}
	return AssignIDs(t.build(normalized)), normalized, nil
}

// AssignIDs replaces plan-local ids with generated task ids and rewrites the
// dependencies to match.
func AssignIDs(specs []models.TaskSpec) []models.TaskSpec {
	ids := make(map[string]string, len(specs))
	for _, s := range specs {
		ids[s.ID] = NewTaskID()
	}
	out := make([]models.TaskSpec, len(specs))
	for i, s := range specs {
		s.ID = ids[s.ID]
		deps := make([]string, 0, len(s.Dependencies))
		for _, d := range s.Dependencies {
			if mapped, ok := ids[d]; ok {
				deps = append(deps, mapped)
			} else {
				deps = append(deps, d)
			}
		}
		s.Dependencies = deps
		out[i] = s
	}
	return out
}

func checkKebab(v any) error {
	s, ok := v.(string)
	if !ok || !kebabCase.MatchString(s) {
		return fmt.Errorf("must be a kebab-case name, got %v", v)
	}
	return nil
}

func checkText(v any) error {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fmt.Errorf("must be a non-empty string, got %v", v)
	}
	return nil
}

func checkOneOf(allowed ...string) func(any) error {
	return func(v any) error {
		s, _ := v.(string)
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s, got %v", strings.Join(allowed, "|"), v)
	}
}

func checkRepo(v any) error {
	s, ok := v.(string)
	if !ok || !repoName.MatchString(s) {
		return fmt.Errorf("must be owner/name, got %v", v)
	}
	return nil
}

func checkPositiveNumber(v any) error {
	switch n := v.(type) {
	case float64:
		if n > 0 && n == float64(int64(n)) {
			return nil
		}
	case int:
		if n > 0 {
			return nil
		}
	case int64:
		if n > 0 {
			return nil
		}
	}
	return fmt.Errorf("must be a positive integer, got %v", v)
}

func pick(params map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := params[k]; ok {
			out[k] = v
		}
	}
	return out
}

func builtinTemplates() []*Template {
	return []*Template{
		{
			Name:        "microservice-rest-api",
			Description: "Scaffold, validate, deploy and monitor a REST microservice",
			Params: []Param{
				{Name: "service_name", Required: true, Check: checkKebab},
				{Name: "language", Required: true, Check: checkOneOf(Languages...)},
				{Name: "environment", Default: "dev", Check: checkOneOf("dev", "staging", "prod")},
				{Name: "database", Default: "none", Check: checkOneOf("none", "postgresql", "mysql", "mongodb")},
			},
			build: func(p map[string]any) []models.TaskSpec {
				return []models.TaskSpec{
					{
						ID:          "codegen",
						Kind:        models.KindCodegen,
						Description: fmt.Sprintf("Generate %s microservice code", p["service_name"]),
						Input:       p,
						Priority:    1,
					},
					{
						ID:           "policy",
						Kind:         models.KindPolicy,
						Description:  "Validate security policies",
						Input:        pick(p, "service_name", "environment"),
						Dependencies: []string{"codegen"},
						Priority:     2,
					},
					{
						ID:           "deployment",
						Kind:         models.KindDeployment,
						Description:  fmt.Sprintf("Deploy to %s", p["environment"]),
						Input:        p,
						Dependencies: []string{"policy"},
						Priority:     3,
					},
					{
						ID:           "observability",
						Kind:         models.KindObservability,
						Description:  "Configure monitoring and verify health",
						Input:        pick(p, "service_name", "environment"),
						Dependencies: []string{"deployment"},
						Priority:     4,
					},
				}
			},
		},
		{
			Name:        "static-site",
			Description: "Scaffold and deploy a static website",
			Params: []Param{
				{Name: "site_name", Required: true, Check: checkKebab},
				{Name: "environment", Default: "dev", Check: checkOneOf("dev", "staging", "prod")},
			},
			build: func(p map[string]any) []models.TaskSpec {
				return []models.TaskSpec{
					{ID: "scaffold", Kind: models.KindTemplate, Description: fmt.Sprintf("Scaffold static site %s", p["site_name"]), Input: p, Priority: 1},
					{ID: "deploy", Kind: models.KindDeployment, Description: fmt.Sprintf("Deploy to %s", p["environment"]), Input: p, Dependencies: []string{"scaffold"}, Priority: 2},
				}
			},
		},
		{
			Name:        "pipeline-remediation",
			Description: "Analyze a failed CI run and propose a fix",
			Params: []Param{
				{Name: "repository", Required: true, Check: checkRepo},
				{Name: "run_id", Required: true, Check: checkPositiveNumber},
			},
			build: func(p map[string]any) []models.TaskSpec {
				return []models.TaskSpec{
					{ID: "remediate", Kind: models.KindRemediation, Description: fmt.Sprintf("Analyze failed run %v of %s", p["run_id"], p["repository"]), Input: p, Priority: 1},
				}
			},
		},
		{
			Name:        "assistant-request",
			Description: "Carry out a natural-language request against the platform",
			Params: []Param{
				{Name: "message", Required: true, Check: checkText},
				{Name: "project_name", Required: true, Check: checkKebab},
				{Name: "language", Default: "none", Check: checkOneOf(append([]string{"none"}, Languages...)...)},
			},
			build: func(p map[string]any) []models.TaskSpec {
				return []models.TaskSpec{
					{ID: "intake", Kind: models.KindIntake, Description: fmt.Sprintf("Handle request for %s", p["project_name"]), Input: p, Priority: 1},
				}
			},
		},
		{
			Name:        "policy-check",
			Description: "Run policy validation for an existing service",
			Params: []Param{
				{Name: "service_name", Required: true, Check: checkKebab},
				{Name: "environment", Default: "dev", Check: checkOneOf("dev", "staging", "prod")},
			},
			build: func(p map[string]any) []models.TaskSpec {
				return []models.TaskSpec{
					{ID: "policy", Kind: models.KindPolicy, Description: fmt.Sprintf("Validate policies for %s", p["service_name"]), Input: p, Priority: 1},
				}
			},
		},
	}
}
