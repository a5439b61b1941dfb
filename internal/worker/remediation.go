package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Analysis is the diagnosis of a failed CI run.
type Analysis struct {
	RootCause  string
	Category   string
	Strategy   string
	Pattern    string
	Params     map[string]any
	Confidence float64
	Risk       string
}

// Remediation diagnoses a failed CI run fetched through the tool gateway and
// proposes a playbook.
type Remediation struct {
	Tools Tools
}

var missingModule = regexp.MustCompile(`No module named '([^']+)'`)

func (r *Remediation) Handle(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	repo := stringOr(req.Input["repository"], "")
	runID, ok := req.Input["run_id"].(float64)
	if repo == "" || !ok || runID <= 0 {
		return nil, &models.ValidationError{Field: "run_id", Message: "repository and a positive run_id are required"}
	}

	run, err := r.Tools.Call(ctx, "github.get_workflow_run", map[string]any{
		"repository": repo,
		"run_id":     runID,
	}, req.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("fetching run %v of %s: %w", runID, repo, err)
	}

	result := map[string]any{
		"agent":      string(models.KindRemediation),
		"repository": repo,
		"run_id":     runID,
		"run_url":    run["url"],
		"logs_url":   run["logs_url"],
		"conclusion": run["conclusion"],
	}
	if run["conclusion"] != "failure" && run["conclusion"] != "timed_out" {
		result["action"] = "none"
		return result, nil
	}

	evidence := failureEvidence(run)
	if logs, ok := req.Input["logs"].(string); ok {
		evidence = logs + "\n" + evidence
	}
	a := analyze(evidence)

	result["action"] = a.Strategy
	result["analysis"] = map[string]any{
		"root_cause":      a.RootCause,
		"category":        a.Category,
		"failure_pattern": a.Pattern,
		"confidence":      a.Confidence,
		"risk_level":      a.Risk,
		"params":          a.Params,
	}
	if steps := playbook(a); steps != nil {
		result["playbook"] = steps
		result["auto_fix"] = a.Risk == "low"
	}
	return result, nil
}

// failureEvidence flattens failed job and step names into searchable text.
func failureEvidence(run map[string]any) string {
	var b strings.Builder
	jobs, _ := run["jobs"].([]any)
	for _, j := range jobs {
		job, ok := j.(map[string]any)
		if !ok || job["conclusion"] != "failure" {
			continue
		}
		fmt.Fprintf(&b, "job %v failed\n", job["name"])
		steps, _ := job["failed_steps"].([]any)
		for _, s := range steps {
			fmt.Fprintf(&b, "step %v failed\n", s)
		}
	}
	return b.String()
}

// analyze applies the rule-based diagnosis, most specific rule first.
func analyze(evidence string) Analysis {
	lower := strings.ToLower(evidence)
	switch {
	case strings.Contains(evidence, "ModuleNotFoundError") || strings.Contains(evidence, "No module named"):
		module := "unknown"
		if m := missingModule.FindStringSubmatch(evidence); m != nil {
			module = m[1]
		}
		return Analysis{
			RootCause:  "Missing Python dependency: " + module,
			Category:   "dependency",
			Strategy:   "add_dependency",
			Pattern:    fmt.Sprintf("No module named '%s'", module),
			Params:     map[string]any{"module": module},
			Confidence: 0.9,
			Risk:       "low",
		}
	case strings.Contains(evidence, "npm ERR!") && strings.Contains(evidence, "404"):
		return Analysis{
			RootCause:  "Missing npm package",
			Category:   "dependency",
			Strategy:   "npm_install",
			Pattern:    "npm ERR! 404",
			Params:     map[string]any{},
			Confidence: 0.85,
			Risk:       "low",
		}
	case strings.Contains(evidence, "OutOfMemoryError") || strings.Contains(evidence, "exit code 137"):
		return Analysis{
			RootCause:  "Out of memory",
			Category:   "resource",
			Strategy:   "increase_memory",
			Pattern:    "OutOfMemoryError|exit code 137",
			Params:     map[string]any{"increase_by": 1.5},
			Confidence: 0.9,
			Risk:       "low",
		}
	case strings.Contains(lower, "test"):
		return Analysis{
			RootCause:  "Test failures",
			Category:   "test",
			Strategy:   "notify_owner",
			Params:     map[string]any{},
			Confidence: 0.6,
			Risk:       "medium",
		}
	default:
		return Analysis{
			RootCause:  "Unknown failure",
			Category:   "infrastructure",
			Strategy:   "manual_review",
			Params:     map[string]any{},
			Confidence: 0.3,
			Risk:       "high",
		}
	}
}

// playbook returns the built-in remediation steps for an analysis, or nil
// when only manual follow-up applies.
func playbook(a Analysis) []any {
	switch a.Strategy {
	case "add_dependency":
		return []any{"extract_module", "add_to_requirements", "commit_push", "retry_pipeline"}
	case "npm_install":
		return []any{"npm_install", "commit_lockfile", "retry_pipeline"}
	case "increase_memory":
		return []any{"raise_runner_memory", "retry_pipeline"}
	}
	return nil
}
