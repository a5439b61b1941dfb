package worker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Policy is one governance rule evaluated against a task's inputs and the
// results of its predecessors.
type Policy struct {
	ID       string
	Severity string
	Blocking bool
	Hint     string
	check    func(in policyInput) []string
}

type policyInput struct {
	name     string
	strings  []string
	files    map[string]bool
	hasFiles bool
}

var (
	kebabName     = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	secretPattern = regexp.MustCompile(`\b(sk-[A-Za-z0-9]{20,}|ghp_[A-Za-z0-9]{20,}|AKIA[0-9A-Z]{16})\b`)
	credentialDSN = regexp.MustCompile(`[a-z]+://[^:/\s]+:[^@/\s]+@`)
)

// DefaultPolicies is the built-in rule set.
var DefaultPolicies = []Policy{
	{
		ID:       "no-hardcoded-secrets",
		Severity: "critical",
		Blocking: true,
		Hint:     "Use environment variables or a secret store instead of literal credentials.",
		check: func(in policyInput) []string {
			var out []string
			for _, s := range in.strings {
				if secretPattern.MatchString(s) {
					out = append(out, "value matches a known API key pattern")
				}
				if credentialDSN.MatchString(s) {
					out = append(out, "connection string embeds credentials")
				}
			}
			return out
		},
	},
	{
		ID:       "required-repo-files",
		Severity: "medium",
		Hint:     "Add the missing files to the repository root.",
		check: func(in policyInput) []string {
			if !in.hasFiles {
				return nil
			}
			var out []string
			for _, f := range []string{"README.md", ".gitignore"} {
				if !in.files[f] {
					out = append(out, f+" is missing")
				}
			}
			return out
		},
	},
	{
		ID:       "workflow-has-ci",
		Severity: "high",
		Blocking: true,
		Hint:     "Add a CI workflow under .github/workflows.",
		check: func(in policyInput) []string {
			if !in.hasFiles {
				return nil
			}
			for f := range in.files {
				if strings.HasPrefix(f, ".github/workflows/") {
					return nil
				}
			}
			return []string{"no CI workflow found"}
		},
	},
	{
		ID:       "naming-conventions",
		Severity: "low",
		Hint:     "Rename to lowercase kebab-case, e.g. 'Web Frontend' -> 'web-frontend'.",
		check: func(in policyInput) []string {
			if in.name == "" {
				return nil
			}
			if !kebabName.MatchString(in.name) {
				return []string{fmt.Sprintf("%q is not lowercase kebab-case", in.name)}
			}
			if len(in.name) < 3 || len(in.name) > 50 {
				return []string{fmt.Sprintf("%q must be between 3 and 50 characters", in.name)}
			}
			return nil
		},
	},
}

// evaluatePolicies gates a workflow: a violation of a blocking policy with
// critical or high severity fails the task without retry.
func evaluatePolicies(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	in := policyInput{
		name:  stringOr(req.Input["service_name"], stringOr(req.Input["site_name"], "")),
		files: map[string]bool{},
	}
	collectStrings(req.Input, &in.strings)
	for _, res := range req.Upstream {
		collectStrings(res, &in.strings)
		if files, ok := res["files"].([]any); ok {
			in.hasFiles = true
			for _, f := range files {
				if s, ok := f.(string); ok {
					in.files[s] = true
				}
			}
		}
	}

	summary := map[string]any{"critical": 0, "high": 0, "medium": 0, "low": 0}
	var violations []any
	var blocking []string
	for _, p := range DefaultPolicies {
		for _, msg := range p.check(in) {
			summary[p.Severity] = summary[p.Severity].(int) + 1
			violations = append(violations, map[string]any{
				"policy_id": p.ID,
				"severity":  p.Severity,
				"message":   msg,
				"hint":      p.Hint,
			})
			if p.Blocking && (p.Severity == "critical" || p.Severity == "high") {
				blocking = append(blocking, p.ID)
			}
		}
	}

	if len(blocking) > 0 {
		sort.Strings(blocking)
		return nil, &models.ValidationError{
			Field:   "policy",
			Message: "blocking violations: " + strings.Join(dedupeStrings(blocking), ", "),
		}
	}
	return map[string]any{
		"agent":              string(models.KindPolicy),
		"approved":           true,
		"policies_evaluated": len(DefaultPolicies),
		"violations":         violations,
		"severity_summary":   summary,
	}, nil
}

func collectStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case map[string]any:
		for _, e := range t {
			collectStrings(e, out)
		}
	case []any:
		for _, e := range t {
			collectStrings(e, out)
		}
	}
}

func dedupeStrings(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
