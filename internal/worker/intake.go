package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/darrylbowler72/agenticframework-sub001/internal/llm"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

const intentSystemPrompt = `You route requests for a DevOps automation platform.
Answer with a single JSON object and nothing else:
{
  "intent": "create_repo|create_branch|list_repos|setup_project|general",
  "parameters": {
    "repo_name": "kebab-case name",
    "description": "...",
    "private": false,
    "branch_name": "...",
    "from_branch": "main",
    "max_repos": 30,
    "language": "python|nodejs|go|none"
  },
  "response": "one or two sentences for the user"
}
Use "setup_project" when the user wants a new project bootstrapped with files,
and "general" when no platform action is needed.`

// Gitflow branches created by setup_project. Files land on the first one.
var setupBranches = []string{"develop", "release/1.0.0"}

// Intent is the model's reading of a natural-language request.
type Intent struct {
	Intent     string         `json:"intent"`
	Parameters map[string]any `json:"parameters"`
	Response   string         `json:"response"`
}

// Intake turns a natural-language request into gateway calls. The model
// only classifies; every side effect goes through Tools. Failures to reach
// or understand the model are worker errors, so a fallback rule can hand the
// task to the template worker.
type Intake struct {
	Tools  Tools
	LLM    llm.Completer
	Logger *slog.Logger
}

func (h *Intake) Handle(ctx context.Context, req models.DispatchRequest) (map[string]any, error) {
	message := strings.TrimSpace(stringOr(req.Input["message"], ""))
	if message == "" {
		return nil, &models.ValidationError{Field: "message", Message: "is required"}
	}
	if h.LLM == nil {
		return nil, errors.New("intake needs a language model")
	}

	intent, err := h.classify(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("classifying request: %w", err)
	}
	h.Logger.Info("request classified", "intent", intent.Intent, "correlation_id", req.CorrelationID)

	params := intent.Parameters
	if params == nil {
		params = map[string]any{}
	}
	repo := stringOr(params["repo_name"], stringOr(req.Input["project_name"], ""))

	result := map[string]any{
		"agent":    string(models.KindIntake),
		"intent":   intent.Intent,
		"response": intent.Response,
	}
	var action map[string]any
	switch intent.Intent {
	case "general", "help":
		return result, nil
	case "create_repo":
		action, err = h.createRepo(ctx, req, repo, params)
	case "create_branch":
		action, err = h.createBranch(ctx, req, repo, params)
	case "list_repos":
		action, err = h.listRepos(ctx, req, params)
	case "setup_project":
		action, err = h.setupProject(ctx, req, repo, message, params)
	default:
		return nil, fmt.Errorf("unsupported intent %q", intent.Intent)
	}
	if err != nil {
		return nil, err
	}
	for k, v := range action {
		result[k] = v
	}
	return result, nil
}

func (h *Intake) classify(ctx context.Context, message string) (*Intent, error) {
	text, err := h.LLM.Complete(ctx, intentSystemPrompt, "Request: "+message)
	if err != nil {
		return nil, err
	}
	var intent Intent
	if err := json.Unmarshal([]byte(llm.StripCodeFence(text)), &intent); err != nil {
		return nil, fmt.Errorf("model answer is not JSON: %w", err)
	}
	if intent.Intent == "" {
		return nil, errors.New("model answer has no intent")
	}
	return &intent, nil
}

func (h *Intake) createRepo(ctx context.Context, req models.DispatchRequest, repo string, params map[string]any) (map[string]any, error) {
	if repo == "" {
		return nil, errors.New("no repository name in request")
	}
	private, _ := params["private"].(bool)
	res, err := h.Tools.Call(ctx, "github.create_repository", map[string]any{
		"name":        repo,
		"description": stringOr(params["description"], ""),
		"private":     private,
	}, req.CorrelationID)
	if isAlreadyExists(err) {
		return map[string]any{"repository": repo, "repository_existed": true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating repository: %w", err)
	}
	return map[string]any{
		"repository":         stringOr(res["full_name"], repo),
		"repository_existed": false,
		"url":                res["url"],
	}, nil
}

func (h *Intake) createBranch(ctx context.Context, req models.DispatchRequest, repo string, params map[string]any) (map[string]any, error) {
	branch := stringOr(params["branch_name"], "")
	if repo == "" || branch == "" {
		return nil, errors.New("create_branch needs a repository and a branch name")
	}
	_, err := h.Tools.Call(ctx, "github.create_branch", map[string]any{
		"repository": repo,
		"branch":     branch,
		"from":       stringOr(params["from_branch"], "main"),
	}, req.CorrelationID)
	existed := isAlreadyExists(err)
	if err != nil && !existed {
		return nil, fmt.Errorf("creating branch: %w", err)
	}
	return map[string]any{"repository": repo, "branch": branch, "branch_existed": existed}, nil
}

func (h *Intake) listRepos(ctx context.Context, req models.DispatchRequest, params map[string]any) (map[string]any, error) {
	limit := 30
	if n, ok := params["max_repos"].(float64); ok && n >= 1 {
		limit = min(int(n), 100)
	}
	res, err := h.Tools.Call(ctx, "github.list_repositories", map[string]any{"limit": limit}, req.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	return map[string]any{"repositories": res["repositories"], "count": res["count"]}, nil
}

// setupProject creates the repository and gitflow branches, then pushes a
// rendered scaffold to the first branch.
func (h *Intake) setupProject(ctx context.Context, req models.DispatchRequest, repo, message string, params map[string]any) (map[string]any, error) {
	out, err := h.createRepo(ctx, req, repo, params)
	if err != nil {
		return nil, err
	}

	var branches []any
	for _, b := range setupBranches {
		br, err := h.createBranch(ctx, req, repo, map[string]any{"branch_name": b, "from_branch": "main"})
		if err != nil {
			return nil, err
		}
		branches = append(branches, br["branch"])
	}

	language := stringOr(params["language"], stringOr(req.Input["language"], "none"))
	sets := []string{"static", "common"}
	if isServiceLanguage(language) {
		sets = []string{language, "common"}
	} else {
		language = "none"
	}
	files, err := render(scaffoldData{
		ServiceName: repo,
		Description: message,
		Language:    language,
		Database:    "none",
		Environment: "dev",
		Module:      "example.com/" + repo,
	}, sets...)
	if err != nil {
		return nil, err
	}
	created, skipped, err := pushFiles(ctx, h.Tools, req.CorrelationID, repo, setupBranches[0], files)
	if err != nil {
		return nil, err
	}

	out["branches"] = branches
	out["language"] = language
	out["files"] = toAny(sortedPaths(files))
	out["created"] = created
	out["skipped"] = skipped
	out["digest"] = digest(files)
	return out, nil
}

func isServiceLanguage(lang string) bool {
	_, ok := scaffoldSets[lang]
	return ok && lang != "common" && lang != "static"
}
