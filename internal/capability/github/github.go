// Package github exposes source-control actions to the tool gateway under
// the "github" namespace.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/darrylbowler72/agenticframework-sub001/internal/mcp"
	"github.com/darrylbowler72/agenticframework-sub001/internal/secrets"
)

// Capability implements mcp.Capability against the GitHub REST API.
type Capability struct {
	owner      string
	baseURL    *url.URL
	token      *secrets.Credential
	httpClient *http.Client
}

// Option configures a Capability.
type Option func(*Capability)

// WithBaseURL points the client at a GitHub Enterprise or test server. The
// URL must end with a slash.
func WithBaseURL(u *url.URL) Option {
	return func(c *Capability) { c.baseURL = u }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Capability) { c.httpClient = hc }
}

// New creates the capability. owner is the organization repositories are
// created under and the default owner for bare repository names.
func New(owner string, token *secrets.Credential, opts ...Option) *Capability {
	c := &Capability{owner: owner, token: token, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Capability) Name() string { return "github" }

func (c *Capability) Actions() []mcp.Action {
	return []mcp.Action{
		{
			Name:        "create_repository",
			Description: "Create a repository under the platform organization",
			Params: []mcp.Param{
				{Name: "name", Type: mcp.ParamString, Required: true},
				{Name: "description", Type: mcp.ParamString},
				{Name: "private", Type: mcp.ParamBool},
			},
			Handler: c.createRepository,
		},
		{
			Name:        "create_file",
			Description: "Commit a new file to a repository",
			Params: []mcp.Param{
				{Name: "repository", Type: mcp.ParamString, Required: true, Description: "owner/name or name"},
				{Name: "path", Type: mcp.ParamString, Required: true},
				{Name: "content", Type: mcp.ParamString, Required: true},
				{Name: "message", Type: mcp.ParamString},
				{Name: "branch", Type: mcp.ParamString},
			},
			Handler: c.createFile,
		},
		{
			Name:        "create_branch",
			Description: "Create a branch from the head of another branch",
			Params: []mcp.Param{
				{Name: "repository", Type: mcp.ParamString, Required: true},
				{Name: "branch", Type: mcp.ParamString, Required: true},
				{Name: "from", Type: mcp.ParamString},
			},
			Handler: c.createBranch,
		},
		{
			Name:        "get_repository",
			Description: "Fetch repository metadata",
			Params:      []mcp.Param{{Name: "repository", Type: mcp.ParamString, Required: true}},
			Handler:     c.getRepository,
		},
		{
			Name:        "list_repositories",
			Description: "List repositories of the platform organization",
			Params:      []mcp.Param{{Name: "limit", Type: mcp.ParamNumber}},
			Handler:     c.listRepositories,
		},
		{
			Name:        "get_workflow_run",
			Description: "Fetch a CI workflow run with its jobs and failed steps",
			Params: []mcp.Param{
				{Name: "repository", Type: mcp.ParamString, Required: true},
				{Name: "run_id", Type: mcp.ParamNumber, Required: true},
			},
			Handler: c.getWorkflowRun,
		},
	}
}

func (c *Capability) client(ctx context.Context) (*gh.Client, error) {
	token, err := c.token.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving github token: %w", err)
	}
	client := gh.NewClient(c.httpClient).WithAuthToken(token)
	if c.baseURL != nil {
		client.BaseURL = c.baseURL
	}
	return client, nil
}

func (c *Capability) splitRepository(v string) (string, string, error) {
	owner, name, found := strings.Cut(v, "/")
	if !found {
		owner, name = c.owner, v
	}
	if owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", mcp.InvalidParams("repository must be owner/name, got %q", v)
	}
	return owner, name, nil
}

func (c *Capability) createRepository(ctx context.Context, params map[string]any) (map[string]any, error) {
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	name := params["name"].(string)
	desc, _ := params["description"].(string)
	private, _ := params["private"].(bool)

	repo, _, err := client.Repositories.Create(ctx, c.owner, &gh.Repository{
		Name:        gh.String(name),
		Description: gh.String(desc),
		Private:     gh.Bool(private),
		AutoInit:    gh.Bool(true),
	})
	if err != nil {
		return nil, translate(err, c.owner+"/"+name)
	}
	return repoResult(repo), nil
}

func (c *Capability) createFile(ctx context.Context, params map[string]any) (map[string]any, error) {
	owner, name, err := c.splitRepository(params["repository"].(string))
	if err != nil {
		return nil, err
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	path := params["path"].(string)
	message, _ := params["message"].(string)
	if message == "" {
		message = "Add " + path
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: []byte(params["content"].(string)),
	}
	if branch, _ := params["branch"].(string); branch != "" {
		opts.Branch = gh.String(branch)
	}

	resp, _, err := client.Repositories.CreateFile(ctx, owner, name, path, opts)
	if err != nil {
		return nil, translate(err, owner+"/"+name+"/"+path)
	}
	return map[string]any{
		"path":   path,
		"sha":    resp.Content.GetSHA(),
		"commit": resp.Commit.GetSHA(),
		"url":    resp.Content.GetHTMLURL(),
	}, nil
}

func (c *Capability) createBranch(ctx context.Context, params map[string]any) (map[string]any, error) {
	owner, name, err := c.splitRepository(params["repository"].(string))
	if err != nil {
		return nil, err
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	branch := params["branch"].(string)
	from, _ := params["from"].(string)
	if from == "" {
		from = "main"
	}

	base, _, err := client.Git.GetRef(ctx, owner, name, "refs/heads/"+from)
	if err != nil {
		return nil, translate(err, owner+"/"+name+"@"+from)
	}
	ref, _, err := client.Git.CreateRef(ctx, owner, name, &gh.Reference{
		Ref:    gh.String("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: base.Object.SHA},
	})
	if err != nil {
		return nil, translate(err, owner+"/"+name+"@"+branch)
	}
	return map[string]any{"branch": branch, "sha": ref.GetObject().GetSHA()}, nil
}

func (c *Capability) getRepository(ctx context.Context, params map[string]any) (map[string]any, error) {
	owner, name, err := c.splitRepository(params["repository"].(string))
	if err != nil {
		return nil, err
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	repo, _, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, translate(err, owner+"/"+name)
	}
	return repoResult(repo), nil
}

func (c *Capability) listRepositories(ctx context.Context, params map[string]any) (map[string]any, error) {
	limit := 30
	if n, ok := params["limit"].(float64); ok {
		if n < 1 || n > 100 {
			return nil, mcp.InvalidParams("limit must be between 1 and 100")
		}
		limit = int(n)
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	repos, _, err := client.Repositories.ListByOrg(ctx, c.owner, &gh.RepositoryListByOrgOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, translate(err, c.owner)
	}
	out := make([]any, 0, len(repos))
	for _, r := range repos {
		out = append(out, repoResult(r))
	}
	return map[string]any{"repositories": out, "count": len(out)}, nil
}

func (c *Capability) getWorkflowRun(ctx context.Context, params map[string]any) (map[string]any, error) {
	owner, name, err := c.splitRepository(params["repository"].(string))
	if err != nil {
		return nil, err
	}
	runID := int64(params["run_id"].(float64))
	if runID <= 0 {
		return nil, mcp.InvalidParams("run_id must be positive")
	}
	client, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	resource := fmt.Sprintf("%s/%s/actions/runs/%d", owner, name, runID)

	run, _, err := client.Actions.GetWorkflowRunByID(ctx, owner, name, runID)
	if err != nil {
		return nil, translate(err, resource)
	}
	jobs, _, err := client.Actions.ListWorkflowJobs(ctx, owner, name, runID, &gh.ListWorkflowJobsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, translate(err, resource+"/jobs")
	}

	jobList := make([]any, 0, len(jobs.Jobs))
	for _, j := range jobs.Jobs {
		var failedSteps []any
		for _, s := range j.Steps {
			if s.GetConclusion() == "failure" {
				failedSteps = append(failedSteps, s.GetName())
			}
		}
		jobList = append(jobList, map[string]any{
			"name":         j.GetName(),
			"status":       j.GetStatus(),
			"conclusion":   j.GetConclusion(),
			"failed_steps": failedSteps,
		})
	}
	return map[string]any{
		"id":         run.GetID(),
		"name":       run.GetName(),
		"branch":     run.GetHeadBranch(),
		"commit":     run.GetHeadSHA(),
		"status":     run.GetStatus(),
		"conclusion": run.GetConclusion(),
		"url":        run.GetHTMLURL(),
		"logs_url":   run.GetLogsURL(),
		"jobs":       jobList,
	}, nil
}

func repoResult(r *gh.Repository) map[string]any {
	return map[string]any{
		"name":           r.GetName(),
		"full_name":      r.GetFullName(),
		"url":            r.GetHTMLURL(),
		"clone_url":      r.GetCloneURL(),
		"default_branch": r.GetDefaultBranch(),
		"private":        r.GetPrivate(),
	}
}

// translate maps GitHub API failures onto structured tool errors. A 422
// whose message says the object exists becomes already-exists; a 404 becomes
// upstream-not-found. Everything else passes through as an internal error.
func translate(err error, resource string) error {
	var errResp *gh.ErrorResponse
	if !errors.As(err, &errResp) || errResp.Response == nil {
		return err
	}
	switch errResp.Response.StatusCode {
	case http.StatusNotFound:
		return mcp.UpstreamNotFound(resource)
	case http.StatusUnprocessableEntity:
		if alreadyExists(errResp) {
			return mcp.AlreadyExists(resource)
		}
		return mcp.InvalidParams("github rejected the request: %s", errResp.Message)
	}
	return err
}

func alreadyExists(errResp *gh.ErrorResponse) bool {
	if strings.Contains(strings.ToLower(errResp.Message), "already exists") ||
		strings.Contains(errResp.Message, `"sha" wasn't supplied`) {
		return true
	}
	for _, e := range errResp.Errors {
		if strings.Contains(strings.ToLower(e.Message), "already exists") || e.Code == "already_exists" {
			return true
		}
	}
	return false
}
