package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darrylbowler72/agenticframework-sub001/internal/logging"
	"github.com/darrylbowler72/agenticframework-sub001/internal/mcp"
	"github.com/darrylbowler72/agenticframework-sub001/internal/secrets"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

type staticSource string

func (s staticSource) Fetch(ctx context.Context) (string, error) { return string(s), nil }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newFakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["name"] == "existing-service" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"message": "Repository creation failed.",
				"errors":  []map[string]any{{"resource": "Repository", "code": "custom", "field": "name", "message": "name already exists on this account"}},
			})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"name":           body["name"],
			"full_name":      "acme/" + body["name"].(string),
			"html_url":       "https://github.com/acme/" + body["name"].(string),
			"default_branch": "main",
			"private":        body["private"],
		})
	})

	mux.HandleFunc("PUT /repos/acme/user-service/contents/README.md", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		require.NoError(t, err)
		assert.Equal(t, "# user-service\n", string(decoded))
		assert.Equal(t, "Add README.md", body.Message)
		writeJSON(w, http.StatusCreated, map[string]any{
			"content": map[string]any{"sha": "blob-sha", "html_url": "https://github.com/acme/user-service/blob/main/README.md"},
			"commit":  map[string]any{"sha": "commit-sha"},
		})
	})

	mux.HandleFunc("PUT /repos/acme/user-service/contents/main.go", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": `Invalid request.\n\n"sha" wasn't supplied.`})
	})

	mux.HandleFunc("GET /repos/acme/user-service/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": "base-sha", "type": "commit"}})
	})
	mux.HandleFunc("POST /repos/acme/user-service/git/refs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["ref"] == "refs/heads/develop" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Reference already exists"})
			return
		}
		assert.Equal(t, "base-sha", body["sha"])
		writeJSON(w, http.StatusCreated, map[string]any{"ref": body["ref"], "object": map[string]any{"sha": "base-sha"}})
	})

	mux.HandleFunc("GET /repos/acme/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})
	mux.HandleFunc("GET /repos/acme/user-service", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"name": "user-service", "full_name": "acme/user-service", "default_branch": "main"})
	})

	mux.HandleFunc("GET /orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, []map[string]any{{"name": "a"}, {"name": "b"}})
	})

	mux.HandleFunc("GET /repos/acme/user-service/actions/runs/42", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": 42, "name": "CI", "head_branch": "main", "head_sha": "abc123",
			"status": "completed", "conclusion": "failure",
			"html_url": "https://github.com/acme/user-service/actions/runs/42",
			"logs_url": "https://api.github.com/repos/acme/user-service/actions/runs/42/logs",
		})
	})
	mux.HandleFunc("GET /repos/acme/user-service/actions/runs/42/jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"total_count": 1,
			"jobs": []map[string]any{{
				"name": "test", "status": "completed", "conclusion": "failure",
				"steps": []map[string]any{
					{"name": "checkout", "conclusion": "success", "number": 1},
					{"name": "go test", "conclusion": "failure", "number": 2},
				},
			}},
		})
	})
	mux.HandleFunc("GET /repos/acme/user-service/actions/runs/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		t.Errorf("unexpected request %s %s %s", r.Method, r.URL.Path, body)
		w.WriteHeader(http.StatusTeapot)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(t *testing.T) *mcp.Gateway {
	t.Helper()
	srv := newFakeGitHub(t)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)

	capability := New("acme", secrets.NewCredential(staticSource("ghp_test")),
		WithBaseURL(base), WithHTTPClient(srv.Client()))
	g := mcp.NewGateway(logging.Discard(), nil)
	require.NoError(t, g.Register(capability))
	return g
}

func call(t *testing.T, g *mcp.Gateway, method string, params map[string]any) models.ToolResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return g.Call(context.Background(), models.ToolRequest{Method: method, Params: raw, CorrelationID: "wf-1/t-1/1"})
}

func TestCreateRepository(t *testing.T) {
	g := newTestGateway(t)

	resp := call(t, g, "github.create_repository", map[string]any{"name": "user-service", "private": true})
	require.Nil(t, resp.Error)
	assert.Equal(t, "acme/user-service", resp.Result["full_name"])
	assert.Equal(t, true, resp.Result["private"])

	resp = call(t, g, "github.create_repository", map[string]any{"name": "existing-service"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeAlreadyExists, resp.Error.Code)
	assert.Equal(t, "acme/existing-service", resp.Error.Data["resource"])

	resp = call(t, g, "github.create_repository", map[string]any{"name": "user-service", "private": "yes"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeInvalidParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "private")
}

func TestCreateFile(t *testing.T) {
	g := newTestGateway(t)

	resp := call(t, g, "github.create_file", map[string]any{
		"repository": "acme/user-service", "path": "README.md", "content": "# user-service\n",
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, "commit-sha", resp.Result["commit"])
	assert.Equal(t, "blob-sha", resp.Result["sha"])

	resp = call(t, g, "github.create_file", map[string]any{
		"repository": "user-service", "path": "main.go", "content": "package main\n",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeAlreadyExists, resp.Error.Code)
}

func TestCreateBranch(t *testing.T) {
	g := newTestGateway(t)

	resp := call(t, g, "github.create_branch", map[string]any{"repository": "user-service", "branch": "feature-x"})
	require.Nil(t, resp.Error)
	assert.Equal(t, "base-sha", resp.Result["sha"])

	resp = call(t, g, "github.create_branch", map[string]any{"repository": "user-service", "branch": "develop"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeAlreadyExists, resp.Error.Code)
}

func TestGetRepository(t *testing.T) {
	g := newTestGateway(t)

	resp := call(t, g, "github.get_repository", map[string]any{"repository": "acme/user-service"})
	require.Nil(t, resp.Error)
	assert.Equal(t, "main", resp.Result["default_branch"])

	resp = call(t, g, "github.get_repository", map[string]any{"repository": "acme/missing"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeUpstreamNotFound, resp.Error.Code)

	resp = call(t, g, "github.get_repository", map[string]any{"repository": "a/b/c"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeInvalidParams, resp.Error.Code)
}

func TestListRepositories(t *testing.T) {
	g := newTestGateway(t)

	resp := call(t, g, "github.list_repositories", map[string]any{"limit": 5})
	require.Nil(t, resp.Error)
	assert.EqualValues(t, 2, resp.Result["count"])

	resp = call(t, g, "github.list_repositories", map[string]any{"limit": 500})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeInvalidParams, resp.Error.Code)
}

func TestGetWorkflowRun(t *testing.T) {
	g := newTestGateway(t)

	resp := call(t, g, "github.get_workflow_run", map[string]any{"repository": "acme/user-service", "run_id": 42})
	require.Nil(t, resp.Error)
	assert.Equal(t, "failure", resp.Result["conclusion"])
	assert.Equal(t, "abc123", resp.Result["commit"])
	assert.Contains(t, resp.Result["logs_url"], "/actions/runs/42/logs")

	jobs := resp.Result["jobs"].([]any)
	require.Len(t, jobs, 1)
	job := jobs[0].(map[string]any)
	assert.Equal(t, []any{"go test"}, job["failed_steps"])

	resp = call(t, g, "github.get_workflow_run", map[string]any{"repository": "acme/user-service", "run_id": 7})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeUpstreamNotFound, resp.Error.Code)
}

func TestTokenFailureIsInternal(t *testing.T) {
	capability := New("acme", secrets.NewCredential(secrets.EnvSource{Var: "AGENTIC_TEST_NO_SUCH_TOKEN"}))
	g := mcp.NewGateway(logging.Discard(), nil)
	require.NoError(t, g.Register(capability))

	resp := call(t, g, "github.get_repository", map[string]any{"repository": "acme/user-service"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.CodeInternalError, resp.Error.Code)
}
