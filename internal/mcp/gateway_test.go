package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darrylbowler72/agenticframework-sub001/internal/logging"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// fakeCapability keeps created names in memory.
type fakeCapability struct {
	existing map[string]bool
}

func (f *fakeCapability) Name() string { return "capability" }

func (f *fakeCapability) Actions() []Action {
	return []Action{
		{
			Name:        "create",
			Description: "Create a named resource",
			Params:      []Param{{Name: "name", Type: ParamString, Required: true}},
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				name := params["name"].(string)
				if f.existing[name] {
					return nil, AlreadyExists(name)
				}
				f.existing[name] = true
				return map[string]any{"name": name, "created": true}, nil
			},
		},
		{
			Name:   "get",
			Params: []Param{{Name: "name", Type: ParamString, Required: true}},
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				name := params["name"].(string)
				if !f.existing[name] {
					return nil, UpstreamNotFound(name)
				}
				return map[string]any{"name": name}, nil
			},
		},
		{
			Name:   "count",
			Params: []Param{{Name: "n", Type: ParamNumber, Required: true}},
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				return map[string]any{"n": params["n"]}, nil
			},
		},
		{
			Name: "broken",
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				return nil, errors.New("upstream exploded")
			},
		},
		{
			Name: "panics",
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				panic("nil map")
			},
		},
	}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g := NewGateway(logging.Discard(), nil)
	require.NoError(t, g.Register(&fakeCapability{existing: map[string]bool{"exists-already": true}}))
	return g
}

func call(g *Gateway, method, params, cid string) models.ToolResponse {
	return g.Call(context.Background(), models.ToolRequest{Method: method, Params: json.RawMessage(params), CorrelationID: cid})
}

func TestGatewayCall(t *testing.T) {
	g := newTestGateway(t)

	tests := []struct {
		name     string
		method   string
		params   string
		wantCode int
	}{
		{"success", "capability.create", `{"name":"fresh"}`, 0},
		{"already exists", "capability.create", `{"name":"exists-already"}`, models.CodeAlreadyExists},
		{"upstream not found", "capability.get", `{"name":"ghost"}`, models.CodeUpstreamNotFound},
		{"unknown method", "capability.delete", `{}`, models.CodeMethodNotFound},
		{"unknown capability", "other.create", `{}`, models.CodeMethodNotFound},
		{"not namespaced", "create", `{}`, models.CodeMethodNotFound},
		{"empty method", "", `{}`, models.CodeInvalidRequest},
		{"params not an object", "capability.create", `["x"]`, models.CodeInvalidParams},
		{"missing param", "capability.create", `{}`, models.CodeInvalidParams},
		{"wrong param type", "capability.count", `{"n":"three"}`, models.CodeInvalidParams},
		{"handler error", "capability.broken", ``, models.CodeInternalError},
		{"handler panic", "capability.panics", `null`, models.CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(g, tt.method, tt.params, "corr-1")
			assert.Equal(t, "corr-1", resp.CorrelationID)
			assert.Equal(t, "2.0", resp.JSONRPC)
			if tt.wantCode == 0 {
				require.Nil(t, resp.Error)
				assert.Equal(t, true, resp.Result["created"])
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Nil(t, resp.Result)
		})
	}
}

func TestGatewayAlreadyExistsCarriesResource(t *testing.T) {
	g := newTestGateway(t)
	resp := call(g, "capability.create", `{"name":"exists-already"}`, "c")
	require.NotNil(t, resp.Error)
	assert.Equal(t, "exists-already already exists", resp.Error.Message)
	assert.Equal(t, "exists-already", resp.Error.Data["resource"])
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	g := newTestGateway(t)
	assert.Error(t, g.Register(&fakeCapability{}))
}

func TestMethodsSorted(t *testing.T) {
	g := newTestGateway(t)
	methods := g.Methods()
	require.Len(t, methods, 5)
	assert.Equal(t, "capability.broken", methods[0].Name)
	assert.Equal(t, "capability.panics", methods[4].Name)
}

func newTestServer(t *testing.T, g *Gateway) *httptest.Server {
	t.Helper()
	e := echo.New()
	RegisterRoutes(e, g)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPCallAlwaysOK(t *testing.T) {
	srv := newTestServer(t, newTestGateway(t))

	post := func(body string) (int, models.ToolResponse) {
		resp, err := http.Post(srv.URL+"/mcp/call", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out models.ToolResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	code, out := post(`{"method":"capability.create","params":{"name":"a"},"correlation_id":"c-1"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, out.Error)
	assert.Equal(t, "c-1", out.CorrelationID)

	code, out = post(`{not json`)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, out.Error)
	assert.Equal(t, models.CodeParseError, out.Error.Code)

	code, out = post(`{"jsonrpc":"2.0","id":"rpc-7","method":"capability.nope"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "rpc-7", out.CorrelationID)
	assert.Equal(t, models.CodeMethodNotFound, out.Error.Code)
}

func TestHTTPInfo(t *testing.T) {
	srv := newTestServer(t, newTestGateway(t))

	resp, err := http.Get(srv.URL + "/mcp/info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, serverName, info.Name)
	assert.Len(t, info.Methods, 5)
}

func TestClientStructuredErrors(t *testing.T) {
	srv := newTestServer(t, newTestGateway(t))
	client := NewClient(srv.URL+"/", srv.Client())
	ctx := context.Background()

	result, err := client.Call(ctx, "capability.create", map[string]any{"name": "new-one"}, "")
	require.NoError(t, err)
	assert.Equal(t, "new-one", result["name"])

	_, err = client.Call(ctx, "capability.create", map[string]any{"name": "exists-already"}, "wf-1/t-1/1")
	var terr *models.ToolError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.AlreadyExists())
	assert.Equal(t, "capability.create", terr.Method)

	_, err = client.Call(ctx, "capability.unknown", nil, "")
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.CodeMethodNotFound, terr.Code)
}

func TestClientTransportError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", nil)
	_, err := client.Call(context.Background(), "capability.create", map[string]any{"name": "x"}, "")
	require.Error(t, err)
	var terr *models.ToolError
	assert.False(t, errors.As(err, &terr))
}

func TestMCPBridge(t *testing.T) {
	g := newTestGateway(t)
	s := NewServer(g)

	list := s.GetMCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(list)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"capability_create"`)

	var req mcp.CallToolRequest
	req.Params.Name = "capability_create"
	req.Params.Arguments = map[string]any{"name": "via-mcp"}

	res, err := s.handler("capability.create")(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"via-mcp","created":true}`, text.Text)

	req.Params.Arguments = map[string]any{"name": "exists-already"}
	res, err = s.handler("capability.create")(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "github_create_repository", ToolName("github.create_repository"))
}
