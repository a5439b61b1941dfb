// Package mcp implements the tool gateway: a single JSON-RPC style endpoint
// that routes namespaced method calls to capability handlers, and the same
// actions exposed as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/darrylbowler72/agenticframework-sub001/internal/telemetry"
	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Gateway routes tool calls to registered capabilities.
type Gateway struct {
	mu      sync.RWMutex
	methods map[string]Action

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewGateway creates an empty Gateway.
func NewGateway(logger *slog.Logger, metrics *telemetry.Metrics) *Gateway {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	return &Gateway{
		methods: make(map[string]Action),
		logger:  logger.With("component", "tool_gateway"),
		metrics: metrics,
	}
}

// Register adds every action of c under "<c.Name()>.<action>".
func (g *Gateway) Register(c Capability) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, a := range c.Actions() {
		method := c.Name() + "." + a.Name
		if _, exists := g.methods[method]; exists {
			return fmt.Errorf("method %s already registered", method)
		}
		if a.Handler == nil {
			return fmt.Errorf("method %s has no handler", method)
		}
		g.methods[method] = a
	}
	g.logger.Info("capability registered", "capability", c.Name(), "actions", len(c.Actions()))
	return nil
}

// MethodInfo describes a registered method.
type MethodInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Methods lists registered methods sorted by name.
func (g *Gateway) Methods() []MethodInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]MethodInfo, 0, len(g.methods))
	for name, a := range g.methods {
		out = append(out, MethodInfo{Name: name, Description: a.Description, Params: a.Params})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *Gateway) lookup(method string) (Action, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.methods[method]
	return a, ok
}

// Call executes one tool invocation. It never returns a Go error: every
// failure is encoded in the response.
func (g *Gateway) Call(ctx context.Context, req models.ToolRequest) (resp models.ToolResponse) {
	resp = models.ToolResponse{JSONRPC: "2.0", CorrelationID: req.CorrelationID, ID: req.ID}
	logger := g.logger.With("method", req.Method, "correlation_id", req.CorrelationID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool handler panicked", "panic", r)
			resp.Result = nil
			resp.Error = &models.ToolErrorObject{Code: models.CodeInternalError, Message: fmt.Sprintf("internal error: %v", r)}
		}
		outcome := "ok"
		if resp.Error != nil {
			outcome = fmt.Sprint(resp.Error.Code)
		}
		g.metrics.ToolCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", req.Method), attribute.String("outcome", outcome)))
	}()

	if req.Method == "" {
		resp.Error = &models.ToolErrorObject{Code: models.CodeInvalidRequest, Message: "method is required"}
		return resp
	}
	action, ok := g.lookup(req.Method)
	if !ok {
		resp.Error = &models.ToolErrorObject{Code: models.CodeMethodNotFound, Message: "method not found: " + req.Method}
		return resp
	}

	params := map[string]any{}
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &models.ToolErrorObject{Code: models.CodeInvalidParams, Message: "params must be an object"}
			return resp
		}
	}
	if err := checkParams(action, params); err != nil {
		resp.Error = toErrorObject(err)
		return resp
	}

	result, err := action.Handler(ctx, params)
	if err != nil {
		resp.Error = toErrorObject(err)
		if resp.Error.Code == models.CodeInternalError {
			logger.Error("tool call failed", "error", err)
		} else {
			logger.Info("tool call returned structured error", "code", resp.Error.Code, "error", resp.Error.Message)
		}
		return resp
	}
	if result == nil {
		result = map[string]any{}
	}
	resp.Result = result
	logger.Debug("tool call succeeded")
	return resp
}

func toErrorObject(err error) *models.ToolErrorObject {
	var terr *models.ToolError
	if errors.As(err, &terr) {
		return &models.ToolErrorObject{Code: terr.Code, Message: terr.Message, Data: terr.Data}
	}
	return &models.ToolErrorObject{Code: models.CodeInternalError, Message: err.Error()}
}
