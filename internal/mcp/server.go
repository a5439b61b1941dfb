package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

const (
	serverName    = "agentic-tool-gateway"
	serverVersion = "1.0.0"
)

// Server exposes the gateway's methods as MCP tools. Tool names use "_"
// in place of "." because MCP clients restrict tool name characters.
type Server struct {
	mcpServer *server.MCPServer
	gateway   *Gateway
}

// NewServer builds an MCP server over every method registered on g. Register
// capabilities before calling it.
func NewServer(g *Gateway) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(true),
		),
		gateway: g,
	}
	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ToolName maps a gateway method to its MCP tool name.
func ToolName(method string) string {
	out := []byte(method)
	for i, b := range out {
		if b == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}

func (s *Server) registerTools() {
	for _, m := range s.gateway.Methods() {
		opts := []mcp.ToolOption{mcp.WithDescription(m.Description)}
		for _, p := range m.Params {
			var propOpts []mcp.PropertyOption
			if p.Required {
				propOpts = append(propOpts, mcp.Required())
			}
			if p.Description != "" {
				propOpts = append(propOpts, mcp.Description(p.Description))
			}
			switch p.Type {
			case ParamNumber:
				opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
			case ParamBool:
				opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
			case ParamObject:
				opts = append(opts, mcp.WithObject(p.Name, propOpts...))
			default:
				opts = append(opts, mcp.WithString(p.Name, propOpts...))
			}
		}
		s.mcpServer.AddTool(mcp.NewTool(ToolName(m.Name), opts...), s.handler(m.Name))
	}
}

func (s *Server) handler(method string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := json.Marshal(request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("Invalid arguments: " + err.Error()), nil
		}

		resp := s.gateway.Call(ctx, models.ToolRequest{
			Method:        method,
			Params:        params,
			CorrelationID: "mcp-" + uuid.NewString(),
		})
		if resp.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%d: %s", resp.Error.Code, resp.Error.Message)), nil
		}

		jsonBytes, _ := json.Marshal(resp.Result)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}
}

// MountHTTPHandlers serves the MCP SSE transport at /mcp/sse and /mcp/message.
func MountHTTPHandlers(e *echo.Echo, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))
	e.GET("/mcp/sse", echo.WrapHandler(sseServer))
	e.POST("/mcp/message", echo.WrapHandler(sseServer))
}
