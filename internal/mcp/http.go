package mcp

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// maxRequestBytes bounds a /mcp/call body.
const maxRequestBytes = 1 << 20

// Info is the response of GET /mcp/info.
type Info struct {
	Name    string       `json:"name"`
	Version string       `json:"version"`
	Methods []MethodInfo `json:"methods"`
}

// RegisterRoutes mounts POST /mcp/call and GET /mcp/info.
func RegisterRoutes(e *echo.Echo, g *Gateway) {
	e.POST("/mcp/call", g.handleCall)
	e.GET("/mcp/info", g.handleInfo)
}

// handleCall always answers 200; failures travel in the error member.
func (g *Gateway) handleCall(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBytes))
	if err != nil {
		return c.JSON(http.StatusOK, parseError("could not read request body"))
	}

	var req models.ToolRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusOK, parseError("parse error: "+err.Error()))
	}
	if req.CorrelationID == "" && len(req.ID) > 0 {
		var id string
		if json.Unmarshal(req.ID, &id) == nil {
			req.CorrelationID = id
		}
	}
	if cid := c.Request().Header.Get("X-Correlation-ID"); req.CorrelationID == "" && cid != "" {
		req.CorrelationID = cid
	}

	return c.JSON(http.StatusOK, g.Call(c.Request().Context(), req))
}

func (g *Gateway) handleInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, Info{Name: serverName, Version: serverVersion, Methods: g.Methods()})
}

func parseError(msg string) models.ToolResponse {
	return models.ToolResponse{
		JSONRPC: "2.0",
		Error:   &models.ToolErrorObject{Code: models.CodeParseError, Message: msg},
	}
}
