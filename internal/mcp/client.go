package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darrylbowler72/agenticframework-sub001/pkg/models"
)

// Client calls a remote tool gateway.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the gateway at baseURL. A nil client gets a
// 30 second timeout.
func NewClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Call invokes method. A structured gateway failure is returned as
// *models.ToolError; transport failures are returned wrapped.
func (c *Client) Call(ctx context.Context, method string, params any, correlationID string) (map[string]any, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	body, err := json.Marshal(models.ToolRequest{
		JSONRPC:       "2.0",
		Method:        method,
		Params:        rawParams,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool gateway answered %d", resp.StatusCode)
	}

	var out models.ToolResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	if out.CorrelationID != correlationID {
		return nil, fmt.Errorf("tool gateway echoed correlation id %q, want %q", out.CorrelationID, correlationID)
	}
	if out.Error != nil {
		return nil, &models.ToolError{Method: method, Code: out.Error.Code, Message: out.Error.Message, Data: out.Error.Data}
	}
	return out.Result, nil
}
