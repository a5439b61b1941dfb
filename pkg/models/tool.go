package models

import "encoding/json"

// JSON-RPC error codes used by the tool gateway.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeAlreadyExists marks a create action whose target already exists.
	// Callers treat it as non-fatal.
	CodeAlreadyExists = -32001
	// CodeUpstreamNotFound marks a lookup the external capability could not satisfy.
	CodeUpstreamNotFound = -32002
)

// ToolRequest is a single tool invocation.
type ToolRequest struct {
	JSONRPC       string          `json:"jsonrpc,omitempty"`
	Method        string          `json:"method"`
	Params        json.RawMessage `json:"params,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	// ID mirrors CorrelationID for JSON-RPC 2.0 clients.
	ID json.RawMessage `json:"id,omitempty"`
}

// ToolErrorObject is the error member of a ToolResponse.
type ToolErrorObject struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ToolResponse carries either Result or Error, never both.
type ToolResponse struct {
	JSONRPC       string           `json:"jsonrpc"`
	CorrelationID string           `json:"correlation_id"`
	ID            json.RawMessage  `json:"id,omitempty"`
	Result        map[string]any   `json:"result,omitempty"`
	Error         *ToolErrorObject `json:"error,omitempty"`
}
