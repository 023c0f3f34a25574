// Package tools defines the tool interface, the registry with its direct
// set and catalog split, and the structured error type handlers return.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores, and the
	// "mcp:" prefix for bridged tools).
	Name() string

	// Description returns a natural language description of what the tool
	// does, used by the LLM to decide when to call it.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Domain failures are reported via
	// ToolResult.IsError (ideally a serialized *ToolError); a non-nil
	// error means the tool itself could not run.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// DetailedHelper is implemented by tools with long-form usage help,
// surfaced through tool_help.
type DetailedHelper interface {
	DetailedHelp() string
}

// Serializer is implemented by tools that must never run in parallel with
// other calls (e.g. tools driving a single shared resource).
type Serializer interface {
	Serial() bool
}

// ToolResult is the output of a tool execution. Errors travel back to the
// model through IsError rather than as Go errors.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// JSONResult encodes a payload as an indented JSON result.
func JSONResult(payload any) *ToolResult {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return &ToolResult{Content: "encode result: " + err.Error(), IsError: true}
	}
	return &ToolResult{Content: string(encoded)}
}
