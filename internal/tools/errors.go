package tools

import (
	"encoding/json"
	"fmt"
)

// ErrorType classifies a tool failure for the model.
type ErrorType string

const (
	ErrTransient        ErrorType = "transient"
	ErrPermanent        ErrorType = "permanent"
	ErrPermission       ErrorType = "permission"
	ErrTimeout          ErrorType = "timeout"
	ErrValidation       ErrorType = "validation"
	ErrResourceNotFound ErrorType = "resource_not_found"
	ErrRateLimit        ErrorType = "rate_limit"
	ErrDependency       ErrorType = "dependency"
)

// ToolError is the structured failure a handler can return. The executor
// serializes it into the result payload so the model can reason about the
// failure and pick an alternative.
type ToolError struct {
	ErrorType        ErrorType `json:"error_type"`
	ToolName         string    `json:"tool_name"`
	Message          string    `json:"message"`
	RetrySuggestion  string    `json:"retry_suggestion,omitempty"`
	AlternativeTools []string  `json:"alternative_tools,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.ToolName, e.Message, e.ErrorType)
}

// Result serializes the error into an is_error tool result.
func (e *ToolError) Result() *ToolResult {
	payload, err := json.Marshal(e)
	if err != nil {
		return &ToolResult{Content: e.Error(), IsError: true}
	}
	return &ToolResult{Content: string(payload), IsError: true}
}

// NewToolError builds a ToolError.
func NewToolError(kind ErrorType, tool, message string) *ToolError {
	return &ToolError{ErrorType: kind, ToolName: tool, Message: message}
}

// WithRetry attaches a retry suggestion.
func (e *ToolError) WithRetry(suggestion string) *ToolError {
	e.RetrySuggestion = suggestion
	return e
}

// WithAlternatives attaches alternative tool names.
func (e *ToolError) WithAlternatives(names ...string) *ToolError {
	e.AlternativeTools = names
	return e
}
