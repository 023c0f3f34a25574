// Package models defines the core data types for Sidekick.
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a session transcript. Content is an ordered list
// of content blocks; plain-text messages carry a single TextBlock.
type Message struct {
	ID         string         `json:"id"`
	SessionKey string         `json:"session_key,omitempty"`
	Role       Role           `json:"role"`
	Blocks     BlockList      `json:"blocks"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewUserText builds a user message with a single text block.
func NewUserText(text string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Blocks:    BlockList{TextBlock{Text: text}},
		CreatedAt: time.Now(),
	}
}

// NewAssistantText builds an assistant message with a single text block.
func NewAssistantText(text string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Blocks:    BlockList{TextBlock{Text: text}},
		CreatedAt: time.Now(),
	}
}

// NewToolResults builds the tool message answering a batch of tool uses.
func NewToolResults(results []ToolResult) *Message {
	blocks := make(BlockList, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, ToolResultBlock{ToolUseID: r.ToolCallID, Content: r.Content, IsError: r.IsError})
	}
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleTool,
		Blocks:    blocks,
		CreatedAt: time.Now(),
	}
}

// Text concatenates the message's text blocks.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts the tool-use blocks in order.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Blocks {
		if tu, ok := b.(ToolUseBlock); ok {
			calls = append(calls, ToolCall{ID: tu.ID, Name: tu.Name, Input: tu.Input})
		}
	}
	return calls
}

// HasToolCalls reports whether the message carries any tool-use block.
func (m *Message) HasToolCalls() bool {
	for _, b := range m.Blocks {
		if _, ok := b.(ToolUseBlock); ok {
			return true
		}
	}
	return false
}

// ToolResults extracts the tool-result blocks in order.
func (m *Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, b := range m.Blocks {
		if tr, ok := b.(ToolResultBlock); ok {
			results = append(results, ToolResult{ToolCallID: tr.ToolUseID, Content: tr.Content, IsError: tr.IsError})
		}
	}
	return results
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
