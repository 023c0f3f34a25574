// Package memorytool exposes the memory store to the model: remember,
// search and forget.
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// RememberTool stores a new memory entry.
type RememberTool struct {
	Memory *memory.Service
}

func (t *RememberTool) Name() string { return "memory_remember" }

func (t *RememberTool) Description() string {
	return "Store a fact, preference, rule or trait about the user for future conversations."
}

func (t *RememberTool) DetailedHelp() string {
	return "Types: fact, preference, rule, skill, persona_trait, context, error. persona_trait and context require a dimension; the newest entry per (type, dimension) wins. Near-duplicate facts replace the older entry."
}

type rememberInput struct {
	Content    string  `json:"content" jsonschema:"required,description=The thing to remember"`
	Type       string  `json:"type" jsonschema:"description=Entry type (default fact),enum=fact|preference|rule|skill|persona_trait|context|error"`
	Importance float64 `json:"importance" jsonschema:"description=Importance 0..1"`
	Dimension  string  `json:"dimension" jsonschema:"description=Dimension for persona_trait/context entries"`
}

func (t *RememberTool) Schema() json.RawMessage {
	return tools.GenerateSchema[rememberInput]()
}

func (t *RememberTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input rememberInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	entryType := models.MemoryType(input.Type)
	if input.Type == "" {
		entryType = models.MemoryFact
	}
	entry, err := t.Memory.Remember(ctx, &models.MemoryEntry{
		Type:       entryType,
		Content:    input.Content,
		Importance: input.Importance,
		Dimension:  input.Dimension,
	})
	if err != nil {
		return tools.NewToolError(tools.ErrPermanent, t.Name(), err.Error()).Result(), nil
	}
	return tools.JSONResult(map[string]any{"id": entry.ID, "type": entry.Type}), nil
}

// SearchTool queries stored memories.
type SearchTool struct {
	Memory *memory.Service
}

func (t *SearchTool) Name() string { return "memory_search" }

func (t *SearchTool) Description() string {
	return "Search stored memories by relevance to a query."
}

type searchInput struct {
	Query string `json:"query" jsonschema:"required,description=What to look for"`
	Limit int    `json:"limit" jsonschema:"description=Max results (default 5)"`
}

func (t *SearchTool) Schema() json.RawMessage {
	return tools.GenerateSchema[searchInput]()
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	results, err := t.Memory.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return tools.NewToolError(tools.ErrTransient, t.Name(), err.Error()).Result(), nil
	}
	return tools.JSONResult(map[string]any{"results": results}), nil
}

// ForgetTool removes a memory entry by ID.
type ForgetTool struct {
	Memory *memory.Service
}

func (t *ForgetTool) Name() string { return "memory_forget" }

func (t *ForgetTool) Description() string {
	return "Delete a stored memory entry by its id."
}

type forgetInput struct {
	ID string `json:"id" jsonschema:"required,description=Memory entry id to delete"`
}

func (t *ForgetTool) Schema() json.RawMessage {
	return tools.GenerateSchema[forgetInput]()
}

func (t *ForgetTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input forgetInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	if err := t.Memory.Forget(ctx, input.ID); err != nil {
		return tools.NewToolError(tools.ErrResourceNotFound, t.Name(),
			fmt.Sprintf("forget %s: %v", input.ID, err)).Result(), nil
	}
	return tools.JSONResult(map[string]any{"deleted": input.ID}), nil
}
