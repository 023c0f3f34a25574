package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Parameter limits guarding against resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

type entry struct {
	tool   Tool
	direct bool
	schema *jsonschema.Schema
}

// Registry manages tools in two tiers: the direct set, whose schemas are
// sent to the model on every call, and the catalog, reachable through the
// call_tool dispatcher and advertised one line each in the prompt.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Register adds a tool to the catalog. The declared schema must compile;
// registration fails otherwise, so malformed tools never reach the model.
func (r *Registry) Register(tool Tool) error {
	return r.register(tool, false)
}

// RegisterDirect adds a tool to the direct set.
func (r *Registry) RegisterDirect(tool Tool) error {
	return r.register(tool, true)
}

func (r *Registry) register(tool Tool, direct bool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(tool.Schema()))
	if err != nil {
		return fmt.Errorf("tool %s schema invalid: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{tool: tool, direct: direct, schema: compiled}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Direct returns the direct-set tools plus the call_tool and tool_help
// dispatchers, sorted by name.
func (r *Registry) Direct() []Tool {
	r.mu.RLock()
	out := []Tool{&callTool{registry: r}, &toolHelp{registry: r}}
	for _, e := range r.entries {
		if e.direct {
			out = append(out, e.tool)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// All returns every registered tool sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.tool)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// IsSerial reports whether a tool declared a serialization requirement.
func (r *Registry) IsSerial(name string) bool {
	tool, ok := r.Get(name)
	if !ok {
		return false
	}
	if s, ok := tool.(Serializer); ok {
		return s.Serial()
	}
	return false
}

// Execute runs a tool by name, validating params against its declared
// schema first. Unknown tools and invalid arguments come back as is_error
// results, never as Go errors bubbling into the reasoning loop.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return NewToolError(ErrValidation, name, "tool name too long").Result(), nil
	}
	if len(params) > MaxToolParamsSize {
		return NewToolError(ErrValidation, name,
			fmt.Sprintf("parameters exceed %d bytes", MaxToolParamsSize)).Result(), nil
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return NewToolError(ErrResourceNotFound, name, "tool not found").
			WithAlternatives(r.names()...).Result(), nil
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return NewToolError(ErrValidation, name, "arguments are not valid JSON: "+err.Error()).
			WithRetry("send a JSON object matching the tool schema").Result(), nil
	}
	if err := e.schema.Validate(decoded); err != nil {
		return NewToolError(ErrValidation, name, err.Error()).
			WithRetry("fix the arguments to match the tool schema").Result(), nil
	}

	return e.tool.Execute(ctx, params)
}

func (r *Registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CatalogSynopsis renders one line per catalog tool for the prompt.
func (r *Registry) CatalogSynopsis() string {
	var sb strings.Builder
	for _, tool := range r.All() {
		r.mu.RLock()
		direct := r.entries[tool.Name()].direct
		r.mu.RUnlock()
		if direct {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", tool.Name(), firstLine(tool.Description()))
	}
	return sb.String()
}

// ToolingInstructions describes the two-tier tool surface for the prompt.
func (r *Registry) ToolingInstructions() string {
	return "Tools listed in your function schemas can be called directly. " +
		"Tools listed in the catalog below are called through call_tool(name, args). " +
		"Use tool_help(name) to read detailed usage for any tool before calling it with unfamiliar arguments."
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// callTool dispatches into the catalog.
type callTool struct {
	registry *Registry
}

func (c *callTool) Name() string { return "call_tool" }

func (c *callTool) Description() string {
	return "Call any tool from the catalog by name with a JSON arguments object."
}

type callToolInput struct {
	Name string         `json:"name" jsonschema:"required,description=Catalog tool name"`
	Args map[string]any `json:"args" jsonschema:"description=Arguments object for the tool"`
}

func (c *callTool) Schema() json.RawMessage {
	return GenerateSchema[callToolInput]()
}

func (c *callTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input callToolInput
	if err := json.Unmarshal(params, &input); err != nil {
		return NewToolError(ErrValidation, c.Name(), err.Error()).Result(), nil
	}
	args, err := json.Marshal(input.Args)
	if err != nil {
		return NewToolError(ErrValidation, c.Name(), "encode args: "+err.Error()).Result(), nil
	}
	return c.registry.Execute(ctx, input.Name, args)
}

// toolHelp surfaces detailed help for a tool.
type toolHelp struct {
	registry *Registry
}

func (t *toolHelp) Name() string { return "tool_help" }

func (t *toolHelp) Description() string {
	return "Show the description, schema and detailed help for a tool."
}

type toolHelpInput struct {
	Name string `json:"name" jsonschema:"required,description=Tool name to describe"`
}

func (t *toolHelp) Schema() json.RawMessage {
	return GenerateSchema[toolHelpInput]()
}

func (t *toolHelp) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input toolHelpInput
	if err := json.Unmarshal(params, &input); err != nil {
		return NewToolError(ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	tool, ok := t.registry.Get(input.Name)
	if !ok {
		return NewToolError(ErrResourceNotFound, input.Name, "tool not found").
			WithAlternatives(t.registry.names()...).Result(), nil
	}
	help := map[string]any{
		"name":        tool.Name(),
		"description": tool.Description(),
		"schema":      json.RawMessage(tool.Schema()),
	}
	if d, ok := tool.(DetailedHelper); ok {
		help["detailed_help"] = d.DetailedHelp()
	}
	return JSONResult(help), nil
}
