// Package files provides the read_file and write_file host tools.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/sidekick/internal/tools"
)

// maxReadBytes caps how much of a file read_file returns.
const maxReadBytes = 512 * 1024

// ReadTool reads text files from the host filesystem.
type ReadTool struct{}

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read a file from the local filesystem as text."
}

type readInput struct {
	Path string `json:"path" jsonschema:"required,description=Absolute or working-directory-relative path"`
}

func (t *ReadTool) Schema() json.RawMessage {
	return tools.GenerateSchema[readInput]()
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input readInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	data, err := os.ReadFile(input.Path)
	if os.IsNotExist(err) {
		return tools.NewToolError(tools.ErrResourceNotFound, t.Name(),
			fmt.Sprintf("file not found: %s", input.Path)).Result(), nil
	}
	if os.IsPermission(err) {
		return tools.NewToolError(tools.ErrPermission, t.Name(), err.Error()).Result(), nil
	}
	if err != nil {
		return tools.NewToolError(tools.ErrPermanent, t.Name(), err.Error()).Result(), nil
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}
	return &tools.ToolResult{Content: string(data)}, nil
}

// WriteTool writes text files to the host filesystem.
type WriteTool struct{}

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write text content to a file, creating parent directories as needed."
}

func (t *WriteTool) DetailedHelp() string {
	return "write_file replaces the whole file. Set append=true to add to the end instead. Parent directories are created automatically."
}

type writeInput struct {
	Path    string `json:"path" jsonschema:"required,description=Destination path"`
	Content string `json:"content" jsonschema:"required,description=Text content to write"`
	Append  bool   `json:"append" jsonschema:"description=Append instead of overwrite"`
}

func (t *WriteTool) Schema() json.RawMessage {
	return tools.GenerateSchema[writeInput]()
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input writeInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	if err := os.MkdirAll(filepath.Dir(input.Path), 0o755); err != nil {
		return tools.NewToolError(tools.ErrPermanent, t.Name(), err.Error()).Result(), nil
	}
	var err error
	if input.Append {
		var f *os.File
		f, err = os.OpenFile(input.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			_, err = f.WriteString(input.Content)
			f.Close()
		}
	} else {
		err = os.WriteFile(input.Path, []byte(input.Content), 0o644)
	}
	if os.IsPermission(err) {
		return tools.NewToolError(tools.ErrPermission, t.Name(), err.Error()).Result(), nil
	}
	if err != nil {
		return tools.NewToolError(tools.ErrPermanent, t.Name(), err.Error()).Result(), nil
	}
	return tools.JSONResult(map[string]any{"path": input.Path, "bytes": len(input.Content)}), nil
}
