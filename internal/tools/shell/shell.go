// Package shell provides the run_shell host tool.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/haasonsaas/sidekick/internal/tools"
)

// DefaultTimeout bounds a command when the caller sets none.
const DefaultTimeout = 60 * time.Second

// Tool runs shell commands on the host.
type Tool struct {
	// Dir is the working directory for commands; empty means inherited.
	Dir string
}

func (t *Tool) Name() string { return "run_shell" }

func (t *Tool) Description() string {
	return "Run a shell command and return its combined output and exit code."
}

func (t *Tool) DetailedHelp() string {
	return "run_shell executes the command with `sh -c` in the configured working directory. Long-running commands are killed at timeout_seconds (default 60). Output of the command is returned even when it exits non-zero."
}

// Serial marks shell execution as unsafe to parallelise with itself.
func (t *Tool) Serial() bool { return true }

type shellInput struct {
	Command        string `json:"command" jsonschema:"required,description=Shell command line to execute"`
	TimeoutSeconds int    `json:"timeout_seconds" jsonschema:"description=Kill the command after this many seconds"`
}

func (t *Tool) Schema() json.RawMessage {
	return tools.GenerateSchema[shellInput]()
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input shellInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	timeout := DefaultTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", input.Command)
	cmd.Dir = t.Dir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return tools.NewToolError(tools.ErrTimeout, t.Name(), "command timed out").
			WithRetry("retry with a larger timeout_seconds or a faster command").Result(), nil
	}
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return tools.NewToolError(tools.ErrPermanent, t.Name(), err.Error()).Result(), nil
		}
	}
	return tools.JSONResult(map[string]any{
		"exit_code": exitCode,
		"output":    output.String(),
	}), nil
}
