package shell

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRunCommandCapturesOutputAndExitCode(t *testing.T) {
	tool := &Tool{}
	params, _ := json.Marshal(map[string]any{"command": "echo out; echo err >&2; exit 3"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("non-zero exit should still be a normal result: %s", result.Content)
	}
	var payload struct {
		ExitCode int    `json:"exit_code"`
		Output   string `json:"output"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.ExitCode != 3 {
		t.Fatalf("exit_code = %d", payload.ExitCode)
	}
	if !strings.Contains(payload.Output, "out") || !strings.Contains(payload.Output, "err") {
		t.Fatalf("output = %q", payload.Output)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	tool := &Tool{}
	params, _ := json.Marshal(map[string]any{"command": "sleep 5", "timeout_seconds": 1})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Content, "timeout") {
		t.Fatalf("result = %+v", result)
	}
}

func TestWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	tool := &Tool{Dir: dir}
	params, _ := json.Marshal(map[string]any{"command": "pwd"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Content, dir) {
		t.Fatalf("pwd output missing %s: %s", dir, result.Content)
	}
}

func TestSerial(t *testing.T) {
	if !(&Tool{}).Serial() {
		t.Fatal("shell tool must be serial")
	}
}
