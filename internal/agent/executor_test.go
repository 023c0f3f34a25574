package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

type stubTool struct {
	name    string
	serial  bool
	delay   time.Duration
	active  atomic.Int32
	overlap atomic.Bool
	calls   atomic.Int32
	payload string
}

func (s *stubTool) Name() string            { return s.name }
func (s *stubTool) Description() string     { return "stub " + s.name }
func (s *stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Serial() bool            { return s.serial }

func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	s.calls.Add(1)
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	payload := s.payload
	if payload == "" {
		payload = "ok:" + string(params)
	}
	return &tools.ToolResult{Content: payload}, nil
}

func newStubRegistry(t *testing.T, stubs ...*stubTool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, s := range stubs {
		if err := r.RegisterDirect(s); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func call(id, name, args string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(args)}
}

func TestBatchPreservesInputOrder(t *testing.T) {
	slow := &stubTool{name: "slow", delay: 80 * time.Millisecond, payload: "slow done"}
	fast := &stubTool{name: "fast", payload: "fast done"}
	exec := NewExecutor(newStubRegistry(t, slow, fast), 4, time.Second, 0)

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		call("a", "slow", `{}`),
		call("b", "fast", `{}`),
	}, NewSignals())

	if results[0].ToolCallID != "a" || results[0].Content != "slow done" {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if results[1].ToolCallID != "b" || results[1].Content != "fast done" {
		t.Fatalf("results[1] = %+v", results[1])
	}
}

func TestParallelBatchOverlaps(t *testing.T) {
	sleepy := &stubTool{name: "sleepy", delay: 100 * time.Millisecond}
	exec := NewExecutor(newStubRegistry(t, sleepy), 4, time.Second, 0)

	start := time.Now()
	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		call("a", "sleepy", `{"n":1}`),
		call("b", "sleepy", `{"n":2}`),
	}, NewSignals())
	elapsed := time.Since(start)

	if elapsed > 180*time.Millisecond {
		t.Fatalf("parallel batch took %v, want overlap", elapsed)
	}
	for i, r := range results {
		if r.IsError {
			t.Fatalf("results[%d] = %+v", i, r)
		}
	}
}

func TestSerialToolNeverOverlaps(t *testing.T) {
	serial := &stubTool{name: "careful", serial: true, delay: 30 * time.Millisecond}
	exec := NewExecutor(newStubRegistry(t, serial), 8, time.Second, 0)

	var calls []models.ToolCall
	for i := 0; i < 6; i++ {
		calls = append(calls, call(fmt.Sprintf("c%d", i), "careful", `{}`))
	}
	exec.ExecuteBatch(context.Background(), calls, NewSignals())
	if serial.overlap.Load() {
		t.Fatal("serial tool executed concurrently with itself")
	}
}

func TestCancelSubstitutesRemainingCalls(t *testing.T) {
	tool := &stubTool{name: "work"}
	exec := NewExecutor(newStubRegistry(t, tool), 1, time.Second, 0)

	sig := NewSignals()
	sig.Cancel("stop")
	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		call("a", "work", `{}`),
		call("b", "work", `{}`),
	}, sig)

	if tool.calls.Load() != 0 {
		t.Fatalf("tools executed after cancel: %d", tool.calls.Load())
	}
	for i, r := range results {
		if !r.IsError || r.Content != "operation cancelled by user" {
			t.Fatalf("results[%d] = %+v", i, r)
		}
	}
}

func TestUnknownToolIsErrorResult(t *testing.T) {
	exec := NewExecutor(newStubRegistry(t), 1, time.Second, 0)
	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		call("a", "ghost", `{}`),
	}, NewSignals())
	if !results[0].IsError || !strings.Contains(results[0].Content, "resource_not_found") {
		t.Fatalf("results[0] = %+v", results[0])
	}
}

func TestResultTruncation(t *testing.T) {
	big := &stubTool{name: "big", payload: strings.Repeat("x", 600)}
	exec := NewExecutor(newStubRegistry(t, big), 1, time.Second, 500)
	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		call("a", "big", `{}`),
	}, NewSignals())
	if !strings.HasSuffix(results[0].Content, TruncationMarker) {
		t.Fatalf("missing truncation marker: ...%s", results[0].Content[len(results[0].Content)-40:])
	}
	if len(results[0].Content) != 500+len(TruncationMarker) {
		t.Fatalf("len = %d", len(results[0].Content))
	}
}

func TestTruncateIsStable(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc"+TruncationMarker {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// A cut of 4 bytes lands mid-rune; the boundary backs up to 3.
	if got := Truncate("日本語", 4); got != "日"+TruncationMarker {
		t.Fatalf("got %q", got)
	}
	for max := 1; max < 9; max++ {
		if got := Truncate("日本語", max); !utf8.ValidString(got) {
			t.Fatalf("Truncate(%d) produced invalid UTF-8: %q", max, got)
		}
	}
}
