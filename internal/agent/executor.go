package agent

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// TruncationMarker terminates a tool result cut at the size guard. It is
// stable so downstream consumers can detect truncation.
const TruncationMarker = "\n...[output truncated]"

const cancelledPayload = "operation cancelled by user"

// Executor dispatches one batch of tool calls. Results come back in input
// order regardless of completion order. Parallelism is bounded; tools
// that declare a serialization requirement never overlap each other.
type Executor struct {
	registry       *tools.Registry
	parallelism    int
	timeout        time.Duration
	maxResultBytes int
}

// NewExecutor builds an Executor over the registry. Zero values fall back
// to sequential execution, a 120s per-call timeout and a 200KB result
// guard.
func NewExecutor(registry *tools.Registry, parallelism int, timeout time.Duration, maxResultBytes int) *Executor {
	if parallelism <= 0 {
		parallelism = 1
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxResultBytes <= 0 {
		maxResultBytes = 200 * 1024
	}
	return &Executor{
		registry:       registry,
		parallelism:    parallelism,
		timeout:        timeout,
		maxResultBytes: maxResultBytes,
	}
}

// ExecuteBatch runs the calls, polling signals before each dispatch. Once
// cancel is observed, remaining calls get a substituted "cancelled"
// result instead of executing.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, signals *Signals) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	if e.parallelism == 1 {
		for i, call := range calls {
			if cancelled(ctx, signals) {
				results[i] = models.ToolResult{ToolCallID: call.ID, Content: cancelledPayload, IsError: true}
				continue
			}
			results[i] = e.runOne(ctx, call)
		}
		return results
	}

	sem := make(chan struct{}, e.parallelism)
	var serialMu sync.Mutex
	var wg sync.WaitGroup
	for i, call := range calls {
		if cancelled(ctx, signals) {
			results[i] = models.ToolResult{ToolCallID: call.ID, Content: cancelledPayload, IsError: true}
			continue
		}
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolResult{ToolCallID: call.ID, Content: cancelledPayload, IsError: true}
				return
			}
			if cancelled(ctx, signals) {
				results[idx] = models.ToolResult{ToolCallID: call.ID, Content: cancelledPayload, IsError: true}
				return
			}
			if e.registry.IsSerial(call.Name) {
				serialMu.Lock()
				defer serialMu.Unlock()
			}
			results[idx] = e.runOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func cancelled(ctx context.Context, signals *Signals) bool {
	if ctx.Err() != nil {
		return true
	}
	if signals == nil {
		return false
	}
	_, is := signals.Cancelled()
	return is
}

// runOne executes a single call with the per-call timeout and the result
// size guard. Registry failures surface as is_error results, never as
// panics or Go errors into the loop.
func (e *Executor) runOne(ctx context.Context, call models.ToolCall) models.ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := e.registry.Execute(callCtx, call.Name, call.Input)
	elapsed := time.Since(start)
	observability.ToolExecutionDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())

	out := models.ToolResult{ToolCallID: call.ID}
	switch {
	case err != nil:
		out.Content = err.Error()
		out.IsError = true
	case result == nil:
		out.Content = "tool returned no result"
		out.IsError = true
	default:
		out.Content = result.Content
		out.IsError = result.IsError
	}
	if ctx.Err() != nil {
		out.Content = cancelledPayload
		out.IsError = true
	}
	out.Content = Truncate(out.Content, e.maxResultBytes)

	status := "ok"
	if out.IsError {
		status = "error"
	}
	observability.ToolExecutions.WithLabelValues(call.Name, status).Inc()
	return out
}

// Truncate cuts s at max bytes, appending the stable truncation marker.
// The cut backs up to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
