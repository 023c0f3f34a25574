package models

// StreamEventType discriminates the events emitted by a running task.
type StreamEventType string

const (
	EventIterationStart StreamEventType = "iteration_start"
	EventTextDelta      StreamEventType = "text_delta"
	EventThinkingDelta  StreamEventType = "thinking_delta"
	EventToolCallStart  StreamEventType = "tool_call_start"
	EventDone           StreamEventType = "done"
	EventError          StreamEventType = "error"
)

// Usage is the token accounting reported on the terminal done event.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamEvent is one element of the ordered event stream a task emits to
// the transport layer. Events from iteration N precede iteration N+1;
// done and error are terminal.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Iteration int             `json:"iteration,omitempty"`
	Text      string          `json:"text,omitempty"`
	ToolCall  *ToolCall       `json:"tool_call,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Err       error           `json:"-"`
}
