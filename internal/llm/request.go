package llm

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// ToolDef is the model-facing description of a callable tool.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is one chat invocation. Messages are the bounded history; System
// is the assembled system prompt. Avoid lists endpoint names the caller
// wants skipped (used by the engine when rotating models after repeated
// failures).
type Request struct {
	Messages  []*models.Message
	System    string
	Tools     []ToolDef
	Thinking  bool
	MaxTokens int
	Avoid     []string
}

// Chunk is one streamed fragment from a dialect. Exactly one terminal
// chunk is sent: either Done=true or Err non-nil. Token counts arrive on
// whichever chunks the wire reports them.
type Chunk struct {
	Text         string
	Thinking     string
	ToolCall     *models.ToolCall
	InputTokens  int
	OutputTokens int
	Done         bool
	Err          error
}

// Response is the collected result of a chat call.
type Response struct {
	Message  *models.Message // assistant message: text + tool_use blocks in emit order
	Thinking string
	Usage    models.Usage
	Endpoint string
}

// StreamFunc receives chunks as they arrive, before the response is
// assembled. May be nil when the caller only wants the final response.
type StreamFunc func(*Chunk)

// Dialect converts between the internal message model and one provider
// wire protocol. Implementations live in internal/llm/providers.
type Dialect interface {
	// Protocol returns the wire protocol slug this dialect speaks.
	Protocol() string
	// Complete invokes the endpoint and streams response chunks. The
	// returned channel is closed after the terminal chunk.
	Complete(ctx context.Context, ep *Endpoint, req *Request) (<-chan *Chunk, error)
}
