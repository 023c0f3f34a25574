// Package providers implements the wire dialects the LLM client speaks:
// Anthropic content arrays, OpenAI chat completions and Gemini contents.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

const defaultMaxTokens = 4096

// AnthropicDialect speaks the Anthropic messages API.
type AnthropicDialect struct{}

// NewAnthropicDialect returns the Anthropic wire dialect.
func NewAnthropicDialect() *AnthropicDialect { return &AnthropicDialect{} }

// Protocol implements llm.Dialect.
func (d *AnthropicDialect) Protocol() string { return "anthropic" }

// Complete implements llm.Dialect.
func (d *AnthropicDialect) Complete(ctx context.Context, ep *llm.Endpoint, req *llm.Request) (<-chan *llm.Chunk, error) {
	opts := []option.RequestOption{option.WithAPIKey(ep.APIKey)}
	if ep.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ep.BaseURL))
	}
	if ep.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(ep.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(ep.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}

	stream := client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *llm.Chunk, 64)
	go func() {
		defer close(chunks)
		processAnthropicStream(stream, chunks, ep)
	}()
	return chunks, nil
}

func processAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *llm.Chunk, ep *llm.Endpoint) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEventCount := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &llm.Chunk{Text: delta.Text}
					eventProcessed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &llm.Chunk{Thinking: delta.Thinking}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				chunks <- &llm.Chunk{ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &llm.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &llm.Chunk{Err: &llm.EndpointError{
				Kind:     llm.FailureServer,
				Endpoint: ep.Name,
				Model:    ep.Model,
				Message:  "stream error event",
				Cause:    errors.New("anthropic stream error"),
			}}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &llm.Chunk{Err: fmt.Errorf("anthropic: stream malformed: %d consecutive empty events", emptyEventCount)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &llm.Chunk{Err: fmt.Errorf("anthropic endpoint %s: %w", ep.Name, err)}
		return
	}
	// Stream ended without message_stop; still report what we saw.
	chunks <- &llm.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

// convertAnthropicMessages maps the internal block model onto Anthropic
// content arrays. Tool messages become user messages carrying tool_result
// blocks. Base64 images ride along; other media should already have been
// degraded by the client, but any stragglers become placeholder text so a
// request never fails on encoding.
func convertAnthropicMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Blocks {
			switch b := block.(type) {
			case models.TextBlock:
				if b.Text != "" {
					content = append(content, anthropic.NewTextBlock(b.Text))
				}
			case models.ToolResultBlock:
				content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			case models.ToolUseBlock:
				var input map[string]any
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", b.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(b.ID, input, b.Name))
			case models.ImageBlock:
				if b.Source.IsBase64() {
					content = append(content, anthropic.NewImageBlockBase64(b.Source.MimeType, b.Source.Data))
				} else {
					content = append(content, anthropic.NewTextBlock("[image omitted: inline data required]"))
				}
			case models.VideoBlock:
				content = append(content, anthropic.NewTextBlock("[video omitted: endpoint unsupported]"))
			case models.AudioBlock:
				content = append(content, anthropic.NewTextBlock("[audio omitted: endpoint unsupported]"))
			case models.DocumentBlock:
				content = append(content, anthropic.NewTextBlock("[document omitted: endpoint unsupported]"))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool roles both map to user messages.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []llm.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
