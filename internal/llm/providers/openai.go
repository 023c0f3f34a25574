package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// OpenAIDialect speaks the OpenAI chat completions API. It also covers
// OpenAI-compatible endpoints (configurable base URL).
type OpenAIDialect struct{}

// NewOpenAIDialect returns the OpenAI wire dialect.
func NewOpenAIDialect() *OpenAIDialect { return &OpenAIDialect{} }

// Protocol implements llm.Dialect.
func (d *OpenAIDialect) Protocol() string { return "openai" }

// Complete implements llm.Dialect.
func (d *OpenAIDialect) Complete(ctx context.Context, ep *llm.Endpoint, req *llm.Request) (<-chan *llm.Chunk, error) {
	cfg := openai.DefaultConfig(ep.APIKey)
	if ep.BaseURL != "" {
		cfg.BaseURL = ep.BaseURL
	}
	if ep.HTTPClient != nil {
		cfg.HTTPClient = ep.HTTPClient
	}
	client := openai.NewClientWithConfig(cfg)

	messages, err := convertOpenAIMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    ep.Model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai endpoint %s: %w", ep.Name, err)
	}

	chunks := make(chan *llm.Chunk, 64)
	go processOpenAIStream(ctx, stream, chunks)
	return chunks, nil
}

// processOpenAIStream consumes the SSE stream, emitting text deltas as they
// arrive and accumulating tool-call fragments by index until the finish
// reason flushes them.
func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *llm.Chunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var usage *llm.Chunk

	flushToolCalls := func() {
		indices := make([]int, 0, len(toolCalls))
		for idx := range toolCalls {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			tc := toolCalls[idx]
			if tc.ID != "" && tc.Name != "" {
				if len(tc.Input) == 0 {
					tc.Input = json.RawMessage("{}")
				}
				chunks <- &llm.Chunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &llm.Chunk{Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushToolCalls()
				done := &llm.Chunk{Done: true}
				if usage != nil {
					done.InputTokens = usage.InputTokens
					done.OutputTokens = usage.OutputTokens
				}
				chunks <- done
				return
			}
			chunks <- &llm.Chunk{Err: err}
			return
		}

		if response.Usage != nil {
			usage = &llm.Chunk{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &llm.Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				args := string(toolCalls[index].Input) + tc.Function.Arguments
				toolCalls[index].Input = json.RawMessage(args)
			}
		}

		if response.Choices[0].FinishReason == "tool_calls" {
			flushToolCalls()
		}
	}
}

// convertOpenAIMessages maps the internal block model onto OpenAI chat
// messages. The system prompt is injected as the leading message; each
// tool-result block becomes its own role "tool" message linked by
// tool_call_id; images ride in MultiContent parts.
func convertOpenAIMessages(messages []*models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleTool {
			for _, tr := range msg.ToolResults() {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		oaiMsg := openai.ChatCompletionMessage{Role: role}

		var parts []openai.ChatMessagePart
		hasMedia := false
		for _, block := range msg.Blocks {
			switch b := block.(type) {
			case models.TextBlock:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: b.Text,
				})
			case models.ImageBlock:
				url := b.Source.URL
				if b.Source.IsBase64() {
					url = fmt.Sprintf("data:%s;base64,%s", b.Source.MimeType, b.Source.Data)
				}
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    url,
						Detail: openai.ImageURLDetailAuto,
					},
				})
				hasMedia = true
			case models.VideoBlock:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: "[video omitted: endpoint unsupported]",
				})
			case models.AudioBlock:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: "[audio omitted: endpoint unsupported]",
				})
			case models.DocumentBlock:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: "[document omitted: endpoint unsupported]",
				})
			case models.ToolUseBlock:
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   b.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			}
		}

		// MultiContent is only needed for media; plain text keeps the
		// simple string form for broader compatibility.
		if hasMedia {
			oaiMsg.MultiContent = parts
		} else {
			text := msg.Text()
			if text == "" && len(oaiMsg.ToolCalls) == 0 {
				continue
			}
			oaiMsg.Content = text
		}
		result = append(result, oaiMsg)
	}
	return result, nil
}

func convertOpenAITools(tools []llm.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object"}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
