package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// GeminiDialect speaks the Gemini generateContent API. Media is encoded as
// inline blobs (base64 sources) or file URIs; Gemini has no tool-call IDs,
// so synthetic ones are minted and resolved back by name.
type GeminiDialect struct{}

// NewGeminiDialect returns the Gemini wire dialect.
func NewGeminiDialect() *GeminiDialect { return &GeminiDialect{} }

// Protocol implements llm.Dialect.
func (d *GeminiDialect) Protocol() string { return "gemini" }

// Complete implements llm.Dialect.
func (d *GeminiDialect) Complete(ctx context.Context, ep *llm.Endpoint, req *llm.Request) (<-chan *llm.Chunk, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  ep.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini endpoint %s: %w", ep.Name, err)
	}

	contents, err := convertGeminiMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("gemini: convert messages: %w", err)
	}
	config := buildGeminiConfig(req)

	chunks := make(chan *llm.Chunk, 64)
	go func() {
		defer close(chunks)

		streamIter := client.Models.GenerateContentStream(ctx, ep.Model, contents, config)
		var inputTokens, outputTokens int
		for resp, err := range streamIter {
			select {
			case <-ctx.Done():
				chunks <- &llm.Chunk{Err: ctx.Err()}
				return
			default:
			}
			if err != nil {
				chunks <- &llm.Chunk{Err: fmt.Errorf("gemini endpoint %s: %w", ep.Name, err)}
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				inputTokens = int(resp.UsageMetadata.PromptTokenCount)
				outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						chunks <- &llm.Chunk{Text: part.Text}
					}
					if part.FunctionCall != nil {
						argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
						if jsonErr != nil {
							argsJSON = []byte("{}")
						}
						chunks <- &llm.Chunk{ToolCall: &models.ToolCall{
							ID:    geminiToolCallID(part.FunctionCall.Name),
							Name:  part.FunctionCall.Name,
							Input: argsJSON,
						}}
					}
				}
			}
		}
		chunks <- &llm.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()

	return chunks, nil
}

// geminiToolCallID mints a synthetic call ID carrying the tool name, so the
// name can be recovered when the matching result comes back.
func geminiToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

func toolNameFromID(toolCallID string, messages []*models.Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls() {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	// Fall back to the "call_<name>_<timestamp>" format.
	parts := strings.Split(toolCallID, "_")
	if len(parts) >= 3 {
		return strings.Join(parts[1:len(parts)-1], "_")
	}
	return ""
}

func convertGeminiMessages(messages []*models.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			// User and tool results both come from the user side.
			content.Role = genai.RoleUser
		}

		for _, block := range msg.Blocks {
			switch b := block.(type) {
			case models.TextBlock:
				if b.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				}
			case models.ImageBlock:
				content.Parts = append(content.Parts, mediaPart(b.Source))
			case models.VideoBlock:
				content.Parts = append(content.Parts, mediaPart(b.Source))
			case models.AudioBlock:
				content.Parts = append(content.Parts, mediaPart(b.Source))
			case models.DocumentBlock:
				content.Parts = append(content.Parts, mediaPart(b.Source))
			case models.ToolUseBlock:
				var args map[string]any
				if err := json.Unmarshal(b.Input, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: b.Name, Args: args},
				})
			case models.ToolResultBlock:
				var response map[string]any
				if err := json.Unmarshal([]byte(b.Content), &response); err != nil {
					response = map[string]any{"result": b.Content, "error": b.IsError}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     toolNameFromID(b.ToolUseID, messages),
						Response: response,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

// mediaPart encodes a media source as an inline blob or file reference.
func mediaPart(src models.MediaSource) *genai.Part {
	if src.IsBase64() {
		data, err := base64.StdEncoding.DecodeString(src.Data)
		if err != nil {
			return &genai.Part{Text: "[media omitted: invalid base64 data]"}
		}
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: src.MimeType}}
	}
	return &genai.Part{FileData: &genai.FileData{FileURI: src.URL, MIMEType: src.MimeType}}
}

func buildGeminiConfig(req *llm.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 && req.MaxTokens <= 1<<31-1 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
	}
	return config
}

func convertGeminiTools(tools []llm.ToolDef) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON Schema map to Gemini's Schema type.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}
