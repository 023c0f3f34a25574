package providers

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/pkg/models"
)

func TestConvertOpenAIMessagesToolFlow(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Blocks: models.BlockList{models.TextBlock{Text: "read /tmp/x"}}},
		{Role: models.RoleAssistant, Blocks: models.BlockList{
			models.TextBlock{Text: "on it"},
			models.ToolUseBlock{ID: "c1", Name: "read_file", Input: json.RawMessage(`{"path":"/tmp/x"}`)},
		}},
		{Role: models.RoleTool, Blocks: models.BlockList{
			models.ToolResultBlock{ToolUseID: "c1", Content: "hello"},
		}},
	}

	out, err := convertOpenAIMessages(messages, "be helpful")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 messages (system + 3), got %d", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be helpful" {
		t.Errorf("system message = %+v", out[0])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "read_file" {
		t.Errorf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "c1" || out[3].Content != "hello" {
		t.Errorf("tool message = %+v", out[3])
	}
}

func TestConvertOpenAIMessagesImage(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Blocks: models.BlockList{
			models.TextBlock{Text: "what is this"},
			models.ImageBlock{Source: models.MediaSource{Kind: "base64", Data: "aGk=", MimeType: "image/png"}},
		}},
	}
	out, err := convertOpenAIMessages(messages, "")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 1 || len(out[0].MultiContent) != 2 {
		t.Fatalf("expected 1 message with 2 parts, got %+v", out)
	}
	img := out[0].MultiContent[1]
	if img.Type != openai.ChatMessagePartTypeImageURL {
		t.Fatalf("part type = %q", img.Type)
	}
	if !strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image url = %q", img.ImageURL.URL)
	}
}

func TestConvertAnthropicMessagesSkipsEmpty(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Blocks: models.BlockList{}},
		{Role: models.RoleUser, Blocks: models.BlockList{models.TextBlock{Text: "hi"}}},
	}
	out, err := convertAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected empty message dropped, got %d messages", len(out))
	}
}

func TestConvertAnthropicMessagesBadToolInput(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleAssistant, Blocks: models.BlockList{
			models.ToolUseBlock{ID: "c1", Name: "x", Input: json.RawMessage(`not json`)},
		}},
	}
	if _, err := convertAnthropicMessages(messages); err == nil {
		t.Fatal("expected error for invalid tool input")
	}
}

func TestConvertGeminiTools(t *testing.T) {
	tools := []llm.ToolDef{{
		Name:        "read_file",
		Description: "Read a file",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"file path"}},"required":["path"]}`),
	}}
	out := convertGeminiTools(tools)
	if len(out) != 1 || len(out[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected tool conversion: %+v", out)
	}
	decl := out[0].FunctionDeclarations[0]
	if decl.Name != "read_file" {
		t.Errorf("name = %q", decl.Name)
	}
	if decl.Parameters == nil || decl.Parameters.Properties["path"] == nil {
		t.Fatalf("schema not converted: %+v", decl.Parameters)
	}
	if got := decl.Parameters.Required; len(got) != 1 || got[0] != "path" {
		t.Errorf("required = %v", got)
	}
}

func TestGeminiToolNameFromID(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleAssistant, Blocks: models.BlockList{
			models.ToolUseBlock{ID: "c1", Name: "web_search", Input: json.RawMessage(`{}`)},
		}},
	}
	if got := toolNameFromID("c1", messages); got != "web_search" {
		t.Errorf("lookup by message = %q", got)
	}
	if got := toolNameFromID("call_run_shell_12345", nil); got != "run_shell" {
		t.Errorf("lookup by id format = %q", got)
	}
}
