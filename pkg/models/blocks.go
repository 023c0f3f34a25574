package models

import (
	"encoding/json"
	"fmt"
)

// BlockType discriminates the content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockVideo      BlockType = "video"
	BlockAudio      BlockType = "audio"
	BlockDocument   BlockType = "document"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is the closed set of message content variants. Converters
// (wire dialects, the prompt assembler, the context manager) switch on the
// concrete type; adding a variant requires touching each of them.
type ContentBlock interface {
	BlockType() BlockType
}

// MediaSource locates media content either inline (base64) or by URL.
type MediaSource struct {
	Kind     string `json:"kind"` // "base64" or "url"
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// IsBase64 reports whether the source carries inline data.
func (s MediaSource) IsBase64() bool { return s.Kind == "base64" }

// TextBlock is plain text content.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) BlockType() BlockType { return BlockText }

// ImageBlock is an image attachment.
type ImageBlock struct {
	Source MediaSource `json:"source"`
}

func (ImageBlock) BlockType() BlockType { return BlockImage }

// VideoBlock is a video attachment.
type VideoBlock struct {
	Source MediaSource `json:"source"`
}

func (VideoBlock) BlockType() BlockType { return BlockVideo }

// AudioBlock is an audio attachment.
type AudioBlock struct {
	Source MediaSource `json:"source"`
}

func (AudioBlock) BlockType() BlockType { return BlockAudio }

// DocumentBlock is a document attachment (PDF and friends).
type DocumentBlock struct {
	Source   MediaSource `json:"source"`
	Filename string      `json:"filename,omitempty"`
}

func (DocumentBlock) BlockType() BlockType { return BlockDocument }

// ToolUseBlock is the model's request to invoke a tool.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (ToolUseBlock) BlockType() BlockType { return BlockToolUse }

// ToolResultBlock carries the observed result for a prior tool use.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) BlockType() BlockType { return BlockToolResult }

// BlockList is a JSON-serialisable ordered list of content blocks. Each
// element is encoded as an envelope carrying a "type" tag.
type BlockList []ContentBlock

type blockEnvelope struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	Source   *MediaSource `json:"source,omitempty"`
	Filename string       `json:"filename,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (bl BlockList) MarshalJSON() ([]byte, error) {
	envs := make([]blockEnvelope, 0, len(bl))
	for _, b := range bl {
		env := blockEnvelope{Type: b.BlockType()}
		switch v := b.(type) {
		case TextBlock:
			env.Text = v.Text
		case ImageBlock:
			src := v.Source
			env.Source = &src
		case VideoBlock:
			src := v.Source
			env.Source = &src
		case AudioBlock:
			src := v.Source
			env.Source = &src
		case DocumentBlock:
			src := v.Source
			env.Source = &src
			env.Filename = v.Filename
		case ToolUseBlock:
			env.ID = v.ID
			env.Name = v.Name
			env.Input = v.Input
		case ToolResultBlock:
			env.ToolUseID = v.ToolUseID
			env.Content = v.Content
			env.IsError = v.IsError
		default:
			return nil, fmt.Errorf("unknown content block type %T", b)
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (bl *BlockList) UnmarshalJSON(data []byte) error {
	var envs []blockEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	out := make(BlockList, 0, len(envs))
	for _, env := range envs {
		var src MediaSource
		if env.Source != nil {
			src = *env.Source
		}
		switch env.Type {
		case BlockText:
			out = append(out, TextBlock{Text: env.Text})
		case BlockImage:
			out = append(out, ImageBlock{Source: src})
		case BlockVideo:
			out = append(out, VideoBlock{Source: src})
		case BlockAudio:
			out = append(out, AudioBlock{Source: src})
		case BlockDocument:
			out = append(out, DocumentBlock{Source: src, Filename: env.Filename})
		case BlockToolUse:
			out = append(out, ToolUseBlock{ID: env.ID, Name: env.Name, Input: env.Input})
		case BlockToolResult:
			out = append(out, ToolResultBlock{ToolUseID: env.ToolUseID, Content: env.Content, IsError: env.IsError})
		default:
			return fmt.Errorf("unknown content block type %q", env.Type)
		}
	}
	*bl = out
	return nil
}
