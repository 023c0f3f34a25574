// Package compaction keeps the message history sent to the LLM inside the
// endpoint's context window: fast token estimation, tool-call grouping, and
// summarising compression of the oldest groups.
package compaction

import (
	"unicode"

	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	// asciiBytesPerToken approximates tokenisation of ASCII text.
	asciiBytesPerToken = 4

	// perMessageOverhead accounts for role/framing tokens per message.
	perMessageOverhead = 4

	// mediaBlockTokens is the flat cost charged per media block; inline
	// data is not counted byte-for-byte since providers tokenise media
	// separately from text.
	mediaBlockTokens = 1000
)

// EstimateText estimates tokens for a text fragment: 1 token per 4 bytes
// of ASCII, 1 token per 1.5 CJK characters. Monotone in input length.
func EstimateText(s string) int {
	asciiBytes := 0
	cjkChars := 0
	for _, r := range s {
		if isCJK(r) {
			cjkChars++
		} else {
			asciiBytes += len(string(r))
		}
	}
	tokens := (asciiBytes + asciiBytesPerToken - 1) / asciiBytesPerToken
	// 1 token per 1.5 chars, i.e. 2 tokens per 3 chars, rounded up.
	tokens += (cjkChars*2 + 2) / 3
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// EstimateMessage estimates tokens for one message including the fixed
// per-message overhead.
func EstimateMessage(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	tokens := perMessageOverhead
	for _, block := range msg.Blocks {
		switch b := block.(type) {
		case models.TextBlock:
			tokens += EstimateText(b.Text)
		case models.ToolUseBlock:
			tokens += EstimateText(b.Name) + EstimateText(string(b.Input))
		case models.ToolResultBlock:
			tokens += EstimateText(b.Content)
		case models.ImageBlock, models.VideoBlock, models.AudioBlock, models.DocumentBlock:
			tokens += mediaBlockTokens
		}
	}
	return tokens
}

// EstimateMessages estimates total tokens across messages.
func EstimateMessages(messages []*models.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessage(msg)
	}
	return total
}
