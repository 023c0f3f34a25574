package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	// DefaultSafetyMargin is the fraction of the context window kept free
	// when deciding whether to compress.
	DefaultSafetyMargin = 0.15

	// DefaultKeepRecentGroups is how many trailing groups always stay
	// verbatim.
	DefaultKeepRecentGroups = 6

	// summaryPrefix marks the synthetic assistant note replacing elided
	// groups. Compression recognises it for idempotence.
	summaryPrefix = "Summary of earlier conversation: "
)

// Summarizer produces a prose summary of a message span. The production
// implementation calls the compiler endpoint pool.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// Manager bounds a message history to an endpoint context window.
type Manager struct {
	summarizer Summarizer
	keepRecent int
	margin     float64
}

// NewManager builds a Manager. keepRecent <= 0 and margin <= 0 fall back
// to the defaults.
func NewManager(summarizer Summarizer, keepRecent int, margin float64) *Manager {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecentGroups
	}
	if margin <= 0 || margin >= 1 {
		margin = DefaultSafetyMargin
	}
	return &Manager{summarizer: summarizer, keepRecent: keepRecent, margin: margin}
}

// Budget returns the token threshold for a context window.
func (m *Manager) Budget(contextWindow int) int {
	return int(float64(contextWindow) * (1 - m.margin))
}

// Compress returns a message list fitting the context window. Below
// threshold it returns the input unchanged, which makes repeated passes
// idempotent. Otherwise the oldest complete groups are replaced in-place
// by a single synthetic assistant note; the most recent groups stay
// verbatim. Message order is never changed.
func (m *Manager) Compress(ctx context.Context, messages []*models.Message, contextWindow int) ([]*models.Message, error) {
	budget := m.Budget(contextWindow)
	if EstimateMessages(messages) <= budget {
		return messages, nil
	}

	groups := GroupMessages(messages)
	if len(groups) <= m.keepRecent {
		// Nothing old enough to elide; send as-is and let the endpoint
		// reject it if it truly cannot fit.
		slog.Warn("history over budget but too few groups to compress",
			"groups", len(groups), "budget", budget)
		return messages, nil
	}

	cut := len(groups) - m.keepRecent
	oldMessages := Flatten(groups[:cut])
	kept := Flatten(groups[cut:])

	if m.summarizer == nil {
		return nil, fmt.Errorf("history over budget and no summarizer configured")
	}
	summary, err := m.summarizer.Summarize(ctx, oldMessages)
	if err != nil {
		return nil, fmt.Errorf("summarise history: %w", err)
	}

	observability.CompressionPasses.Inc()
	note := models.NewAssistantText(summaryPrefix + summary)
	out := make([]*models.Message, 0, len(kept)+1)
	out = append(out, note)
	out = append(out, kept...)
	slog.Info("compressed history",
		"elided_groups", cut, "kept_groups", m.keepRecent,
		"tokens_before", EstimateMessages(messages), "tokens_after", EstimateMessages(out))
	return out, nil
}

// FormatForSummary renders messages as a plain transcript for the
// summarising model.
func FormatForSummary(messages []*models.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		for _, block := range msg.Blocks {
			switch b := block.(type) {
			case models.TextBlock:
				sb.WriteString(b.Text)
			case models.ToolUseBlock:
				fmt.Fprintf(&sb, "[called %s(%s)]", b.Name, truncate(string(b.Input), 200))
			case models.ToolResultBlock:
				fmt.Fprintf(&sb, "[result: %s]", truncate(b.Content, 400))
			case models.ImageBlock:
				sb.WriteString("[image]")
			case models.VideoBlock:
				sb.WriteString("[video]")
			case models.AudioBlock:
				sb.WriteString("[audio]")
			case models.DocumentBlock:
				sb.WriteString("[document]")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

const summarizerSystem = "You compress conversation history. Produce a concise summary that preserves facts, decisions, open questions and tool outcomes, in chronological order. Output only the summary."

// LLMSummarizer summarises via an endpoint pool (normally the compiler
// pool).
type LLMSummarizer struct {
	client *llm.Client
}

// NewLLMSummarizer builds a Summarizer over the given client.
func NewLLMSummarizer(client *llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []*models.Message) (string, error) {
	req := &llm.Request{
		Messages: []*models.Message{models.NewUserText(FormatForSummary(messages))},
		System:   summarizerSystem,
	}
	resp, err := s.client.Chat(ctx, req, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Text())
	if text == "" {
		return "", fmt.Errorf("summarizer returned empty content")
	}
	return text, nil
}
