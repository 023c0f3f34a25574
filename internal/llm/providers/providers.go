package providers

import (
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
)

// Dialects returns the full dialect map keyed by wire protocol.
func Dialects() map[config.Protocol]llm.Dialect {
	return map[config.Protocol]llm.Dialect{
		config.ProtocolAnthropic: NewAnthropicDialect(),
		config.ProtocolOpenAI:    NewOpenAIDialect(),
		config.ProtocolGemini:    NewGeminiDialect(),
	}
}
