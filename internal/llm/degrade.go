package llm

import (
	"github.com/haasonsaas/sidekick/pkg/models"
)

// degradePlaceholder returns the text substituted for a stripped block.
func degradePlaceholder(cap Capability) string {
	switch cap {
	case CapVision:
		return "[image omitted: endpoint unsupported]"
	case CapVideo:
		return "[video omitted: endpoint unsupported]"
	case CapAudio:
		return "[audio omitted: endpoint unsupported]"
	case CapPDF:
		return "[document omitted: endpoint unsupported]"
	}
	return "[content omitted: endpoint unsupported]"
}

func capForBlock(b models.ContentBlock) (Capability, bool) {
	switch b.(type) {
	case models.ImageBlock:
		return CapVision, true
	case models.VideoBlock:
		return CapVideo, true
	case models.AudioBlock:
		return CapAudio, true
	case models.DocumentBlock:
		return CapPDF, true
	}
	return "", false
}

// StripUnsupported returns a copy of messages with blocks needing any of
// the given capabilities replaced by text placeholders. The input is never
// mutated; untouched messages are shared.
func StripUnsupported(messages []*models.Message, strip CapabilitySet) []*models.Message {
	if len(strip) == 0 {
		return messages
	}
	out := make([]*models.Message, len(messages))
	for i, msg := range messages {
		needsEdit := false
		for _, b := range msg.Blocks {
			if c, ok := capForBlock(b); ok && strip[c] {
				needsEdit = true
				break
			}
		}
		if !needsEdit {
			out[i] = msg
			continue
		}
		clone := *msg
		clone.Blocks = make(models.BlockList, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			if c, ok := capForBlock(b); ok && strip[c] {
				clone.Blocks = append(clone.Blocks, models.TextBlock{Text: degradePlaceholder(c)})
				continue
			}
			clone.Blocks = append(clone.Blocks, b)
		}
		out[i] = &clone
	}
	return out
}
