package compaction

import (
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Group is the atomic unit of inclusion or elision: an assistant message
// carrying tool-use blocks glued to the tool message(s) answering it, or a
// single message otherwise. Compression never splits a group, so a
// tool_use can never survive without its tool_result.
type Group struct {
	Messages []*models.Message
}

// Tokens estimates the group's total token cost.
func (g Group) Tokens() int {
	return EstimateMessages(g.Messages)
}

// GroupMessages partitions messages into groups in order. Tool messages
// directly following an assistant message with tool calls join its group;
// orphaned tool messages fall into their own group rather than being
// dropped.
func GroupMessages(messages []*models.Message) []Group {
	var groups []Group
	i := 0
	for i < len(messages) {
		msg := messages[i]
		group := Group{Messages: []*models.Message{msg}}
		i++
		if msg.Role == models.RoleAssistant && msg.HasToolCalls() {
			for i < len(messages) && messages[i].Role == models.RoleTool {
				group.Messages = append(group.Messages, messages[i])
				i++
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// Flatten joins groups back into a message list.
func Flatten(groups []Group) []*models.Message {
	var out []*models.Message
	for _, g := range groups {
		out = append(out, g.Messages...)
	}
	return out
}
