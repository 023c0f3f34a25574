package models

import (
	"time"
)

// MemoryType classifies a memory entry.
type MemoryType string

const (
	MemoryFact         MemoryType = "fact"
	MemoryPreference   MemoryType = "preference"
	MemoryRule         MemoryType = "rule"
	MemorySkill        MemoryType = "skill"
	MemoryPersonaTrait MemoryType = "persona_trait"
	MemoryContext      MemoryType = "context"
	MemoryError        MemoryType = "error"
)

// Dimensioned reports whether entries of this type are keyed by dimension,
// where only the newest entry per (type, dimension) survives.
func (t MemoryType) Dimensioned() bool {
	return t == MemoryPersonaTrait || t == MemoryContext
}

// MemoryPriority is the retention class of an entry.
type MemoryPriority string

const (
	PriorityTransient MemoryPriority = "transient"
	PriorityShortTerm MemoryPriority = "short_term"
	PriorityLongTerm  MemoryPriority = "long_term"
	PriorityPermanent MemoryPriority = "permanent"
)

// MemoryEntry is one remembered item.
type MemoryEntry struct {
	ID         string         `json:"id"`
	Type       MemoryType     `json:"type"`
	Content    string         `json:"content"`
	Importance float64        `json:"importance"` // 0..1
	Priority   MemoryPriority `json:"priority"`
	Tags       []string       `json:"tags,omitempty"`
	Dimension  string         `json:"dimension,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	AccessedAt time.Time      `json:"accessed_at"`
}

// MemorySearchResult pairs an entry with its retrieval score.
type MemorySearchResult struct {
	Entry *MemoryEntry `json:"entry"`
	Score float64      `json:"score"`
}
