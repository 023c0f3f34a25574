// Package prompt composes the system prompt from labelled sections under
// per-section token budgets. The budget contract is observational: going
// over budget logs a warning and sets a report flag, but content is still
// emitted, so enforcement can be added later without changing call sites.
package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/haasonsaas/sidekick/internal/compaction"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const relatedMemoryLimit = 8

// defaultIdentity is used when no identity file is configured.
const defaultIdentity = "You are a capable personal assistant. You are direct, honest and concise. You use tools when they help and answer from knowledge when they do not."

// defaultBehaviours is used when no behaviours file is configured.
const defaultBehaviours = "Prefer acting over asking when the request is unambiguous. Report tool failures plainly. Never invent tool output."

// MemorySource supplies the memory section.
type MemorySource interface {
	Core() (string, error)
	Search(ctx context.Context, query string, limit int) ([]models.MemorySearchResult, error)
}

// CatalogSource supplies the tooling sections.
type CatalogSource interface {
	// ToolingInstructions describes how to call tools, including the
	// generic dispatcher.
	ToolingInstructions() string
	// CatalogSynopsis lists every catalog tool as one line each.
	CatalogSynopsis() string
}

// Input carries the per-turn dynamic parts of the prompt.
type Input struct {
	// Query is the current user message, used for memory retrieval.
	Query string
	// UserProfile is a short description of who the user is.
	UserProfile string
	// PlanStatus is the active plan rendering, empty when no plan.
	PlanStatus string
	// PersonaHints are optional style/persona notes.
	PersonaHints string
}

// SectionReport is the estimate for one emitted section.
type SectionReport struct {
	Name       string `json:"name"`
	Tokens     int    `json:"tokens"`
	Budget     int    `json:"budget"` // 0 = unbudgeted
	OverBudget bool   `json:"over_budget"`
}

// Report carries per-section estimates and the total.
type Report struct {
	Sections    []SectionReport `json:"sections"`
	TotalTokens int             `json:"total_tokens"`
	TotalBudget int             `json:"total_budget"`
	OverBudget  bool            `json:"over_budget"`
}

// Assembler builds system prompts.
type Assembler struct {
	cfg     config.PromptConfig
	memory  MemorySource
	catalog CatalogSource
}

// NewAssembler builds an Assembler. memory and catalog may be nil; their
// sections are then omitted.
func NewAssembler(cfg config.PromptConfig, memory MemorySource, catalog CatalogSource) *Assembler {
	return &Assembler{cfg: cfg, memory: memory, catalog: catalog}
}

type section struct {
	name    string
	content string
	budget  int
}

// Assemble composes the system prompt for one turn.
func (a *Assembler) Assemble(ctx context.Context, in Input) (string, *Report, error) {
	sections := []section{
		{name: "identity", content: a.identity(), budget: a.cfg.IdentityBudget},
		{name: "behaviours", content: a.behaviours()},
	}
	if a.catalog != nil {
		sections = append(sections, section{name: "tooling", content: a.catalog.ToolingInstructions()})
	}
	if in.UserProfile != "" {
		sections = append(sections, section{name: "user", content: in.UserProfile, budget: a.cfg.UserBudget})
	}
	memorySection, err := a.memorySection(ctx, in.Query)
	if err != nil {
		return "", nil, err
	}
	if memorySection != "" {
		sections = append(sections, section{name: "memory", content: memorySection, budget: a.cfg.MemoryBudget})
	}
	if in.PlanStatus != "" {
		sections = append(sections, section{name: "plan", content: in.PlanStatus})
	}
	if in.PersonaHints != "" {
		sections = append(sections, section{name: "persona", content: in.PersonaHints})
	}
	if a.catalog != nil {
		if synopsis := a.catalog.CatalogSynopsis(); synopsis != "" {
			sections = append(sections, section{name: "catalog", content: synopsis, budget: a.cfg.CatalogBudget})
		}
	}

	var sb strings.Builder
	report := &Report{TotalBudget: a.cfg.TotalBudget}
	for _, sec := range sections {
		if strings.TrimSpace(sec.content) == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", sec.name, strings.TrimSpace(sec.content))
		tokens := compaction.EstimateText(sec.content)
		over := sec.budget > 0 && tokens > sec.budget
		if over {
			slog.Warn("prompt section over budget",
				"section", sec.name, "tokens", tokens, "budget", sec.budget)
		}
		report.Sections = append(report.Sections, SectionReport{
			Name: sec.name, Tokens: tokens, Budget: sec.budget, OverBudget: over,
		})
		report.TotalTokens += tokens
	}
	if report.TotalBudget > 0 && report.TotalTokens > report.TotalBudget {
		report.OverBudget = true
		slog.Warn("prompt over total budget",
			"tokens", report.TotalTokens, "budget", report.TotalBudget)
	}
	return strings.TrimSpace(sb.String()), report, nil
}

func (a *Assembler) identity() string {
	return readOr(a.cfg.IdentityFile, defaultIdentity)
}

func (a *Assembler) behaviours() string {
	return readOr(a.cfg.BehavioursFile, defaultBehaviours)
}

func readOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("prompt source unreadable, using default", "path", path, "error", err)
		return fallback
	}
	return string(data)
}

// memorySection renders the core memory file followed by entries related
// to the query, ordered by importance (the store's search order).
func (a *Assembler) memorySection(ctx context.Context, query string) (string, error) {
	if a.memory == nil {
		return "", nil
	}
	var sb strings.Builder
	core, err := a.memory.Core()
	if err != nil {
		return "", fmt.Errorf("read core memory: %w", err)
	}
	if strings.TrimSpace(core) != "" {
		sb.WriteString(strings.TrimSpace(core))
		sb.WriteString("\n")
	}
	if strings.TrimSpace(query) != "" {
		results, err := a.memory.Search(ctx, query, relatedMemoryLimit)
		if err != nil {
			return "", fmt.Errorf("search memory: %w", err)
		}
		seen := map[string]bool{}
		for _, r := range results {
			line := strings.TrimSpace(r.Entry.Content)
			if line == "" || seen[line] {
				continue
			}
			seen[line] = true
			fmt.Fprintf(&sb, "- [%s] %s\n", r.Entry.Type, line)
		}
	}
	return sb.String(), nil
}
