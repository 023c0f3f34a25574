package memory

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Service bundles the entry store, the core memory file and the optional
// vector index behind one facade for the agent, the prompt assembler and
// the memory tools.
type Service struct {
	store *Store
	core  *CoreMemory
}

// NewService wires up memory from configuration. A failing vector backend
// downgrades to keyword search with a warning rather than blocking
// startup.
func NewService(cfg config.MemoryConfig) (*Service, error) {
	var index Indexer
	if cfg.VectorEnabled {
		idx, err := NewChromemIndex(cfg)
		if err != nil {
			slog.Warn("vector memory unavailable, falling back to keyword search", "error", err)
		} else {
			index = idx
		}
	}
	store, err := NewStore(cfg.Path, index)
	if err != nil {
		return nil, err
	}
	return &Service{
		store: store,
		core:  NewCoreMemory(cfg.CoreFile, cfg.CoreFileCap),
	}, nil
}

// NewServiceWith builds a Service from preconstructed parts, used by
// tests.
func NewServiceWith(store *Store, core *CoreMemory) *Service {
	return &Service{store: store, core: core}
}

// Remember stores an entry, applying dedupe and dimension rules.
func (s *Service) Remember(ctx context.Context, entry *models.MemoryEntry) (*models.MemoryEntry, error) {
	return s.store.Add(ctx, entry)
}

// Forget removes an entry by ID.
func (s *Service) Forget(ctx context.Context, id string) error {
	return s.store.Forget(ctx, id)
}

// Search returns the most relevant entries for the query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.MemorySearchResult, error) {
	return s.store.Search(ctx, query, limit)
}

// List returns all entries, newest first.
func (s *Service) List() []*models.MemoryEntry {
	return s.store.List()
}

// Core returns the capped core memory file contents.
func (s *Service) Core() (string, error) {
	return s.core.Read()
}

// AppendCore adds a line to the core memory file.
func (s *Service) AppendCore(line string) error {
	return s.core.Append(line)
}
