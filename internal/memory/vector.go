package memory

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const memoryCollection = "memories"

// ChromemIndex is a vector Indexer backed by an embedded chromem-go
// database with an OpenAI-compatible embedding endpoint.
type ChromemIndex struct {
	db  *chromem.DB
	col *chromem.Collection
}

// NewChromemIndex opens (or creates) the persistent vector database for
// the configured embedding endpoint.
func NewChromemIndex(cfg config.MemoryConfig) (*ChromemIndex, error) {
	if cfg.EmbeddingBase == "" || cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("vector memory requires embedding_base and embedding_model")
	}
	db, err := chromem.NewPersistentDB(cfg.VectorPath, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	embed := chromem.NewEmbeddingFuncOpenAICompat(cfg.EmbeddingBase, cfg.EmbeddingKey, cfg.EmbeddingModel, nil)
	col, err := db.GetOrCreateCollection(memoryCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}
	return &ChromemIndex{db: db, col: col}, nil
}

// Add embeds and stores the entry.
func (c *ChromemIndex) Add(ctx context.Context, entry *models.MemoryEntry) error {
	doc := chromem.Document{
		ID:      entry.ID,
		Content: entry.Content,
		Metadata: map[string]string{
			"type":       string(entry.Type),
			"priority":   string(entry.Priority),
			"importance": fmt.Sprintf("%.3f", entry.Importance),
			"dimension":  entry.Dimension,
			"tags":       strings.Join(entry.Tags, ","),
			"created_at": entry.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := c.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index memory %s: %w", entry.ID, err)
	}
	return nil
}

// Remove deletes the entry's vector, ignoring IDs never indexed.
func (c *ChromemIndex) Remove(ctx context.Context, id string) error {
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("remove vector %s: %w", id, err)
	}
	return nil
}

// Query embeds the text and returns the nearest entries by cosine
// similarity. Results carry only IDs and scores; the store resolves them
// against live entries.
func (c *ChromemIndex) Query(ctx context.Context, text string, limit int) ([]models.MemorySearchResult, error) {
	count := c.col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}
	results, err := c.col.Query(ctx, text, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	out := make([]models.MemorySearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.MemorySearchResult{
			Entry: &models.MemoryEntry{ID: r.ID, Content: r.Content},
			Score: float64(r.Similarity),
		})
	}
	return out, nil
}
