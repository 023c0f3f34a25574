// Package memory stores and retrieves remembered facts, preferences and
// traits, serving the prompt assembler with ranked, deduplicated entries.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// dedupeOverlap is the token-set Jaccard overlap at or above which two
// fact entries are considered duplicates.
const dedupeOverlap = 0.7

// Indexer is an optional vector index kept in sync with the store.
type Indexer interface {
	Add(ctx context.Context, entry *models.MemoryEntry) error
	Remove(ctx context.Context, id string) error
	Query(ctx context.Context, text string, limit int) ([]models.MemorySearchResult, error)
}

// Store holds memory entries under a single writer lock; reads work on
// snapshots. An optional JSON snapshot file persists across restarts and
// an optional Indexer mirrors entries for vector search.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*models.MemoryEntry
	path    string
	index   Indexer
}

// NewStore opens a store, loading the snapshot at path when present. An
// empty path keeps the store purely in memory.
func NewStore(path string, index Indexer) (*Store, error) {
	s := &Store{
		entries: map[string]*models.MemoryEntry{},
		path:    path,
		index:   index,
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load memory snapshot: %w", err)
	}
	var entries []*models.MemoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse memory snapshot: %w", err)
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

// save writes the snapshot. Caller holds the write lock.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	entries := make([]*models.MemoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Add inserts an entry, applying the dedupe and dimension rules: facts
// overlapping an existing fact by >= 70% replace it (newest wins), and
// dimensioned types keep only the newest entry per (type, dimension).
func (s *Store) Add(ctx context.Context, entry *models.MemoryEntry) (*models.MemoryEntry, error) {
	if strings.TrimSpace(entry.Content) == "" {
		return nil, fmt.Errorf("memory content is empty")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.AccessedAt = now
	if entry.Priority == "" {
		entry.Priority = models.PriorityLongTerm
	}

	s.mu.Lock()
	var displaced []string
	if entry.Type == models.MemoryFact {
		newTokens := tokenSet(entry.Content)
		for id, existing := range s.entries {
			if existing.Type != models.MemoryFact {
				continue
			}
			if jaccard(newTokens, tokenSet(existing.Content)) >= dedupeOverlap {
				displaced = append(displaced, id)
			}
		}
	}
	if entry.Type.Dimensioned() && entry.Dimension != "" {
		for id, existing := range s.entries {
			if existing.Type == entry.Type && existing.Dimension == entry.Dimension {
				displaced = append(displaced, id)
			}
		}
	}
	for _, id := range displaced {
		delete(s.entries, id)
	}
	s.entries[entry.ID] = entry
	err := s.save()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.index != nil {
		for _, id := range displaced {
			if rerr := s.index.Remove(ctx, id); rerr != nil {
				return nil, fmt.Errorf("update vector index: %w", rerr)
			}
		}
		if ierr := s.index.Add(ctx, entry); ierr != nil {
			return nil, fmt.Errorf("update vector index: %w", ierr)
		}
	}
	return entry, nil
}

// Forget removes an entry by ID.
func (s *Store) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	err := s.save()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memory entry %q not found", id)
	}
	if s.index != nil {
		return s.index.Remove(ctx, id)
	}
	return nil
}

// Get returns a copy of the entry, or nil.
func (s *Store) Get(id string) *models.MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		clone := *e
		return &clone
	}
	return nil
}

// List returns a snapshot of all entries, newest first.
func (s *Store) List() []*models.MemoryEntry {
	s.mu.RLock()
	out := make([]*models.MemoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		clone := *e
		out = append(out, &clone)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Search ranks entries against the query. The vector index serves the
// query when available; keyword scoring is the fallback. Results are
// ordered by importance, then score.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.MemorySearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	if s.index != nil {
		results, err := s.index.Query(ctx, query, limit)
		if err == nil {
			return s.resolve(results, limit), nil
		}
		// Vector backend failure degrades to keyword search.
	}
	return s.keywordSearch(query, limit), nil
}

// resolve maps index hits back onto live entries, dropping stale IDs.
func (s *Store) resolve(hits []models.MemorySearchResult, limit int) []models.MemorySearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MemorySearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Entry == nil {
			continue
		}
		if live, ok := s.entries[hit.Entry.ID]; ok {
			clone := *live
			out = append(out, models.MemorySearchResult{Entry: &clone, Score: hit.Score})
		}
	}
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) keywordSearch(query string, limit int) []models.MemorySearchResult {
	queryTokens := tokenSet(query)
	s.mu.RLock()
	var out []models.MemorySearchResult
	for _, e := range s.entries {
		score := keywordScore(queryTokens, query, e.Content)
		if score <= 0 {
			continue
		}
		clone := *e
		out = append(out, models.MemorySearchResult{Entry: &clone, Score: score})
	}
	s.mu.RUnlock()
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortResults(results []models.MemorySearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Entry.Importance != results[j].Entry.Importance {
			return results[i].Entry.Importance > results[j].Entry.Importance
		}
		return results[i].Score > results[j].Score
	})
}

// keywordScore is the fraction of query tokens found in the content, with
// a bonus for a direct substring hit.
func keywordScore(queryTokens map[string]struct{}, query, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenSet(content)
	matched := 0
	for tok := range queryTokens {
		if _, ok := contentTokens[tok]; ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTokens))
	if query != "" && strings.Contains(strings.ToLower(content), strings.ToLower(query)) {
		score += 0.5
	}
	return score
}

// tokenSet lowercases and splits on non-letter/digit boundaries; CJK
// characters count as single-character tokens.
func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			set[current.String()] = struct{}{}
			current.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			set[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
