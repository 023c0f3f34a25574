package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestAddDeduplicatesOverlappingFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Add(ctx, &models.MemoryEntry{Type: models.MemoryFact, Content: "the user lives in Berlin and likes coffee"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := s.Add(ctx, &models.MemoryEntry{Type: models.MemoryFact, Content: "the user lives in Berlin and likes tea"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if s.Get(first.ID) != nil {
		t.Error("older duplicate fact still present")
	}
	if s.Get(second.ID) == nil {
		t.Error("newer fact missing")
	}

	results, err := s.Search(ctx, "user lives Berlin", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	matched := 0
	for _, r := range results {
		if strings.Contains(r.Entry.Content, "Berlin") {
			matched++
		}
	}
	if matched > 1 {
		t.Errorf("%d overlapping facts searchable, want at most 1", matched)
	}
}

func TestAddKeepsDistinctFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, _ := s.Add(ctx, &models.MemoryEntry{Type: models.MemoryFact, Content: "the user lives in Berlin"})
	b, _ := s.Add(ctx, &models.MemoryEntry{Type: models.MemoryFact, Content: "deploy runs every friday at noon"})

	if s.Get(a.ID) == nil || s.Get(b.ID) == nil {
		t.Error("distinct facts should both survive")
	}
}

func TestDimensionedTypeNewestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, _ := s.Add(ctx, &models.MemoryEntry{Type: models.MemoryPersonaTrait, Dimension: "tone", Content: "formal and precise"})
	latest, _ := s.Add(ctx, &models.MemoryEntry{Type: models.MemoryPersonaTrait, Dimension: "tone", Content: "casual and playful"})
	other, _ := s.Add(ctx, &models.MemoryEntry{Type: models.MemoryPersonaTrait, Dimension: "humour", Content: "dry"})

	if s.Get(old.ID) != nil {
		t.Error("older trait in same dimension should be displaced")
	}
	if s.Get(latest.ID) == nil {
		t.Error("newest trait missing")
	}
	if s.Get(other.ID) == nil {
		t.Error("trait in different dimension should survive")
	}
}

func TestSearchOrdersByImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Add(ctx, &models.MemoryEntry{Type: models.MemoryFact, Content: "backup policy keeps snapshots for ninety days", Importance: 0.2})
	s.Add(ctx, &models.MemoryEntry{Type: models.MemoryRule, Content: "backup policy forbids deleting snapshots manually", Importance: 0.9})

	results, err := s.Search(ctx, "backup policy snapshots", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Entry.Importance < results[1].Entry.Importance {
		t.Error("results not ordered by importance")
	}
}

func TestSearchNoMatches(t *testing.T) {
	s := newTestStore(t)
	s.Add(context.Background(), &models.MemoryEntry{Type: models.MemoryFact, Content: "alpha beta gamma"})

	results, err := s.Search(context.Background(), "zzz qqq", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("unrelated query matched %d entries", len(results))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	ctx := context.Background()

	s1, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	added, err := s1.Add(ctx, &models.MemoryEntry{Type: models.MemoryPreference, Content: "prefers short answers"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s2, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := s2.Get(added.ID)
	if got == nil || got.Content != "prefers short answers" {
		t.Errorf("entry did not survive restart: %+v", got)
	}
}

func TestForgetUnknownID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Forget(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestJaccardOverlap(t *testing.T) {
	a := tokenSet("the user lives in Berlin")
	b := tokenSet("the user lives in Munich")
	if got := jaccard(a, b); got < 0.6 || got >= 0.7 {
		t.Errorf("jaccard = %v, want in [0.6, 0.7)", got)
	}
	if got := jaccard(a, a); got != 1 {
		t.Errorf("self jaccard = %v", got)
	}
	if got := jaccard(a, map[string]struct{}{}); got != 0 {
		t.Errorf("empty jaccard = %v", got)
	}
}

func TestCoreMemoryCapKeepsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, strings.Repeat("x", 20))
	}
	lines = append(lines, "newest note")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	core := NewCoreMemory(path, 100)
	got, err := core.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !strings.HasPrefix(got, truncationMarker) {
		t.Error("capped read missing truncation marker")
	}
	if !strings.Contains(got, "newest note") {
		t.Error("tail lost the newest line")
	}
	if len(got) > 100+len(truncationMarker) {
		t.Errorf("capped read too long: %d bytes", len(got))
	}
}

func TestCoreMemoryMissingFileIsEmpty(t *testing.T) {
	core := NewCoreMemory(filepath.Join(t.TempDir(), "absent.md"), 4000)
	got, err := core.Read()
	if err != nil || got != "" {
		t.Errorf("missing file: %q, %v", got, err)
	}
}

func TestCoreMemoryAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.md")
	core := NewCoreMemory(path, 0)
	if err := core.Append("remember the deploy key"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := core.Append("second line\n"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := core.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "remember the deploy key\nsecond line\n" {
		t.Errorf("core file = %q", got)
	}
}
