package sessions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/pkg/models"
)

var testKey = models.SessionKey{Channel: "telegram", ChatID: "42", UserID: "u1"}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestGetOrCreateIsStable(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := store.GetOrCreate(ctx, testKey)
			if err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if first.Key != "telegram:42:u1" {
				t.Errorf("key = %q", first.Key)
			}
			second, err := store.GetOrCreate(ctx, testKey)
			if err != nil {
				t.Fatalf("GetOrCreate again: %v", err)
			}
			if second.Key != first.Key {
				t.Errorf("second call produced different session")
			}
		})
	}
}

func TestAppendAndHistoryOrder(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.GetOrCreate(ctx, testKey); err != nil {
				t.Fatal(err)
			}
			for _, text := range []string{"one", "two", "three"} {
				if err := store.AppendMessage(ctx, testKey, models.NewUserText(text)); err != nil {
					t.Fatalf("AppendMessage: %v", err)
				}
			}

			history, err := store.History(ctx, testKey, 0)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(history) != 3 {
				t.Fatalf("history = %d messages", len(history))
			}
			for i, want := range []string{"one", "two", "three"} {
				if got := history[i].Text(); got != want {
					t.Errorf("history[%d] = %q, want %q", i, got, want)
				}
			}

			tail, err := store.History(ctx, testKey, 2)
			if err != nil {
				t.Fatalf("History limit: %v", err)
			}
			if len(tail) != 2 || tail[0].Text() != "two" || tail[1].Text() != "three" {
				t.Errorf("limited history wrong: %v", tail)
			}
		})
	}
}

func TestHistoryRoundTripsToolBlocks(t *testing.T) {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sqlite.Close()
	ctx := context.Background()
	if _, err := sqlite.GetOrCreate(ctx, testKey); err != nil {
		t.Fatal(err)
	}

	call := &models.Message{Role: models.RoleAssistant, Blocks: models.BlockList{
		models.ToolUseBlock{ID: "c1", Name: "read_file", Input: []byte(`{"path":"/tmp/x"}`)},
	}}
	if err := sqlite.AppendMessage(ctx, testKey, call); err != nil {
		t.Fatal(err)
	}
	if err := sqlite.AppendMessage(ctx, testKey,
		models.NewToolResults([]models.ToolResult{{ToolCallID: "c1", Content: "ok"}})); err != nil {
		t.Fatal(err)
	}

	history, err := sqlite.History(ctx, testKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d", len(history))
	}
	calls := history[0].ToolCalls()
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Errorf("tool call lost: %+v", calls)
	}
	results := history[1].ToolResults()
	if len(results) != 1 || results[0].ToolCallID != "c1" {
		t.Errorf("tool result lost: %+v", results)
	}
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, err := store.GetOrCreate(ctx, testKey)
			if err != nil {
				t.Fatal(err)
			}
			if err := store.AppendMessage(ctx, testKey, models.NewUserText("old talk")); err != nil {
				t.Fatal(err)
			}

			session.Expired = true
			if err := store.Update(ctx, session); err != nil {
				t.Fatalf("Update: %v", err)
			}
			if _, err := store.Get(ctx, testKey); err != ErrNotFound {
				t.Errorf("expired session still live: %v", err)
			}

			fresh, err := store.GetOrCreate(ctx, testKey)
			if err != nil {
				t.Fatalf("GetOrCreate after expiry: %v", err)
			}
			if fresh.Expired {
				t.Error("replacement session is expired")
			}
			history, err := store.History(ctx, testKey, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(history) != 0 {
				t.Errorf("fresh session inherited %d old messages", len(history))
			}
		})
	}
}

func TestExpireStale(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.GetOrCreate(ctx, testKey); err != nil {
				t.Fatal(err)
			}

			marked, err := store.ExpireStale(ctx, time.Now().Add(-time.Hour))
			if err != nil {
				t.Fatalf("ExpireStale: %v", err)
			}
			if marked != 0 {
				t.Errorf("fresh session marked stale")
			}

			marked, err = store.ExpireStale(ctx, time.Now().Add(time.Hour))
			if err != nil {
				t.Fatalf("ExpireStale: %v", err)
			}
			if marked != 1 {
				t.Errorf("marked = %d, want 1", marked)
			}
			if _, err := store.Get(ctx, testKey); err != ErrNotFound {
				t.Error("stale session still live")
			}
		})
	}
}

func TestTurnCountersPersist(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, err := store.GetOrCreate(ctx, testKey)
			if err != nil {
				t.Fatal(err)
			}
			session.TurnCount = 7
			session.TurnOffset = 3
			if err := store.Update(ctx, session); err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, err := store.Get(ctx, testKey)
			if err != nil {
				t.Fatal(err)
			}
			if got.TurnCount != 7 || got.TurnOffset != 3 {
				t.Errorf("counters = %d/%d", got.TurnCount, got.TurnOffset)
			}
		})
	}
}
