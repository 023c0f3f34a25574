package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type countingBackend struct {
	calls   int
	results []Result
	err     error
}

func (b *countingBackend) Search(ctx context.Context, query string, count int) ([]Result, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.results, nil
}

func TestSearchReturnsResults(t *testing.T) {
	backend := &countingBackend{results: []Result{
		{Title: "Go", URL: "https://go.dev", Snippet: "The Go programming language"},
	}}
	tool := NewTool(backend)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("search errored: %s", result.Content)
	}
	if !strings.Contains(result.Content, "go.dev") {
		t.Fatalf("content = %s", result.Content)
	}
}

func TestSearchCachesByQuery(t *testing.T) {
	backend := &countingBackend{results: []Result{{Title: "hit"}}}
	tool := NewTool(backend)
	for i := 0; i < 3; i++ {
		if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"same"}`)); err != nil {
			t.Fatal(err)
		}
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"same","result_count":7}`)); err != nil {
		t.Fatal(err)
	}
	if backend.calls != 2 {
		t.Fatalf("different result_count should miss the cache, calls = %d", backend.calls)
	}
}

func TestSearchBackendFailureIsTransient(t *testing.T) {
	tool := NewTool(&countingBackend{err: errors.New("connection refused")})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Content, "transient") {
		t.Fatalf("result = %+v", result)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	tool := NewTool(&countingBackend{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected validation error for empty query")
	}
}

func TestSearchWithoutBackend(t *testing.T) {
	tool := NewTool(nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(result.Content, "dependency") {
		t.Fatalf("result = %+v", result)
	}
}
