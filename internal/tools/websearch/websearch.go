// Package websearch provides the web_search tool over a pluggable HTTP
// search backend.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/tools"
)

const (
	defaultResultCount = 5
	maxResultCount     = 20
	defaultCacheTTL    = 5 * time.Minute
	maxCacheSize       = 1000
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Backend performs the actual search. Implementations wrap an HTTP search
// service; tests supply fakes.
type Backend interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// SearXNGBackend queries a SearXNG instance's JSON API.
type SearXNGBackend struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (b *SearXNGBackend) Search(ctx context.Context, query string, count int) ([]Result, error) {
	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", b.BaseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("searxng returned %d: %s", resp.StatusCode, body)
	}
	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}
	out := make([]Result, 0, count)
	for _, r := range payload.Results {
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

type cacheEntry struct {
	results   []Result
	expiresAt time.Time
}

// Tool is the web_search tool with response caching.
type Tool struct {
	backend Backend
	ttl     time.Duration

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
}

// NewTool builds a web_search tool over the given backend.
func NewTool(backend Backend) *Tool {
	return &Tool{
		backend: backend,
		ttl:     defaultCacheTTL,
		cache:   map[string]*cacheEntry{},
	}
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web and return titles, URLs and snippets."
}

type searchInput struct {
	Query       string `json:"query" jsonschema:"required,description=The search query"`
	ResultCount int    `json:"result_count" jsonschema:"description=Number of results (default 5, max 20)"`
}

func (t *Tool) Schema() json.RawMessage {
	return tools.GenerateSchema[searchInput]()
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	if input.Query == "" {
		return tools.NewToolError(tools.ErrValidation, t.Name(), "query is required").Result(), nil
	}
	count := input.ResultCount
	if count <= 0 {
		count = defaultResultCount
	}
	if count > maxResultCount {
		count = maxResultCount
	}
	if t.backend == nil {
		return tools.NewToolError(tools.ErrDependency, t.Name(), "no search backend configured").Result(), nil
	}

	key := fmt.Sprintf("%d:%s", count, input.Query)
	if results := t.fromCache(key); results != nil {
		return tools.JSONResult(map[string]any{"query": input.Query, "results": results}), nil
	}

	results, err := t.backend.Search(ctx, input.Query, count)
	if err != nil {
		return tools.NewToolError(tools.ErrTransient, t.Name(), err.Error()).
			WithRetry("retry in a few seconds or rephrase the query").Result(), nil
	}
	t.putCache(key, results)
	return tools.JSONResult(map[string]any{"query": input.Query, "results": results}), nil
}

func (t *Tool) fromCache(key string) []Result {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.results
}

func (t *Tool) putCache(key string, results []Result) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	if len(t.cache) >= maxCacheSize {
		for k := range t.cache {
			delete(t.cache, k)
			break
		}
	}
	t.cache[key] = &cacheEntry{results: results, expiresAt: time.Now().Add(t.ttl)}
}
