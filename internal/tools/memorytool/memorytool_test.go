package memorytool

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/memory"
)

func newService(t *testing.T) *memory.Service {
	t.Helper()
	dir := t.TempDir()
	store, err := memory.NewStore(filepath.Join(dir, "memories.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	core := memory.NewCoreMemory(filepath.Join(dir, "MEMORY.md"), 4000)
	return memory.NewServiceWith(store, core)
}

func TestRememberThenSearchThenForget(t *testing.T) {
	svc := newService(t)
	remember := &RememberTool{Memory: svc}
	search := &SearchTool{Memory: svc}
	forget := &ForgetTool{Memory: svc}
	ctx := context.Background()

	res, err := remember.Execute(ctx, json.RawMessage(`{"content":"the user prefers metric units"}`))
	if err != nil || res.IsError {
		t.Fatalf("remember: err=%v res=%+v", err, res)
	}
	var created struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(res.Content), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Type != "fact" {
		t.Fatalf("created = %+v", created)
	}

	res, err = search.Execute(ctx, json.RawMessage(`{"query":"metric units"}`))
	if err != nil || res.IsError {
		t.Fatalf("search: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "metric units") {
		t.Fatalf("search missed stored entry: %s", res.Content)
	}

	res, err = forget.Execute(ctx, json.RawMessage(`{"id":"`+created.ID+`"}`))
	if err != nil || res.IsError {
		t.Fatalf("forget: err=%v res=%+v", err, res)
	}

	res, err = search.Execute(ctx, json.RawMessage(`{"query":"metric units"}`))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Content, created.ID) {
		t.Fatalf("forgotten entry still returned: %s", res.Content)
	}
}

func TestForgetUnknownIDIsNotFound(t *testing.T) {
	forget := &ForgetTool{Memory: newService(t)}
	res, err := forget.Execute(context.Background(), json.RawMessage(`{"id":"missing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "resource_not_found") {
		t.Fatalf("res = %+v", res)
	}
}

func TestRememberRejectsMalformedArgs(t *testing.T) {
	remember := &RememberTool{Memory: newService(t)}
	res, err := remember.Execute(context.Background(), json.RawMessage(`{"content":3}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "validation") {
		t.Fatalf("res = %+v", res)
	}
}
