package schedtool

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/scheduler"
	"github.com/haasonsaas/sidekick/pkg/models"
)

type nopRunner struct{}

func (nopRunner) InjectPrompt(ctx context.Context, key models.SessionKey, prompt string) error {
	return nil
}

func (nopRunner) Remind(ctx context.Context, key models.SessionKey, message string) error {
	return nil
}

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	cfg := config.SchedulerConfig{TasksFile: filepath.Join(t.TempDir(), "tasks.json")}
	s, err := scheduler.New(cfg, nopRunner{})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateListCancelRoundTrip(t *testing.T) {
	sched := newScheduler(t)
	create := &CreateTool{Scheduler: sched, SessionKey: "cli:local:local"}
	list := &ListTool{Scheduler: sched}
	cancel := &CancelTool{Scheduler: sched}
	ctx := context.Background()

	res, err := create.Execute(ctx, json.RawMessage(
		`{"name":"hydrate","trigger_type":"interval","every_minutes":60,"reminder_message":"drink water"}`))
	if err != nil || res.IsError {
		t.Fatalf("create: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "hydrate") {
		t.Fatalf("create result missing task name: %s", res.Content)
	}

	res, err = list.Execute(ctx, json.RawMessage(`{}`))
	if err != nil || res.IsError {
		t.Fatalf("list: err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Content, "hydrate") {
		t.Fatalf("list missing created task: %s", res.Content)
	}

	res, err = cancel.Execute(ctx, json.RawMessage(`{"name":"hydrate"}`))
	if err != nil || res.IsError {
		t.Fatalf("cancel: err=%v res=%+v", err, res)
	}
	if len(sched.List()) != 0 {
		t.Fatal("task survived cancellation")
	}
}

func TestCreateRejectsBadTrigger(t *testing.T) {
	create := &CreateTool{Scheduler: newScheduler(t), SessionKey: "cli:local:local"}

	res, err := create.Execute(context.Background(), json.RawMessage(
		`{"name":"bad","trigger_type":"interval"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "validation") {
		t.Fatalf("res = %+v", res)
	}

	res, err = create.Execute(context.Background(), json.RawMessage(
		`{"name":"bad","trigger_type":"once","run_at":"not-a-time"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "RFC 3339") {
		t.Fatalf("res = %+v", res)
	}
}

func TestCancelUnknownTaskIsNotFound(t *testing.T) {
	cancel := &CancelTool{Scheduler: newScheduler(t)}
	res, err := cancel.Execute(context.Background(), json.RawMessage(`{"name":"ghost"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "resource_not_found") {
		t.Fatalf("res = %+v", res)
	}
}
