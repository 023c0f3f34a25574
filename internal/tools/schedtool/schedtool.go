// Package schedtool exposes scheduler task management to the model.
package schedtool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/sidekick/internal/scheduler"
	"github.com/haasonsaas/sidekick/internal/tools"
)

// CreateTool registers a new scheduled task.
type CreateTool struct {
	Scheduler *scheduler.Scheduler
	// SessionKey is the session the created task fires into.
	SessionKey string
}

func (t *CreateTool) Name() string { return "schedule_task" }

func (t *CreateTool) Description() string {
	return "Create a scheduled task that runs a prompt or sends a reminder later."
}

func (t *CreateTool) DetailedHelp() string {
	return "Trigger types: once (run_at, RFC 3339), interval (every_minutes), cron (cron_expr). Set prompt to run the agent loop at fire time, or reminder_message to deliver text verbatim."
}

type createInput struct {
	Name            string `json:"name" jsonschema:"required,description=Unique task name"`
	TriggerType     string `json:"trigger_type" jsonschema:"required,description=Trigger kind,enum=once|interval|cron"`
	RunAt           string `json:"run_at" jsonschema:"description=RFC 3339 time for once triggers"`
	EveryMinutes    int    `json:"every_minutes" jsonschema:"description=Period for interval triggers"`
	CronExpr        string `json:"cron_expr" jsonschema:"description=Expression for cron triggers"`
	Prompt          string `json:"prompt" jsonschema:"description=Prompt injected as a user turn at fire time"`
	ReminderMessage string `json:"reminder_message" jsonschema:"description=Text delivered verbatim at fire time"`
}

func (t *CreateTool) Schema() json.RawMessage {
	return tools.GenerateSchema[createInput]()
}

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input createInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	trigger := scheduler.Trigger{
		Type:         scheduler.TriggerType(input.TriggerType),
		EveryMinutes: input.EveryMinutes,
		CronExpr:     input.CronExpr,
	}
	if input.RunAt != "" {
		runAt, err := time.Parse(time.RFC3339, input.RunAt)
		if err != nil {
			return tools.NewToolError(tools.ErrValidation, t.Name(),
				"run_at must be RFC 3339: "+err.Error()).Result(), nil
		}
		trigger.RunAt = runAt
	}
	task := &scheduler.Task{
		Name:            input.Name,
		Trigger:         trigger,
		SessionKey:      t.SessionKey,
		Prompt:          input.Prompt,
		ReminderMessage: input.ReminderMessage,
	}
	if err := t.Scheduler.Create(task); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	return tools.JSONResult(map[string]any{"name": task.Name, "next_run": task.NextRun}), nil
}

// ListTool lists scheduled tasks.
type ListTool struct {
	Scheduler *scheduler.Scheduler
}

func (t *ListTool) Name() string { return "list_tasks" }

func (t *ListTool) Description() string {
	return "List all scheduled tasks with their next run time and counters."
}

type listInput struct{}

func (t *ListTool) Schema() json.RawMessage {
	return tools.GenerateSchema[listInput]()
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	return tools.JSONResult(map[string]any{"tasks": t.Scheduler.List()}), nil
}

// CancelTool removes a scheduled task.
type CancelTool struct {
	Scheduler *scheduler.Scheduler
}

func (t *CancelTool) Name() string { return "cancel_task" }

func (t *CancelTool) Description() string {
	return "Cancel a scheduled task by name."
}

type cancelInput struct {
	Name string `json:"name" jsonschema:"required,description=Task name to cancel"`
}

func (t *CancelTool) Schema() json.RawMessage {
	return tools.GenerateSchema[cancelInput]()
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var input cancelInput
	if err := json.Unmarshal(params, &input); err != nil {
		return tools.NewToolError(tools.ErrValidation, t.Name(), err.Error()).Result(), nil
	}
	if err := t.Scheduler.Cancel(input.Name); err != nil {
		return tools.NewToolError(tools.ErrResourceNotFound, t.Name(), err.Error()).Result(), nil
	}
	return tools.JSONResult(map[string]any{"cancelled": input.Name}), nil
}
