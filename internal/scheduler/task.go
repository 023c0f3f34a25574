// Package scheduler turns once/interval/cron triggers into synthetic user
// turns on the agent loop. Missed firings during downtime collapse into a
// single catch-up run per task.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// TriggerType selects how a task fires.
type TriggerType string

const (
	TriggerOnce     TriggerType = "once"
	TriggerInterval TriggerType = "interval"
	TriggerCron     TriggerType = "cron"
)

// Trigger is a task's firing rule.
type Trigger struct {
	Type TriggerType `json:"type"`

	// RunAt is the firing time for once tasks. A time already in the past
	// fires exactly once at the next tick.
	RunAt time.Time `json:"run_at,omitempty"`

	// EveryMinutes is the period for interval tasks.
	EveryMinutes int `json:"every_minutes,omitempty"`

	// CronExpr is the expression for cron tasks.
	CronExpr string `json:"cron_expr,omitempty"`
}

// Validate checks the trigger is well-formed.
func (t Trigger) Validate() error {
	switch t.Type {
	case TriggerOnce:
		if t.RunAt.IsZero() {
			return fmt.Errorf("once trigger requires run_at")
		}
	case TriggerInterval:
		if t.EveryMinutes <= 0 {
			return fmt.Errorf("interval trigger requires every_minutes > 0")
		}
	case TriggerCron:
		if strings.TrimSpace(t.CronExpr) == "" {
			return fmt.Errorf("cron trigger requires cron_expr")
		}
		if _, err := cronParser.Parse(t.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// Next returns the run time following now, or false when the trigger will
// never fire again. A once trigger with RunAt in the past is still due
// (it returns RunAt) until it has fired.
func (t Trigger) Next(now time.Time, loc *time.Location) (time.Time, bool, error) {
	switch t.Type {
	case TriggerOnce:
		if t.RunAt.IsZero() {
			return time.Time{}, false, fmt.Errorf("once trigger missing run_at")
		}
		return t.RunAt, true, nil
	case TriggerInterval:
		if t.EveryMinutes <= 0 {
			return time.Time{}, false, fmt.Errorf("interval trigger missing period")
		}
		return now.Add(time.Duration(t.EveryMinutes) * time.Minute), true, nil
	case TriggerCron:
		schedule, err := cronParser.Parse(t.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		if loc == nil {
			loc = now.Location()
		}
		next := schedule.Next(now.In(loc))
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown trigger type %q", t.Type)
	}
}

// Task is one scheduled entry. Exactly one of Prompt or ReminderMessage
// should be set: Prompt runs through the agent loop as a synthetic user
// turn; ReminderMessage is delivered verbatim.
type Task struct {
	Name            string  `json:"name"`
	Trigger         Trigger `json:"trigger"`
	SessionKey      string  `json:"session_key"`
	Prompt          string  `json:"prompt,omitempty"`
	ReminderMessage string  `json:"reminder_message,omitempty"`
	Enabled         bool    `json:"enabled"`

	RunCount  int       `json:"run_count"`
	FailCount int       `json:"fail_count"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Validate checks the task is runnable.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("task name required")
	}
	if strings.TrimSpace(t.SessionKey) == "" {
		return fmt.Errorf("task %q: session_key required", t.Name)
	}
	if strings.TrimSpace(t.Prompt) == "" && strings.TrimSpace(t.ReminderMessage) == "" {
		return fmt.Errorf("task %q: prompt or reminder_message required", t.Name)
	}
	if err := t.Trigger.Validate(); err != nil {
		return fmt.Errorf("task %q: %w", t.Name, err)
	}
	return nil
}
