package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Runner receives fired tasks. InjectPrompt feeds the prompt through the
// agent loop as a synthetic user turn; Remind delivers the reminder text
// verbatim. Implementations skip sessions that already have an active
// task and return nil.
type Runner interface {
	InjectPrompt(ctx context.Context, key models.SessionKey, prompt string) error
	Remind(ctx context.Context, key models.SessionKey, message string) error
}

// Scheduler owns the task list, its file persistence and the tick loop.
type Scheduler struct {
	runner       Runner
	logger       *slog.Logger
	tasksFile    string
	location     *time.Location
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	tasks   map[string]*Task
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithLogger overrides the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a scheduler from config, loading persisted tasks from the
// tasks file when present.
func New(cfg config.SchedulerConfig, runner Runner, opts ...Option) (*Scheduler, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		tz, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load scheduler timezone: %w", err)
		}
		loc = tz
	}
	s := &Scheduler{
		runner:       runner,
		logger:       slog.Default().With("component", "scheduler"),
		tasksFile:    cfg.TasksFile,
		location:     loc,
		now:          time.Now,
		tickInterval: time.Second,
		tasks:        map[string]*Task{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) load() error {
	if s.tasksFile == "" {
		return nil
	}
	data, err := os.ReadFile(s.tasksFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tasks file: %w", err)
	}
	var tasks []*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("parse tasks file: %w", err)
	}
	now := s.now()
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			s.logger.Warn("task skipped", "task", task.Name, "error", err)
			continue
		}
		// A once task that already ran never fires again.
		if task.Trigger.Type == TriggerOnce && task.RunCount > 0 {
			task.Enabled = false
		}
		if task.Enabled {
			next, ok, err := task.Trigger.Next(now, s.location)
			if err != nil || !ok {
				task.Enabled = false
			} else if task.Trigger.Type == TriggerOnce {
				task.NextRun = task.Trigger.RunAt
			} else if task.NextRun.IsZero() {
				task.NextRun = next
			}
			// A persisted NextRun in the past stays as-is: the first tick
			// runs it once, which is the catch-up for all missed fires.
		}
		s.tasks[task.Name] = task
	}
	return nil
}

// save writes the tasks file. Caller holds the lock.
func (s *Scheduler) save() error {
	if s.tasksFile == "" {
		return nil
	}
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.tasksFile), 0o755); err != nil {
		return err
	}
	tmp := s.tasksFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.tasksFile)
}

// Create registers a new task and persists it.
func (s *Scheduler) Create(task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	next, ok, err := task.Trigger.Next(s.now(), s.location)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %q would never fire", task.Name)
	}
	task.Enabled = true
	task.NextRun = next

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("task %q already exists", task.Name)
	}
	s.tasks[task.Name] = task
	return s.save()
}

// Cancel removes a task by name.
func (s *Scheduler) Cancel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		return fmt.Errorf("task %q not found", name)
	}
	delete(s.tasks, name)
	return s.save()
}

// List returns a snapshot of all tasks sorted by name.
func (s *Scheduler) List() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		clone := *t
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start runs the tick loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop waits for the tick loop to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDue fires every due task once and returns how many fired. However
// many fire times were missed, each task runs at most once per call.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()
	count := 0

	s.mu.Lock()
	var due []*Task
	for _, task := range s.tasks {
		if task.Enabled && !task.NextRun.IsZero() && !now.Before(task.NextRun) {
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		err := s.fire(ctx, task)

		s.mu.Lock()
		task.LastRun = now
		task.RunCount++
		if err != nil {
			task.FailCount++
			task.LastError = err.Error()
			s.logger.Warn("scheduled task failed", "task", task.Name, "error", err)
		} else {
			task.LastError = ""
		}

		if task.Trigger.Type == TriggerOnce {
			task.Enabled = false
			task.NextRun = time.Time{}
		} else {
			// Next run computed from now, so missed fires collapse.
			next, ok, nextErr := task.Trigger.Next(now, s.location)
			if nextErr != nil || !ok {
				task.Enabled = false
				task.NextRun = time.Time{}
			} else {
				task.NextRun = next
			}
		}
		if serr := s.save(); serr != nil {
			s.logger.Error("persist tasks failed", "error", serr)
		}
		s.mu.Unlock()
		count++
	}
	return count
}

func (s *Scheduler) fire(ctx context.Context, task *Task) error {
	if s.runner == nil {
		return errors.New("runner not configured")
	}
	key, err := models.ParseSessionKey(task.SessionKey)
	if err != nil {
		return err
	}
	if strings.TrimSpace(task.Prompt) != "" {
		return s.runner.InjectPrompt(ctx, key, task.Prompt)
	}
	return s.runner.Remind(ctx, key, task.ReminderMessage)
}
