// Package agent drives the reasoning-acting loop: it consults the LLM,
// dispatches tool calls, observes results and decides whether to continue
// or answer. One task runs per session at a time; cancel, skip and insert
// signals are polled at every suspension point.
package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// State is a task's position in its lifecycle. Terminal states are
// absorbing.
type State string

const (
	StateIdle      State = "idle"
	StateCompiling State = "compiling"
	StateReasoning State = "reasoning"
	StateActing    State = "acting"
	StateObserving State = "observing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state absorbs further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Task is one short-lived reasoning attempt scoped to a single user turn.
// It holds a non-owning reference to its session key and exclusive
// ownership of its signals.
type Task struct {
	// ID is the run identifier carried on the task context for logging.
	ID         string
	SessionKey models.SessionKey
	StartedAt  time.Time

	signals *Signals

	mu         sync.Mutex
	state      State
	iterations int
}

// NewTask builds an idle task for the session.
func NewTask(key models.SessionKey) *Task {
	return &Task{
		ID:         uuid.NewString(),
		SessionKey: key,
		StartedAt:  time.Now(),
		signals:    NewSignals(),
		state:      StateIdle,
	}
}

// Signals returns the task's interrupt primitives.
func (t *Task) Signals() *Signals { return t.signals }

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// transition moves the task to a new state. Transitions out of a terminal
// state are ignored.
func (t *Task) transition(to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = to
}

// Iterations returns how many LLM calls the task has made.
func (t *Task) Iterations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iterations
}

func (t *Task) setIterations(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iterations = n
}
