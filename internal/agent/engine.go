package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/compaction"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/prompt"
	"github.com/haasonsaas/sidekick/internal/sessions"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// User-visible strings are short, localised, and free of internals.
const (
	cancelAck      = "已停止"
	apologyText    = "抱歉，所有模型服务暂时不可用，请稍后重试。"
	loopLimitText  = "任务迭代次数达到上限，已停止。"
	noProgressText = "模型没有返回可用的回复，已停止。"
	skipPayload    = "user skipped this step"
)

// loopNote is the synthetic tool result injected when the same tool-call
// signature keeps repeating.
const loopNote = "This exact tool call was already made with identical arguments. Do not repeat it; change the arguments, try a different tool, or answer with what you already have."

var (
	// ErrTaskActive is returned when a session already runs a task.
	ErrTaskActive = errors.New("session already has an active task")

	// ErrNoActiveTask is returned by control operations when the session
	// has no running task.
	ErrNoActiveTask = errors.New("no active task for session")

	// ErrIterationLimit terminates tasks that exceed the iteration ceiling.
	ErrIterationLimit = errors.New("iteration limit exceeded")

	// ErrNoProgress terminates tasks after too many empty LLM replies.
	ErrNoProgress = errors.New("no usable model output")

	// ErrLoopDetected terminates tasks stuck repeating a tool call.
	ErrLoopDetected = errors.New("repeating tool call loop")
)

// ChatClient is the LLM dependency of the engine. *llm.Client satisfies
// it; tests supply fakes.
type ChatClient interface {
	Chat(ctx context.Context, req *llm.Request, stream llm.StreamFunc) (*llm.Response, error)
}

// Engine owns the per-session task slots and runs the reasoning loop.
// Tasks run in parallel across sessions and strictly sequentially within
// one.
type Engine struct {
	cfg       config.AgentConfig
	client    ChatClient
	registry  *tools.Registry
	store     sessions.Store
	assembler *prompt.Assembler
	compactor *compaction.Manager
	executor  *Executor

	contextWindow int

	mu     sync.Mutex
	active map[string]*Task
}

// Option configures the engine.
type Option func(*Engine)

// WithContextWindow sets the token window compression targets. Defaults
// to 128000.
func WithContextWindow(tokens int) Option {
	return func(e *Engine) {
		if tokens > 0 {
			e.contextWindow = tokens
		}
	}
}

// NewEngine wires the reasoning loop. compactor may be nil to disable
// history compression; assembler may be nil for a bare system prompt.
func NewEngine(cfg config.AgentConfig, client ChatClient, registry *tools.Registry, store sessions.Store, assembler *prompt.Assembler, compactor *compaction.Manager, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		client:    client,
		registry:  registry,
		store:     store,
		assembler: assembler,
		compactor: compactor,
		executor: NewExecutor(registry, cfg.ToolParallelism,
			time.Duration(cfg.ToolTimeoutSeconds)*time.Second, cfg.MaxToolResultBytes),
		contextWindow: 128000,
		active:        map[string]*Task{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage starts a task for the user message and returns its event
// stream. The channel is closed after the terminal done or error event.
// A second message while a task runs returns ErrTaskActive.
func (e *Engine) HandleMessage(ctx context.Context, key models.SessionKey, msg *models.Message) (<-chan models.StreamEvent, error) {
	e.mu.Lock()
	if existing, ok := e.active[key.String()]; ok && !existing.State().Terminal() {
		e.mu.Unlock()
		return nil, ErrTaskActive
	}
	task := NewTask(key)
	e.active[key.String()] = task
	e.mu.Unlock()

	session, err := e.store.GetOrCreate(ctx, key)
	if err != nil {
		e.release(task)
		return nil, err
	}
	session.TurnCount++
	if err := e.store.Update(ctx, session); err != nil {
		e.release(task)
		return nil, err
	}
	if err := e.store.AppendMessage(ctx, key, msg); err != nil {
		e.release(task)
		return nil, err
	}

	events := make(chan models.StreamEvent, 256)
	go e.run(ctx, task, msg.Text(), events)
	return events, nil
}

func (e *Engine) release(task *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[task.SessionKey.String()] == task {
		delete(e.active, task.SessionKey.String())
	}
}

func (e *Engine) taskFor(key models.SessionKey) (*Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.active[key.String()]
	if !ok || task.State().Terminal() {
		return nil, false
	}
	return task, true
}

// Cancel raises the cancel signal on the session's active task.
func (e *Engine) Cancel(key models.SessionKey, reason string) error {
	task, ok := e.taskFor(key)
	if !ok {
		return ErrNoActiveTask
	}
	task.Signals().Cancel(reason)
	return nil
}

// Skip raises the skip signal; the pending tool-call batch is dropped at
// the next boundary.
func (e *Engine) Skip(key models.SessionKey) error {
	task, ok := e.taskFor(key)
	if !ok {
		return ErrNoActiveTask
	}
	task.Signals().RequestSkip("")
	return nil
}

// Insert queues text as an additional user turn for the running task.
func (e *Engine) Insert(key models.SessionKey, text string) error {
	task, ok := e.taskFor(key)
	if !ok {
		return ErrNoActiveTask
	}
	task.Signals().Insert(text)
	return nil
}

// Answer resolves a model-issued clarification. With a task still
// running it behaves as an insert; with the turn already finished it
// starts a new turn carrying the answer.
func (e *Engine) Answer(ctx context.Context, key models.SessionKey, text string) error {
	if task, ok := e.taskFor(key); ok {
		task.Signals().Insert(text)
		return nil
	}
	return e.InjectPrompt(ctx, key, text)
}

// InjectPrompt feeds a synthetic user turn into the session: scheduler
// fires enter the loop exactly as live user input does. When a task is
// already running the prompt is queued as an insert instead.
func (e *Engine) InjectPrompt(ctx context.Context, key models.SessionKey, text string) error {
	if task, ok := e.taskFor(key); ok {
		task.Signals().Insert(text)
		return nil
	}
	events, err := e.HandleMessage(ctx, key, models.NewUserText(text))
	if err != nil {
		return err
	}
	go func() {
		for range events {
		}
	}()
	return nil
}

// Remind appends a reminder verbatim to the session without running the
// loop.
func (e *Engine) Remind(ctx context.Context, key models.SessionKey, message string) error {
	if _, err := e.store.GetOrCreate(ctx, key); err != nil {
		return err
	}
	return e.store.AppendMessage(ctx, key, models.NewAssistantText(message))
}

func (e *Engine) toolDefs() []llm.ToolDef {
	direct := e.registry.Direct()
	defs := make([]llm.ToolDef, 0, len(direct))
	for _, tool := range direct {
		defs = append(defs, llm.ToolDef{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return defs
}

// run is the reasoning loop for one task. It always emits exactly one
// terminal event and, on cancellation or failure, exactly one short
// user-visible message.
func (e *Engine) run(ctx context.Context, task *Task, query string, events chan<- models.StreamEvent) {
	key := task.SessionKey
	sig := task.Signals()
	outcome := "completed"

	ctx = observability.WithRunID(ctx, task.ID)
	ctx = observability.WithSessionKey(ctx, key.String())
	logger := observability.Logger(ctx)

	observability.ActiveTasks.Inc()
	defer func() {
		observability.ActiveTasks.Dec()
		observability.TaskIterations.WithLabelValues(outcome).Observe(float64(task.Iterations()))
		e.release(task)
		close(events)
	}()

	// The task context aborts in-flight LLM and tool I/O when cancel is
	// raised, instead of awaiting it.
	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()
	go func() {
		select {
		case <-sig.CancelChan():
			cancelTask()
		case <-taskCtx.Done():
		}
	}()

	emit := func(ev models.StreamEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	// persistCtx survives task cancellation so the terminal message is
	// never silently dropped.
	persistCtx := context.WithoutCancel(ctx)

	reply := func(text string) {
		if err := e.store.AppendMessage(persistCtx, key, models.NewAssistantText(text)); err != nil {
			logger.Error("persist terminal message failed", "error", err)
		}
		emit(models.StreamEvent{Type: models.EventTextDelta, Iteration: task.Iterations(), Text: text})
	}
	ack := func() {
		outcome = "cancelled"
		task.transition(StateCompleted)
		reply(cancelAck)
		emit(models.StreamEvent{Type: models.EventDone, Iteration: task.Iterations()})
	}
	fail := func(text string, err error) {
		outcome = "failed"
		task.transition(StateFailed)
		if text != "" {
			reply(text)
		}
		emit(models.StreamEvent{Type: models.EventError, Iteration: task.Iterations(), Text: text, Err: err})
	}

	task.transition(StateCompiling)

	// The working transcript is read once and mirrored on every store
	// append, so a compression pass is paid at most once per over-budget
	// event instead of once per iteration.
	history, err := e.store.History(persistCtx, key, 0)
	if err != nil {
		fail("", err)
		return
	}
	appendMsg := func(msg *models.Message) error {
		if err := e.store.AppendMessage(persistCtx, key, msg); err != nil {
			return err
		}
		history = append(history, msg)
		return nil
	}

	var (
		usage            models.Usage
		avoid            []string
		sigWindow        []string
		consecutiveEmpty int
		rotated          bool
		loopWarned       bool
	)

	for iteration := 1; ; iteration++ {
		if iteration > e.cfg.MaxIterations {
			fail(loopLimitText, ErrIterationLimit)
			return
		}
		task.setIterations(iteration)
		emit(models.StreamEvent{Type: models.EventIterationStart, Iteration: iteration})

		// Suspension point: before the LLM call.
		if _, is := sig.Cancelled(); is {
			ack()
			return
		}
		for _, insert := range sig.DrainInserts() {
			if err := appendMsg(models.NewUserText(insert)); err != nil {
				fail("", err)
				return
			}
			query = insert
		}

		task.transition(StateReasoning)
		if e.compactor != nil {
			compressed, cerr := e.compactor.Compress(taskCtx, history, e.contextWindow)
			if cerr != nil {
				logger.Warn("history compression failed, sending uncompressed", "error", cerr)
			} else {
				history = compressed
			}
		}
		var system string
		if e.assembler != nil {
			var aerr error
			system, _, aerr = e.assembler.Assemble(taskCtx, prompt.Input{Query: query})
			if aerr != nil {
				logger.Warn("prompt assembly failed, sending bare prompt", "error", aerr)
			}
		}

		req := &llm.Request{
			Messages: history,
			System:   system,
			Tools:    e.toolDefs(),
			Avoid:    avoid,
		}
		resp, err := e.client.Chat(taskCtx, req, func(chunk *llm.Chunk) {
			if chunk.Text != "" {
				emit(models.StreamEvent{Type: models.EventTextDelta, Iteration: iteration, Text: chunk.Text})
			}
			if chunk.Thinking != "" {
				emit(models.StreamEvent{Type: models.EventThinkingDelta, Iteration: iteration, Text: chunk.Thinking})
			}
			if chunk.ToolCall != nil {
				emit(models.StreamEvent{Type: models.EventToolCallStart, Iteration: iteration, ToolCall: chunk.ToolCall})
			}
		})
		if err != nil {
			if _, is := sig.Cancelled(); is {
				ack()
				return
			}
			if ctx.Err() != nil {
				fail("", ctx.Err())
				return
			}
			fail(apologyText, err)
			return
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if err := appendMsg(resp.Message); err != nil {
			fail("", err)
			return
		}

		calls := resp.Message.ToolCalls()
		if len(calls) == 0 {
			if strings.TrimSpace(resp.Message.Text()) == "" {
				consecutiveEmpty++
				if consecutiveEmpty < e.cfg.MaxConsecutiveEmpty {
					continue
				}
				// Rotate away from the silent endpoint once, preserving
				// history, before giving up.
				if !rotated && resp.Endpoint != "" {
					logger.Warn("rotating model after empty replies", "avoiding", resp.Endpoint)
					avoid = append(avoid, resp.Endpoint)
					rotated = true
					consecutiveEmpty = 0
					continue
				}
				fail(noProgressText, ErrNoProgress)
				return
			}
			task.transition(StateCompleted)
			emit(models.StreamEvent{Type: models.EventDone, Iteration: iteration, Usage: &usage})
			return
		}
		consecutiveEmpty = 0

		repeating := false
		for _, call := range calls {
			signature := callSignature(call)
			if countOf(sigWindow, signature) >= e.cfg.LoopRepeatThreshold-1 {
				repeating = true
			}
			sigWindow = append(sigWindow, signature)
			if len(sigWindow) > e.cfg.LoopWindow {
				sigWindow = sigWindow[len(sigWindow)-e.cfg.LoopWindow:]
			}
		}
		if repeating {
			if loopWarned {
				fail(loopLimitText, ErrLoopDetected)
				return
			}
			loopWarned = true
			results := make([]models.ToolResult, len(calls))
			for i, call := range calls {
				results[i] = models.ToolResult{ToolCallID: call.ID, Content: loopNote, IsError: true}
			}
			if err := appendMsg(models.NewToolResults(results)); err != nil {
				fail("", err)
				return
			}
			continue
		}

		task.transition(StateActing)

		// Suspension point: before the tool batch.
		if _, is := sig.Cancelled(); is {
			ack()
			return
		}
		if _, is := sig.TakeSkip(); is {
			results := make([]models.ToolResult, len(calls))
			for i, call := range calls {
				results[i] = models.ToolResult{ToolCallID: call.ID, Content: skipPayload}
			}
			if err := appendMsg(models.NewToolResults(results)); err != nil {
				fail("", err)
				return
			}
			task.transition(StateObserving)
			continue
		}

		results := e.executor.ExecuteBatch(taskCtx, calls, sig)
		if err := appendMsg(models.NewToolResults(results)); err != nil {
			fail("", err)
			return
		}
		task.transition(StateObserving)

		// Suspension point: after the batch.
		if _, is := sig.Cancelled(); is {
			ack()
			return
		}
	}
}

// callSignature canonicalises a tool call for loop detection: name plus
// arguments re-marshalled with sorted keys.
func callSignature(call models.ToolCall) string {
	var decoded any
	if err := json.Unmarshal(call.Input, &decoded); err != nil {
		var buf bytes.Buffer
		if cerr := json.Compact(&buf, call.Input); cerr == nil {
			return call.Name + ":" + buf.String()
		}
		return call.Name + ":" + string(call.Input)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return call.Name + ":" + string(call.Input)
	}
	return call.Name + ":" + string(canonical)
}

func countOf(window []string, signature string) int {
	n := 0
	for _, s := range window {
		if s == signature {
			n++
		}
	}
	return n
}
