// Package worker drives one session's plan-act loop: it holds the
// conversation transcript, the status state machine, and the iteration
// loop that consults the risk policy, suspends on the approval gate, and
// invokes tools on the model's behalf.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskhive/taskhive/internal/approval"
	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/llm"
	"github.com/taskhive/taskhive/internal/otel"
	"github.com/taskhive/taskhive/internal/risk"
	"github.com/taskhive/taskhive/internal/tools"
	"github.com/taskhive/taskhive/pkg/models"
)

const progressCeiling = 90
const progressStep = 5

// defaultSystemPrompt is used when the session config does not supply one.
// It names the registered tools and the working directory so the model
// knows its capabilities without probing.
func defaultSystemPrompt(workingDir string, registry *tools.Registry) string {
	var b strings.Builder
	b.WriteString("You are an autonomous task execution agent. You are given a task and a set of tools to accomplish it.\n\nYou have access to these tools:\n")
	for _, t := range registry.Definitions() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString(`
Guidelines:
- Be concise and efficient
- Work iteratively: inspect, plan, act, observe before continuing
- For dangerous operations (rm -rf, system modifications), approval will be requested
- Report progress and important findings
- When the task is complete, reply with a short summary and stop requesting tools
`)
	if workingDir != "" {
		fmt.Fprintf(&b, "\nWorking directory: %s\n", workingDir)
	}
	return b.String()
}

// ModelClient is the chat-completion dependency. Satisfied by *llm.Client;
// tests substitute fakes.
type ModelClient interface {
	CreateMessage(ctx context.Context, req llm.MessagesRequest) (*llm.MessagesResponse, error)
}

// Config carries the per-session knobs a worker runs with. Zero values
// fall back to the package defaults.
type Config struct {
	SessionID     string
	Name          string
	Model         string
	MaxTokens     int
	SystemPrompt  string
	WorkingDir    string
	MaxIterations int
}

// Worker owns one session's lifecycle. All exported methods are safe for
// concurrent use; the loop itself runs on a single goroutine started by
// Start.
type Worker struct {
	cfg      Config
	client   ModelClient
	policy   risk.Policy
	gate     *approval.Gate
	registry *tools.Registry

	mu   sync.Mutex
	cond *sync.Cond

	status      string // idle, running, completed, failed; paused is derived
	progress    int
	userPaused  bool
	awaitingID  string
	cancel      context.CancelFunc
	transcript  []llm.Message
	eventsCh    chan events.Event
	queue       []events.Event
	queueDone   bool
	startedOnce bool
}

// New returns an idle worker bound to the given session.
func New(cfg Config, client ModelClient, policy risk.Policy, gate *approval.Gate, registry *tools.Registry) *Worker {
	if cfg.Model == "" {
		cfg.Model = models.DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = models.DefaultMaxTokens
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt(cfg.WorkingDir, registry)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = models.DefaultMaxIterations
	}
	w := &Worker{
		cfg:      cfg,
		client:   client,
		policy:   policy,
		gate:     gate,
		registry: registry,
		status:   models.StatusIdle,
		eventsCh: make(chan events.Event, models.DefaultHubChannelBuffer),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.pump()
	return w
}

// SessionID returns the bound session id.
func (w *Worker) SessionID() string { return w.cfg.SessionID }

// Events returns the worker's event stream. The channel is closed once the
// worker reaches a terminal state and every emitted event has been
// delivered.
func (w *Worker) Events() <-chan events.Event { return w.eventsCh }

// Status returns the externally visible status, composing the two pause
// causes into "paused".
func (w *Worker) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visibleStatusLocked()
}

// Progress returns the current progress value (0-100).
func (w *Worker) Progress() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

// AwaitingApprovalID returns the id of the approval the worker is blocked
// on, or "" when it is not blocked.
func (w *Worker) AwaitingApprovalID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.awaitingID
}

func (w *Worker) visibleStatusLocked() string {
	switch w.status {
	case models.StatusCompleted, models.StatusFailed:
		return w.status
	}
	if w.userPaused || w.awaitingID != "" {
		return models.StatusPaused
	}
	return w.status
}

// Start begins the loop for the given prompt on a new goroutine. A worker
// runs at most once.
func (w *Worker) Start(ctx context.Context, prompt string) error {
	w.mu.Lock()
	if w.startedOnce {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	if w.status != models.StatusIdle {
		st := w.status
		w.mu.Unlock()
		return fmt.Errorf("cannot start worker in status %q", st)
	}
	w.startedOnce = true
	w.status = models.StatusRunning
	w.progress = 0
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.transcript = []llm.Message{{
		Role:    "user",
		Content: []llm.ContentBlock{{Type: llm.BlockText, Text: prompt}},
	}}
	w.emitLocked(events.Status(w.cfg.SessionID, models.StatusRunning))
	w.emitLocked(events.Progress(w.cfg.SessionID, 0))
	w.emitLocked(events.Log(w.cfg.SessionID, models.LevelInfo, "starting task", map[string]any{"model": w.cfg.Model}))
	w.mu.Unlock()

	// Wake pause waits when the context is cancelled from outside. The
	// loop cancels loopCtx on every exit path, so this goroutine cannot
	// outlive the session.
	go func() {
		<-loopCtx.Done()
		w.cond.Broadcast()
	}()

	go w.run(loopCtx, cancel)
	return nil
}

// Pause sets the user-pause bit. It takes effect at the next loop
// checkpoint, not mid-call.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminalLocked() || w.userPaused {
		return
	}
	w.userPaused = true
	w.emitLocked(events.Status(w.cfg.SessionID, w.visibleStatusLocked()))
}

// Resume clears the user-pause bit. If an approval is still outstanding
// the visible status stays paused until it resolves.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminalLocked() || !w.userPaused {
		return
	}
	w.userPaused = false
	w.cond.Broadcast()
	w.emitLocked(events.Status(w.cfg.SessionID, w.visibleStatusLocked()))
}

// Stop forces the session to failed and cancels the loop at its next
// checkpoint. In-flight model or tool calls are interrupted through the
// context. Stop on a terminal worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.terminalLocked() {
		w.mu.Unlock()
		return
	}
	started := w.startedOnce
	w.status = models.StatusFailed
	w.userPaused = false
	w.awaitingID = ""
	cancel := w.cancel
	w.emitLocked(events.Status(w.cfg.SessionID, models.StatusFailed))
	w.emitLocked(events.Event{Type: events.TypeStopped, SessionID: w.cfg.SessionID, Timestamp: time.Now().UTC()})
	if !started {
		// Never ran; the loop will not close the stream for us.
		w.finishEventsLocked()
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.cond.Broadcast()
}

func (w *Worker) terminalLocked() bool {
	return w.status == models.StatusCompleted || w.status == models.StatusFailed
}

// emitLocked queues an event. Emission never blocks the loop or a control
// call and never loses an event; the persistence sink depends on seeing
// terminal status changes. Callers hold w.mu.
func (w *Worker) emitLocked(ev events.Event) {
	if w.queueDone {
		return
	}
	w.queue = append(w.queue, ev)
	w.cond.Broadcast()
}

func (w *Worker) emit(ev events.Event) {
	w.mu.Lock()
	w.emitLocked(ev)
	w.mu.Unlock()
}

func (w *Worker) finishEventsLocked() {
	if w.queueDone {
		return
	}
	w.queueDone = true
	w.cond.Broadcast()
}

// pump delivers queued events to the stream in emit order, then closes it
// once the worker is done and the queue has drained. Backpressure from a
// slow consumer lands on the in-memory queue, not on the loop.
func (w *Worker) pump() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.queueDone {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			close(w.eventsCh)
			return
		}
		ev := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()
		w.eventsCh <- ev
	}
}

// run is the plan-act loop. It observes cancellation and pause only at
// checkpoints between calls.
func (w *Worker) run(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		w.mu.Lock()
		w.finishEventsLocked()
		w.mu.Unlock()
	}()

	for iteration := 1; iteration <= w.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			w.emit(events.Log(w.cfg.SessionID, models.LevelWarn, "task cancelled", nil))
			return
		}
		if !w.waitWhilePaused(ctx) {
			w.emit(events.Log(w.cfg.SessionID, models.LevelWarn, "task cancelled", nil))
			return
		}

		resp, err := w.callModel(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.emit(events.Log(w.cfg.SessionID, models.LevelWarn, "task cancelled", nil))
				return
			}
			w.fail(fmt.Errorf("model call: %w", err))
			return
		}

		w.mu.Lock()
		w.transcript = append(w.transcript, llm.Message{Role: "assistant", Content: resp.Content})
		w.mu.Unlock()

		var toolUses []models.ToolUse
		for _, block := range resp.Content {
			switch block.Type {
			case llm.BlockText:
				if block.Text != "" {
					w.emit(events.Log(w.cfg.SessionID, models.LevelInfo, block.Text, nil))
				}
			case llm.BlockToolUse:
				toolUses = append(toolUses, models.ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
			}
		}

		if len(toolUses) == 0 && resp.StopReason == llm.StopEndTurn {
			w.complete("task completed")
			return
		}

		results, ranAny, ok := w.handleToolUses(ctx, toolUses)
		if !ok {
			w.emit(events.Log(w.cfg.SessionID, models.LevelWarn, "task cancelled", nil))
			return
		}
		if len(results) > 0 {
			w.mu.Lock()
			w.transcript = append(w.transcript, llm.Message{Role: "user", Content: results})
			w.mu.Unlock()
		}
		if ranAny {
			w.advanceProgress()
		}
	}

	w.emit(events.Log(w.cfg.SessionID, models.LevelWarn,
		fmt.Sprintf("reached maximum iterations (%d), stopping", w.cfg.MaxIterations), nil))
	w.complete("task ended at iteration limit")
}

func (w *Worker) callModel(ctx context.Context) (*llm.MessagesResponse, error) {
	w.mu.Lock()
	req := llm.MessagesRequest{
		Model:     w.cfg.Model,
		MaxTokens: w.cfg.MaxTokens,
		System:    w.cfg.SystemPrompt,
		Messages:  append([]llm.Message(nil), w.transcript...),
		Tools:     w.registry.Definitions(),
	}
	w.mu.Unlock()

	start := time.Now()
	resp, err := w.client.CreateMessage(ctx, req)
	if err != nil {
		otel.RecordModelCall(ctx, w.cfg.Model, time.Since(start), 0, 0, err)
		return nil, err
	}
	otel.RecordModelCall(ctx, w.cfg.Model, time.Since(start), resp.Usage.InputTokens, resp.Usage.OutputTokens, nil)
	w.emit(events.Event{
		Type:         events.TypeAPIUsage,
		SessionID:    w.cfg.SessionID,
		Timestamp:    time.Now().UTC(),
		Model:        w.cfg.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})
	return resp, nil
}

// handleToolUses processes the model's requests strictly in order. High
// risk actions suspend on the gate before any execution side effect; a
// rejection synthesizes an error result without executing. ok is false
// when the loop was cancelled mid-way.
func (w *Worker) handleToolUses(ctx context.Context, toolUses []models.ToolUse) (results []llm.ContentBlock, ranAny, ok bool) {
	for _, tu := range toolUses {
		level := w.policy.Classify(tu.Name, tu.Input)

		if w.policy.RequiresApproval(level) {
			approved, alive := w.awaitApproval(ctx, tu, level)
			if !alive {
				return results, ranAny, false
			}
			if !approved {
				w.emit(events.Log(w.cfg.SessionID, models.LevelWarn,
					fmt.Sprintf("action rejected: %s", tu.Name), map[string]any{"risk": string(level)}))
				results = append(results, llm.ContentBlock{
					Type:      llm.BlockToolResult,
					ToolUseID: tu.ID,
					Content:   "Action rejected by user",
					IsError:   true,
				})
				continue
			}
		}

		if !w.waitWhilePaused(ctx) {
			return results, ranAny, false
		}

		res := w.registry.Execute(ctx, tu.Name, tu.Input)
		otel.RecordToolExecution(ctx, tu.Name, string(level), res.Success)
		ranAny = true

		logLevel := models.LevelDebug
		if !res.Success {
			logLevel = models.LevelWarn
		}
		w.emit(events.Log(w.cfg.SessionID, logLevel,
			fmt.Sprintf("tool %s finished", tu.Name),
			map[string]any{"success": res.Success, "risk": string(level)}))

		block := llm.ContentBlock{Type: llm.BlockToolResult, ToolUseID: tu.ID, Content: res.Output}
		if !res.Success {
			block.IsError = true
			if res.Error != "" {
				block.Content = res.Error
			}
		}
		results = append(results, block)
	}
	return results, ranAny, true
}

// awaitApproval registers a gate request, emits exactly one
// approval_needed event, and blocks until the decision or cancellation.
func (w *Worker) awaitApproval(ctx context.Context, tu models.ToolUse, level risk.Level) (approved, alive bool) {
	req := w.gate.Request()

	w.mu.Lock()
	w.awaitingID = req.ID
	use := tu
	w.emitLocked(events.Status(w.cfg.SessionID, w.visibleStatusLocked()))
	w.emitLocked(events.Event{
		Type:       events.TypeApprovalNeeded,
		SessionID:  w.cfg.SessionID,
		Timestamp:  time.Now().UTC(),
		ApprovalID: req.ID,
		ToolUse:    &use,
		RiskLevel:  string(level),
	})
	w.mu.Unlock()

	select {
	case decision := <-req.Decision:
		w.mu.Lock()
		w.awaitingID = ""
		if !w.terminalLocked() {
			w.emitLocked(events.Status(w.cfg.SessionID, w.visibleStatusLocked()))
		}
		w.mu.Unlock()
		return decision, true
	case <-ctx.Done():
		// Remove the orphaned request so it does not linger in the gate.
		w.gate.Resolve(req.ID, false)
		w.mu.Lock()
		w.awaitingID = ""
		w.mu.Unlock()
		return false, false
	}
}

// waitWhilePaused blocks while the user-pause bit is set. It returns false
// if the context was cancelled while waiting.
func (w *Worker) waitWhilePaused(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.userPaused && ctx.Err() == nil {
		w.cond.Wait()
	}
	return ctx.Err() == nil
}

func (w *Worker) advanceProgress() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminalLocked() {
		return
	}
	next := w.progress + progressStep
	if next > progressCeiling {
		next = progressCeiling
	}
	if next == w.progress {
		return
	}
	w.progress = next
	w.emitLocked(events.Progress(w.cfg.SessionID, next))
}

func (w *Worker) complete(message string) {
	w.mu.Lock()
	if w.terminalLocked() {
		w.mu.Unlock()
		return
	}
	w.status = models.StatusCompleted
	w.userPaused = false
	w.progress = 100
	w.emitLocked(events.Log(w.cfg.SessionID, models.LevelSuccess, message, nil))
	w.emitLocked(events.Progress(w.cfg.SessionID, 100))
	w.emitLocked(events.Status(w.cfg.SessionID, models.StatusCompleted))
	w.emitLocked(events.Event{Type: events.TypeCompleted, SessionID: w.cfg.SessionID, Timestamp: time.Now().UTC()})
	w.mu.Unlock()
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	if w.terminalLocked() {
		w.mu.Unlock()
		return
	}
	w.status = models.StatusFailed
	w.userPaused = false
	w.emitLocked(events.Log(w.cfg.SessionID, models.LevelError, err.Error(), nil))
	w.emitLocked(events.Status(w.cfg.SessionID, models.StatusFailed))
	w.emitLocked(events.Event{Type: events.TypeFailed, SessionID: w.cfg.SessionID, Timestamp: time.Now().UTC(), Error: err.Error()})
	w.mu.Unlock()
}
