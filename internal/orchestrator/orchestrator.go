// Package orchestrator manages the worker pool: it creates workers under a
// concurrency cap, fans their events out to the persistence sink and the
// hub, and exposes lifecycle control to external callers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhive/taskhive/internal/approval"
	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/otel"
	"github.com/taskhive/taskhive/internal/risk"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/internal/tools"
	"github.com/taskhive/taskhive/internal/worker"
	"github.com/taskhive/taskhive/pkg/models"
)

var (
	// ErrCapacity is returned when creating a session would exceed the
	// concurrent-worker cap.
	ErrCapacity = errors.New("concurrent session capacity exceeded")
	// ErrNotFound is returned for control operations on unknown or
	// already-stopped sessions.
	ErrNotFound = errors.New("session not found")
)

// Options wires the orchestrator's collaborators.
type Options struct {
	Store  store.Store
	Hub    *events.Hub
	Gate   *approval.Gate
	Policy risk.Policy
	Client worker.ModelClient
	Config *config.Config
	Logger *slog.Logger
}

// Orchestrator is the single owner of the session-id to worker registry.
type Orchestrator struct {
	store  store.Store
	hub    *events.Hub
	gate   *approval.Gate
	policy risk.Policy
	client worker.ModelClient
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker.Worker
	wg      sync.WaitGroup
}

// New returns an orchestrator with an empty pool.
func New(opts Options) *Orchestrator {
	if opts.Policy == nil {
		opts.Policy = risk.DefaultPolicy{}
	}
	if opts.Gate == nil {
		opts.Gate = approval.NewGate(0)
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:   opts.Store,
		hub:     opts.Hub,
		gate:    opts.Gate,
		policy:  opts.Policy,
		client:  opts.Client,
		cfg:     opts.Config,
		logger:  opts.Logger,
		workers: make(map[string]*worker.Worker),
	}
}

// Hub returns the event hub external listeners subscribe to.
func (o *Orchestrator) Hub() *events.Hub { return o.hub }

// ActiveCount returns the number of live workers.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.workers)
}

// CreateSession allocates a session record and a worker bound to it. The
// capacity check and the registry insert happen under one lock so
// concurrent creations cannot overshoot the cap.
func (o *Orchestrator) CreateSession(ctx context.Context, name, taskType string, sessionCfg map[string]any) (models.Session, error) {
	limit := models.DefaultMaxConcurrentSessions
	if o.cfg != nil && o.cfg.MaxConcurrent > 0 {
		limit = o.cfg.MaxConcurrent
	}

	o.mu.Lock()
	if len(o.workers) >= limit {
		o.mu.Unlock()
		return models.Session{}, fmt.Errorf("%w: %d workers live", ErrCapacity, limit)
	}
	// Hold the lock across the insert so a racing create sees the slot
	// taken. The store write happens inside the critical section; it is
	// a local append and the cap matters more than the hold time.
	sess, err := o.store.CreateSession(ctx, name, taskType, sessionCfg)
	if err != nil {
		o.mu.Unlock()
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}

	dir := o.workingDir(sessionCfg)
	w := worker.New(o.workerConfig(sess.ID, name, dir, sessionCfg), o.client, o.policy, o.gate, tools.NewRegistry(dir))
	o.workers[sess.ID] = w
	o.wg.Add(1)
	o.mu.Unlock()

	otel.AddSession()
	go o.watch(w)

	o.logger.Info("session created", "session_id", sess.ID, "name", name)
	return sess, nil
}

func (o *Orchestrator) workerConfig(sessionID, name, workingDir string, sessionCfg map[string]any) worker.Config {
	wc := worker.Config{SessionID: sessionID, Name: name, WorkingDir: workingDir}
	if o.cfg != nil {
		wc.Model = o.cfg.Model
		wc.MaxTokens = o.cfg.MaxTokens
		wc.SystemPrompt = o.cfg.SystemPrompt
	}
	if v, ok := sessionCfg["model"].(string); ok && v != "" {
		wc.Model = v
	}
	if v, ok := sessionCfg["max_tokens"].(float64); ok && v > 0 {
		wc.MaxTokens = int(v)
	}
	if v, ok := sessionCfg["max_tokens"].(int); ok && v > 0 {
		wc.MaxTokens = v
	}
	if v, ok := sessionCfg["system_prompt"].(string); ok && v != "" {
		wc.SystemPrompt = v
	}
	return wc
}

func (o *Orchestrator) workingDir(sessionCfg map[string]any) string {
	dir := ""
	if o.cfg != nil {
		dir = o.cfg.WorkingDir
	}
	if v, ok := sessionCfg["working_dir"].(string); ok && v != "" {
		dir = v
	}
	return dir
}

// Start begins the worker's loop with the given prompt.
func (o *Orchestrator) Start(ctx context.Context, sessionID, prompt string) error {
	w, ok := o.lookup(sessionID)
	if !ok {
		return ErrNotFound
	}
	return w.Start(ctx, prompt)
}

// Pause suspends the worker at its next checkpoint.
func (o *Orchestrator) Pause(sessionID string) error {
	w, ok := o.lookup(sessionID)
	if !ok {
		return ErrNotFound
	}
	w.Pause()
	return nil
}

// Resume clears the user pause. An outstanding approval keeps the session
// visibly paused.
func (o *Orchestrator) Resume(sessionID string) error {
	w, ok := o.lookup(sessionID)
	if !ok {
		return ErrNotFound
	}
	w.Resume()
	return nil
}

// Stop forces the session to failed and deregisters the worker. A stopped
// session can never be resumed.
func (o *Orchestrator) Stop(sessionID string) error {
	o.mu.Lock()
	w, ok := o.workers[sessionID]
	if ok {
		delete(o.workers, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	w.Stop()
	otel.RemoveSession()
	o.logger.Info("session stopped", "session_id", sessionID)
	return nil
}

// ResolveApproval fulfills a pending approval decision exactly once and
// records the outcome. Resolving an unknown or already-resolved id returns
// ErrNotFound.
func (o *Orchestrator) ResolveApproval(ctx context.Context, approvalID string, approved bool) error {
	if !o.gate.Resolve(approvalID, approved) {
		return fmt.Errorf("%w: approval %s", ErrNotFound, approvalID)
	}
	otel.RecordApproval(ctx, approved)
	if err := o.store.ResolveApproval(ctx, approvalID, approved); err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("persist approval resolution", "approval_id", approvalID, "error", err)
	}
	a := approved
	o.hub.Publish(events.Event{
		Type:       events.TypeApprovalResolved,
		Timestamp:  time.Now().UTC(),
		ApprovalID: approvalID,
		Approved:   &a,
	})
	return nil
}

// Shutdown stops every live worker and waits for their event streams to
// drain, or until ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	live := make([]*worker.Worker, 0, len(o.workers))
	for id, w := range o.workers {
		live = append(live, w)
		delete(o.workers, id)
	}
	o.mu.Unlock()

	for _, w := range live {
		w.Stop()
		otel.RemoveSession()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) lookup(sessionID string) (*worker.Worker, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workers[sessionID]
	return w, ok
}

// watch drains one worker's event stream, persisting each event and
// republishing it on the hub. It deregisters the worker when the stream
// closes.
func (o *Orchestrator) watch(w *worker.Worker) {
	defer o.wg.Done()
	for ev := range w.Events() {
		o.persist(ev)
		o.hub.Publish(ev)
	}

	o.mu.Lock()
	_, present := o.workers[w.SessionID()]
	if present {
		delete(o.workers, w.SessionID())
	}
	o.mu.Unlock()
	if present {
		otel.RemoveSession()
	}
}

func (o *Orchestrator) persist(ev events.Event) {
	ctx := context.Background()
	var err error
	switch ev.Type {
	case events.TypeLog:
		_, err = o.store.AppendLog(ctx, models.SessionLog{
			SessionID: ev.SessionID,
			Level:     ev.Level,
			Message:   ev.Message,
			Metadata:  ev.Metadata,
			CreatedAt: ev.Timestamp,
		})
	case events.TypeStatus:
		err = o.store.UpdateSessionStatus(ctx, ev.SessionID, ev.Status)
	case events.TypeProgress:
		if ev.Progress != nil {
			err = o.store.UpdateSessionProgress(ctx, ev.SessionID, *ev.Progress)
		}
	case events.TypeApprovalNeeded:
		a := models.Approval{
			ApprovalID: ev.ApprovalID,
			SessionID:  ev.SessionID,
			RiskLevel:  ev.RiskLevel,
			Status:     models.ApprovalPending,
			CreatedAt:  ev.Timestamp,
		}
		if ev.ToolUse != nil {
			a.ToolName = ev.ToolUse.Name
			a.Command = string(events.MarshalToolInput(ev.ToolUse.Input))
		}
		err = o.store.CreateApproval(ctx, a)
	case events.TypeAPIUsage:
		_, err = o.store.RecordUsage(ctx, models.APIUsage{
			SessionID:    ev.SessionID,
			Model:        ev.Model,
			InputTokens:  ev.InputTokens,
			OutputTokens: ev.OutputTokens,
			CreatedAt:    ev.Timestamp,
		})
	}
	if err != nil {
		o.logger.Warn("persist event", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}
