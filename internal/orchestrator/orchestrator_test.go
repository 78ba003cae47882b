package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/llm"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

type scriptedClient struct {
	mu    sync.Mutex
	steps []func(llm.MessagesRequest) (*llm.MessagesResponse, error)
	calls int
}

func (c *scriptedClient) CreateMessage(_ context.Context, req llm.MessagesRequest) (*llm.MessagesResponse, error) {
	c.mu.Lock()
	i := c.calls
	c.calls++
	c.mu.Unlock()
	if i < len(c.steps) {
		return c.steps[i](req)
	}
	return &llm.MessagesResponse{
		Content:    []llm.ContentBlock{{Type: llm.BlockText, Text: "done"}},
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 12, OutputTokens: 7},
	}, nil
}

func newTestOrchestrator(t *testing.T, maxConcurrent int, client *scriptedClient) (*Orchestrator, store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if client == nil {
		client = &scriptedClient{}
	}
	o := New(Options{
		Store:  st,
		Client: client,
		Config: &config.Config{MaxConcurrent: maxConcurrent, WorkingDir: t.TempDir()},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, st
}

func waitForStatus(t *testing.T, st store.Store, sessionID, want string) *models.Session {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := st.GetSession(context.Background(), sessionID)
		if err == nil && sess.Status == want {
			return sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	sess, _ := st.GetSession(context.Background(), sessionID)
	t.Fatalf("session never reached %q; last: %+v", want, sess)
	return nil
}

func TestCapacityCap(t *testing.T) {
	t.Parallel()

	o, st := newTestOrchestrator(t, 2, nil)
	ctx := context.Background()

	if _, err := o.CreateSession(ctx, "a", "", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := o.CreateSession(ctx, "b", "", nil); err != nil {
		t.Fatalf("second create: %v", err)
	}
	_, err := o.CreateSession(ctx, "c", "", nil)
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("err = %v, want ErrCapacity", err)
	}
	if o.ActiveCount() != 2 {
		t.Fatalf("ActiveCount = %d, want 2", o.ActiveCount())
	}
	// The rejected creation must not leave a session record behind.
	all, err := st.ListSessions(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("persisted sessions = %d, want 2", len(all))
	}
}

func TestControlOnUnknownSession(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, 2, nil)

	if err := o.Start(context.Background(), "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Start err = %v", err)
	}
	if err := o.Pause("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Pause err = %v", err)
	}
	if err := o.Resume("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resume err = %v", err)
	}
	if err := o.Stop("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Stop err = %v", err)
	}
}

func TestEventFanOutPersists(t *testing.T) {
	t.Parallel()

	o, st := newTestOrchestrator(t, 5, nil)
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "fanout", "code", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Start(ctx, sess.ID, "finish immediately"); err != nil {
		t.Fatal(err)
	}

	final := waitForStatus(t, st, sess.ID, models.StatusCompleted)
	if final.Progress != 100 {
		t.Fatalf("persisted progress = %d, want 100", final.Progress)
	}
	if final.StartedAt == nil || final.CompletedAt == nil {
		t.Fatalf("lifecycle stamps missing: %+v", final)
	}

	logs, err := st.ListLogs(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) == 0 {
		t.Fatal("no logs persisted")
	}

	in, out, err := st.UsageTotals(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if in != 12 || out != 7 {
		t.Fatalf("usage totals = %d/%d, want 12/7", in, out)
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{steps: []func(llm.MessagesRequest) (*llm.MessagesResponse, error){
		func(llm.MessagesRequest) (*llm.MessagesResponse, error) {
			return &llm.MessagesResponse{
				Content: []llm.ContentBlock{{
					Type: llm.BlockToolUse, ID: "t1", Name: "Bash",
					Input: map[string]any{"command": "sudo rm -rf /opt/app"},
				}},
				StopReason: llm.StopToolUse,
			}, nil
		},
	}}
	o, st := newTestOrchestrator(t, 5, client)
	ctx := context.Background()

	sub := o.Hub().Subscribe()
	defer o.Hub().Unsubscribe(sub)

	sess, err := o.CreateSession(ctx, "risky", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Start(ctx, sess.ID, "clean up /opt/app"); err != nil {
		t.Fatal(err)
	}

	var approvalID string
	deadline := time.After(3 * time.Second)
	for approvalID == "" {
		select {
		case ev := <-sub:
			if ev.Type == events.TypeApprovalNeeded {
				approvalID = ev.ApprovalID
			}
		case <-deadline:
			t.Fatal("no approval_needed event on hub")
		}
	}

	pending, err := st.ListPendingApprovals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ApprovalID != approvalID {
		t.Fatalf("pending approvals = %+v", pending)
	}
	if pending[0].ToolName != "Bash" || pending[0].RiskLevel != "high" {
		t.Fatalf("approval record = %+v", pending[0])
	}

	if err := o.ResolveApproval(ctx, approvalID, false); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	// Second resolution of the same id is rejected.
	if err := o.ResolveApproval(ctx, approvalID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double resolve err = %v, want ErrNotFound", err)
	}

	waitForStatus(t, st, sess.ID, models.StatusCompleted)
	pending, _ = st.ListPendingApprovals(ctx)
	if len(pending) != 0 {
		t.Fatalf("approval still pending after resolve: %+v", pending)
	}

	resolved := false
	drain := time.After(time.Second)
	for !resolved {
		select {
		case ev := <-sub:
			if ev.Type == events.TypeApprovalResolved && ev.ApprovalID == approvalID {
				if ev.Approved == nil || *ev.Approved {
					t.Fatalf("approval_resolved approved = %v, want false", ev.Approved)
				}
				resolved = true
			}
		case <-drain:
			t.Fatal("no approval_resolved event on hub")
		}
	}
}

func TestStopDeregistersAndFreesSlot(t *testing.T) {
	t.Parallel()

	o, st := newTestOrchestrator(t, 1, nil)
	ctx := context.Background()

	sess, err := o.CreateSession(ctx, "one", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.CreateSession(ctx, "two", "", nil); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}

	if err := o.Stop(sess.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := o.Stop(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Stop err = %v, want ErrNotFound", err)
	}
	waitForStatus(t, st, sess.ID, models.StatusFailed)

	if _, err := o.CreateSession(ctx, "two", "", nil); err != nil {
		t.Fatalf("create after stop: %v", err)
	}
}
