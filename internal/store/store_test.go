package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/taskhive/taskhive/pkg/models"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrationsAndSessionCRUD(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "deploy", "code", map[string]any{"model": "claude-3-5-sonnet-20241022"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected generated session id")
	}
	if sess.Status != models.StatusIdle || sess.Progress != 0 {
		t.Fatalf("new session status=%q progress=%d", sess.Status, sess.Progress)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Name != "deploy" || got.TaskType != "code" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Config["model"] != "claude-3-5-sonnet-20241022" {
		t.Fatalf("config not persisted: %v", got.Config)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Fatalf("new session should have no start/complete stamps")
	}

	if err := st.UpdateSessionStatus(ctx, sess.ID, models.StatusRunning); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	got, _ = st.GetSession(ctx, sess.ID)
	if got.Status != models.StatusRunning {
		t.Fatalf("status = %q, want running", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatalf("running session should stamp started_at")
	}
	started := *got.StartedAt

	// Pausing and resuming must not move started_at.
	_ = st.UpdateSessionStatus(ctx, sess.ID, models.StatusPaused)
	_ = st.UpdateSessionStatus(ctx, sess.ID, models.StatusRunning)
	got, _ = st.GetSession(ctx, sess.ID)
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started_at moved on re-run: %v -> %v", started, got.StartedAt)
	}

	if err := st.UpdateSessionProgress(ctx, sess.ID, 45); err != nil {
		t.Fatalf("UpdateSessionProgress: %v", err)
	}
	got, _ = st.GetSession(ctx, sess.ID)
	if got.Progress != 45 {
		t.Fatalf("progress = %d, want 45", got.Progress)
	}

	if err := st.UpdateSessionStatus(ctx, sess.ID, models.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = st.GetSession(ctx, sess.ID)
	if got.CompletedAt == nil {
		t.Fatalf("completed session should stamp completed_at")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	_, err := st.GetSession(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := st.UpdateSessionStatus(context.Background(), "nope", models.StatusRunning); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update err = %v, want ErrNotFound", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := st.CreateSession(ctx, "s", "", nil); err != nil {
			t.Fatal(err)
		}
	}
	all, err := st.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	limited, _ := st.ListSessions(ctx, 2)
	if len(limited) != 2 {
		t.Fatalf("limit ignored: len = %d", len(limited))
	}
}

func TestLogsAppendAndList(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "s", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	id1, err := st.AppendLog(ctx, models.SessionLog{
		SessionID: sess.ID,
		Level:     models.LevelInfo,
		Message:   "first",
		Metadata:  map[string]any{"iteration": 1},
	})
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	id2, err := st.AppendLog(ctx, models.SessionLog{SessionID: sess.ID, Level: models.LevelWarn, Message: "second"})
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("log ids not increasing: %d then %d", id1, id2)
	}

	logs, err := st.ListLogs(ctx, sess.ID, 0)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len = %d, want 2", len(logs))
	}
	if logs[0].Message != "first" || logs[1].Message != "second" {
		t.Fatalf("logs out of order: %v, %v", logs[0].Message, logs[1].Message)
	}
	if logs[0].Metadata["iteration"] != float64(1) {
		t.Fatalf("metadata not round-tripped: %v", logs[0].Metadata)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "s", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	ap := models.Approval{
		ApprovalID: "ap-1",
		SessionID:  sess.ID,
		ToolName:   "Bash",
		Command:    `{"command":"rm -rf /tmp/x"}`,
		RiskLevel:  "high",
	}
	if err := st.CreateApproval(ctx, ap); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	pending, err := st.ListPendingApprovals(ctx)
	if err != nil {
		t.Fatalf("ListPendingApprovals: %v", err)
	}
	if len(pending) != 1 || pending[0].Status != models.ApprovalPending {
		t.Fatalf("pending = %+v", pending)
	}

	if err := st.ResolveApproval(ctx, "ap-1", true); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	pending, _ = st.ListPendingApprovals(ctx)
	if len(pending) != 0 {
		t.Fatalf("approval still pending after resolve")
	}

	// A second resolve is a no-op on an already-resolved row.
	if err := st.ResolveApproval(ctx, "ap-1", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double resolve err = %v, want ErrNotFound", err)
	}
}

func TestUsageTotals(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "s", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, u := range []models.APIUsage{
		{SessionID: sess.ID, Model: models.DefaultModel, InputTokens: 100, OutputTokens: 40},
		{SessionID: sess.ID, Model: models.DefaultModel, InputTokens: 250, OutputTokens: 60},
	} {
		if _, err := st.RecordUsage(ctx, u); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	in, out, err := st.UsageTotals(ctx, sess.ID)
	if err != nil {
		t.Fatalf("UsageTotals: %v", err)
	}
	if in != 350 || out != 100 {
		t.Fatalf("totals = %d/%d, want 350/100", in, out)
	}

	in, out, err = st.UsageTotals(ctx, "empty")
	if err != nil || in != 0 || out != 0 {
		t.Fatalf("empty totals = %d/%d err=%v", in, out, err)
	}
}
