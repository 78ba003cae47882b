package events

import (
	"testing"

	"github.com/taskhive/taskhive/pkg/models"
)

func TestHub_publishSubscribe(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Publish(Status("s1", models.StatusRunning))
	got := <-ch
	if got.Type != TypeStatus || got.SessionID != "s1" || got.Status != models.StatusRunning {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHub_ordering(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for i := 0; i < 10; i++ {
		h.Publish(Progress("s1", i*10))
	}
	for i := 0; i < 10; i++ {
		ev := <-ch
		if ev.Progress == nil || *ev.Progress != i*10 {
			t.Fatalf("event %d: got %+v", i, ev)
		}
	}
}

func TestHub_slowSubscriberDrops(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// Overflow the buffer; Publish must not block.
	for i := 0; i < models.DefaultHubChannelBuffer+50; i++ {
		h.Publish(Log("s1", models.LevelInfo, "line", nil))
	}
	if len(ch) != models.DefaultHubChannelBuffer {
		t.Fatalf("buffered: got %d, want %d", len(ch), models.DefaultHubChannelBuffer)
	}
}

func TestHub_unsubscribeTwice(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)
	h.Unsubscribe(ch) // second call is a no-op, must not panic
}

func TestMarshalJSONEvent(t *testing.T) {
	t.Parallel()
	b := MarshalJSONEvent(Event{Type: TypeApprovalNeeded, SessionID: "s1", ApprovalID: "a1", ToolUse: &models.ToolUse{ID: "t1", Name: "Bash", Input: map[string]any{"command": "ls"}}, RiskLevel: "high"})
	if b == nil {
		t.Fatal("expected JSON output")
	}
}
