package otel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInitMetrics(t *testing.T) {
	ctx := context.Background()
	if _, err := InitMeterProvider(ctx, "metrics-test"); err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	// Second call is a no-op.
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics (second): %v", err)
	}

	// Record functions must not panic with or without instruments.
	RecordToolExecution(ctx, "Bash", "low", true)
	RecordToolExecution(ctx, "Write", "medium", false)
	RecordApproval(ctx, true)
	RecordApproval(ctx, false)
	RecordModelCall(ctx, "claude-test", 120*time.Millisecond, 10, 20, nil)
	RecordModelCall(ctx, "claude-test", time.Millisecond, 0, 0, errors.New("boom"))
	RecordEventPublished(ctx, "log")
}

func TestSessionGauge(t *testing.T) {
	AddSession()
	AddSession()
	RemoveSession()
	RemoveSession()
	RemoveSession() // must clamp at zero
	activeSessionsMu.Lock()
	n := activeSessions
	activeSessionsMu.Unlock()
	if n != 0 {
		t.Fatalf("active sessions: got %d, want 0", n)
	}
}

func TestSubscriberGauge(t *testing.T) {
	AddSubscriber()
	RemoveSubscriber()
	RemoveSubscriber()
	subscriberCountMu.Lock()
	n := subscriberCount
	subscriberCountMu.Unlock()
	if n != 0 {
		t.Fatalf("subscriber count: got %d, want 0", n)
	}
}
