package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	toolExecsCounter   metric.Int64Counter
	approvalsCounter   metric.Int64Counter
	modelCallsCounter  metric.Int64Counter
	modelCallDuration  metric.Float64Histogram
	tokensCounter      metric.Int64Counter
	eventsCounter      metric.Int64Counter
	sessionsGauge      metric.Int64ObservableGauge
	subscribersGauge   metric.Int64ObservableGauge
	activeSessions     int64
	activeSessionsMu   sync.Mutex
	subscriberCount    int64
	subscriberCountMu  sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		toolExecsCounter, err = m.Int64Counter("taskhive_tool_executions_total", metric.WithDescription("Total tool executions by tool, risk, and outcome"))
		if err != nil {
			return
		}
		approvalsCounter, err = m.Int64Counter("taskhive_approvals_total", metric.WithDescription("Total approval decisions by outcome"))
		if err != nil {
			return
		}
		modelCallsCounter, err = m.Int64Counter("taskhive_model_calls_total", metric.WithDescription("Total model API calls by model and outcome"))
		if err != nil {
			return
		}
		modelCallDuration, err = m.Float64Histogram("taskhive_model_call_duration_seconds", metric.WithDescription("Model API call duration in seconds"))
		if err != nil {
			return
		}
		tokensCounter, err = m.Int64Counter("taskhive_model_tokens_total", metric.WithDescription("Total model tokens by model and direction"))
		if err != nil {
			return
		}
		eventsCounter, err = m.Int64Counter("taskhive_events_published_total", metric.WithDescription("Total events published to the hub"))
		if err != nil {
			return
		}
		sessionsGauge, err = m.Int64ObservableGauge("taskhive_active_sessions", metric.WithDescription("Current number of live workers in the pool"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			activeSessionsMu.Lock()
			n := activeSessions
			activeSessionsMu.Unlock()
			o.ObserveInt64(sessionsGauge, n)
			return nil
		}, sessionsGauge)
		if err != nil {
			return
		}
		subscribersGauge, err = m.Int64ObservableGauge("taskhive_event_subscribers", metric.WithDescription("Current hub subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			subscriberCountMu.Lock()
			n := subscriberCount
			subscriberCountMu.Unlock()
			o.ObserveInt64(subscribersGauge, n)
			return nil
		}, subscribersGauge)
	})
	return err
}

// RecordToolExecution records one tool execution.
func RecordToolExecution(ctx context.Context, tool, risk string, success bool) {
	if toolExecsCounter == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	toolExecsCounter.Add(ctx, 1, metric.WithAttributes(
		AttrTool.String(tool),
		AttrRisk.String(risk),
		AttrOutcome.String(outcome),
	))
}

// RecordApproval records one approval decision.
func RecordApproval(ctx context.Context, approved bool) {
	if approvalsCounter == nil {
		return
	}
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	approvalsCounter.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordModelCall records one model API call with its duration and token counts.
func RecordModelCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, callErr error) {
	outcome := "ok"
	if callErr != nil {
		outcome = "error"
	}
	if modelCallsCounter != nil {
		modelCallsCounter.Add(ctx, 1, metric.WithAttributes(AttrModel.String(model), AttrOutcome.String(outcome)))
	}
	if modelCallDuration != nil {
		modelCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrModel.String(model)))
	}
	if tokensCounter != nil && callErr == nil {
		tokensCounter.Add(ctx, int64(inputTokens), metric.WithAttributes(AttrModel.String(model), AttrOutcome.String("input")))
		tokensCounter.Add(ctx, int64(outputTokens), metric.WithAttributes(AttrModel.String(model), AttrOutcome.String("output")))
	}
}

// RecordEventPublished records one event published to the hub.
func RecordEventPublished(ctx context.Context, eventType string) {
	if eventsCounter != nil {
		eventsCounter.Add(ctx, 1, metric.WithAttributes(AttrEvent.String(eventType)))
	}
}

// AddSession adds 1 to the active session gauge (call on worker creation).
func AddSession() {
	activeSessionsMu.Lock()
	activeSessions++
	activeSessionsMu.Unlock()
}

// RemoveSession subtracts 1 from the active session gauge (call on deregister).
func RemoveSession() {
	activeSessionsMu.Lock()
	activeSessions--
	if activeSessions < 0 {
		activeSessions = 0
	}
	activeSessionsMu.Unlock()
}

// AddSubscriber adds 1 to the hub subscriber gauge (call on subscribe).
func AddSubscriber() {
	subscriberCountMu.Lock()
	subscriberCount++
	subscriberCountMu.Unlock()
}

// RemoveSubscriber subtracts 1 from the hub subscriber gauge (call on unsubscribe).
func RemoveSubscriber() {
	subscriberCountMu.Lock()
	subscriberCount--
	if subscriberCount < 0 {
		subscriberCount = 0
	}
	subscriberCountMu.Unlock()
}
