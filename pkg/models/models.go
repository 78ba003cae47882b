// Package models provides shared types for Taskhive sessions, logs,
// approvals, and API usage. These types mirror the persisted records and are
// stable for use by external consumers of the event feed.
package models

import "time"

// Session is one task's persistent identity and status across its lifetime.
type Session struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	TaskType    string         `json:"task_type,omitempty"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Config      map[string]any `json:"config,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty"`
}

// SessionLog is one structured log line emitted by a worker.
type SessionLog struct {
	LogID     int64          `json:"log_id,omitempty"`
	SessionID string         `json:"session_id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// Approval is a pending or resolved decision for a high-risk tool action.
type Approval struct {
	ApprovalID string     `json:"approval_id"`
	SessionID  string     `json:"session_id"`
	ToolName   string     `json:"tool_name"`
	Command    string     `json:"command"` // serialized tool input
	RiskLevel  string     `json:"risk_level"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// APIUsage records token counts for one model call. Cost is derived
// downstream and not stored here.
type APIUsage struct {
	UsageID      int64     `json:"usage_id,omitempty"`
	SessionID    string    `json:"session_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// ToolUse is a model-issued request to invoke a named tool with structured
// input. It lives only within one loop iteration.
type ToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the outcome of one tool execution. Tools never raise past
// their boundary; every failure mode is expressed here.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}
