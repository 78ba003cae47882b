// Package events defines the worker event feed and the in-process hub that
// fans events out to subscribers (persistence plumbing, CLIs, tests).
package events

import (
	"time"

	"github.com/taskhive/taskhive/pkg/models"
)

// Event type names. Every event a worker emits carries exactly one of these.
const (
	TypeLog              = "log"
	TypeStatus           = "status"
	TypeProgress         = "progress"
	TypeApprovalNeeded   = "approval_needed"
	TypeApprovalResolved = "approval_resolved"
	TypeAPIUsage         = "api_usage"
	TypeCompleted        = "completed"
	TypeFailed           = "failed"
	TypeStopped          = "stopped"
)

// Event is one message emitted by a worker. Only the fields relevant to its
// Type are populated. Events from one worker are delivered in emit order.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// TypeLog
	Level    string         `json:"level,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// TypeStatus
	Status string `json:"status,omitempty"`

	// TypeProgress
	Progress *int `json:"progress,omitempty"`

	// TypeApprovalNeeded / TypeApprovalResolved
	ApprovalID string          `json:"approval_id,omitempty"`
	ToolUse    *models.ToolUse `json:"tool_use,omitempty"`
	RiskLevel  string          `json:"risk_level,omitempty"`
	Approved   *bool           `json:"approved,omitempty"`

	// TypeAPIUsage
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`

	// TypeFailed
	Error string `json:"error,omitempty"`
}

// Log builds a log event.
func Log(sessionID, level, message string, metadata map[string]any) Event {
	return Event{Type: TypeLog, SessionID: sessionID, Level: level, Message: message, Metadata: metadata, Timestamp: time.Now().UTC()}
}

// Status builds a status-change event.
func Status(sessionID, status string) Event {
	return Event{Type: TypeStatus, SessionID: sessionID, Status: status, Timestamp: time.Now().UTC()}
}

// Progress builds a progress event.
func Progress(sessionID string, progress int) Event {
	p := progress
	return Event{Type: TypeProgress, SessionID: sessionID, Progress: &p, Timestamp: time.Now().UTC()}
}
