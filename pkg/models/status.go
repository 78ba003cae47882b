package models

// Session statuses used throughout the codebase.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Log levels for session log records.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarn    = "warn"
	LevelError   = "error"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Default limits.
const (
	DefaultMaxConcurrentSessions = 10
	DefaultMaxIterations         = 50
	DefaultMaxTokens             = 8192
	DefaultModel                 = "claude-3-5-sonnet-20241022"
	DefaultHubChannelBuffer      = 256
	DefaultSessionListLimit      = 100
	DefaultLogListLimit          = 500
)
