package store

import (
	"context"

	"github.com/taskhive/taskhive/pkg/models"
)

// Store is the persistence sink the engine emits session, log, approval,
// and usage records to. The engine only appends and updates; queries exist
// for external read-side consumers (dashboards, CLIs).
// Implementations: the SQLite store in this package and *postgres.Store.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, name, taskType string, config map[string]any) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
	UpdateSessionProgress(ctx context.Context, sessionID string, progress int) error

	// Logs
	AppendLog(ctx context.Context, log models.SessionLog) (int64, error)
	ListLogs(ctx context.Context, sessionID string, limit int) ([]models.SessionLog, error)

	// Approvals
	CreateApproval(ctx context.Context, approval models.Approval) error
	ResolveApproval(ctx context.Context, approvalID string, approved bool) error
	ListPendingApprovals(ctx context.Context) ([]models.Approval, error)

	// Usage
	RecordUsage(ctx context.Context, usage models.APIUsage) (int64, error)
	UsageTotals(ctx context.Context, sessionID string) (inputTokens, outputTokens int64, err error)

	// Lifecycle
	Close() error
}
