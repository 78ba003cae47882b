package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/taskhive/pkg/models"
)

// ErrNotFound reports a lookup for a row that does not exist.
var ErrNotFound = errors.New("not found")

func (s *sqliteStore) CreateSession(ctx context.Context, name, taskType string, config map[string]any) (models.Session, error) {
	now := time.Now().UTC()
	sess := models.Session{
		ID:        uuid.NewString(),
		Name:      name,
		TaskType:  taskType,
		Status:    models.StatusIdle,
		Progress:  0,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	cfgJSON, err := marshalJSONMap(config)
	if err != nil {
		return models.Session{}, fmt.Errorf("encode config: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO sessions(session_id, name, task_type, status, progress, config, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.TaskType, sess.Status, sess.Progress, cfgJSON, now.Unix(), now.Unix())
	if err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

func (s *sqliteStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.stmtGetSession.QueryRowContext(ctx, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *sqliteStore) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = models.DefaultSessionListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT session_id, name, task_type, status, progress, config, started_at, completed_at, created_at, updated_at
FROM sessions ORDER BY created_at DESC, session_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	now := time.Now().Unix()
	var res sql.Result
	var err error
	switch status {
	case models.StatusRunning:
		// Stamp started_at on first transition into running only.
		res, err = s.DB.ExecContext(ctx, `
UPDATE sessions SET status=?, started_at=COALESCE(started_at, ?), updated_at=? WHERE session_id=?`,
			status, now, now, sessionID)
	case models.StatusCompleted, models.StatusFailed:
		res, err = s.DB.ExecContext(ctx, `
UPDATE sessions SET status=?, completed_at=?, updated_at=? WHERE session_id=?`,
			status, now, now, sessionID)
	default:
		res, err = s.DB.ExecContext(ctx, `
UPDATE sessions SET status=?, updated_at=? WHERE session_id=?`,
			status, now, sessionID)
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) UpdateSessionProgress(ctx context.Context, sessionID string, progress int) error {
	res, err := s.stmtUpdateProgress.ExecContext(ctx, progress, time.Now().Unix(), sessionID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) AppendLog(ctx context.Context, log models.SessionLog) (int64, error) {
	created := log.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	metaJSON, err := marshalJSONMap(log.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.stmtAppendLog.ExecContext(ctx, log.SessionID, log.Level, log.Message, metaJSON, created.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListLogs(ctx context.Context, sessionID string, limit int) ([]models.SessionLog, error) {
	if limit <= 0 {
		limit = models.DefaultLogListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT log_id, session_id, level, message, metadata, created_at
FROM session_logs WHERE session_id = ? ORDER BY created_at ASC, log_id ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.SessionLog
	for rows.Next() {
		var (
			l         models.SessionLog
			metaRaw   string
			createdAt int64
		)
		if err := rows.Scan(&l.LogID, &l.SessionID, &l.Level, &l.Message, &metaRaw, &createdAt); err != nil {
			return nil, err
		}
		l.Metadata = unmarshalJSONMap(metaRaw)
		l.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateApproval(ctx context.Context, approval models.Approval) error {
	created := approval.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	status := approval.Status
	if status == "" {
		status = models.ApprovalPending
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO approvals(approval_id, session_id, tool_name, command, risk_level, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		approval.ApprovalID, approval.SessionID, approval.ToolName, approval.Command,
		approval.RiskLevel, status, created.Unix())
	return err
}

func (s *sqliteStore) ResolveApproval(ctx context.Context, approvalID string, approved bool) error {
	status := models.ApprovalRejected
	if approved {
		status = models.ApprovalApproved
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE approvals SET status=?, resolved_at=? WHERE approval_id=? AND status=?`,
		status, time.Now().Unix(), approvalID, models.ApprovalPending)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) ListPendingApprovals(ctx context.Context) ([]models.Approval, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT approval_id, session_id, tool_name, command, risk_level, status, created_at, resolved_at
FROM approvals WHERE status = ? ORDER BY created_at ASC`, models.ApprovalPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Approval
	for rows.Next() {
		var (
			a          models.Approval
			createdAt  int64
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&a.ApprovalID, &a.SessionID, &a.ToolName, &a.Command,
			&a.RiskLevel, &a.Status, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		if resolvedAt.Valid {
			t := time.Unix(resolvedAt.Int64, 0).UTC()
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordUsage(ctx context.Context, usage models.APIUsage) (int64, error) {
	created := usage.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.stmtRecordUsage.ExecContext(ctx, usage.SessionID, usage.Model,
		usage.InputTokens, usage.OutputTokens, created.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) UsageTotals(ctx context.Context, sessionID string) (int64, int64, error) {
	var in, out int64
	err := s.DB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM api_usage WHERE session_id = ?`, sessionID).Scan(&in, &out)
	if err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*models.Session, error) {
	var (
		sess        models.Session
		cfgRaw      string
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := sc.Scan(&sess.ID, &sess.Name, &sess.TaskType, &sess.Status, &sess.Progress,
		&cfgRaw, &startedAt, &completedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Config = unmarshalJSONMap(cfgRaw)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0).UTC()
		sess.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		sess.CompletedAt = &t
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sess, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSONMap(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
