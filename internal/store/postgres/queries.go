package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

func (s *Store) CreateSession(ctx context.Context, name, taskType string, config map[string]any) (models.Session, error) {
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
	cfgJSON, err := encodeJSONMap(config)
	if err != nil {
		return models.Session{}, fmt.Errorf("encode config: %w", err)
	}
	_, err = s.Pool.Exec(ctx, `
INSERT INTO sessions(session_id, name, task_type, status, progress, config, created_at, updated_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.Name, sess.TaskType, sess.Status, sess.Progress, cfgJSON, now.Unix(), now.Unix())
	if err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT session_id, name, task_type, status, progress, config, started_at, completed_at, created_at, updated_at
FROM sessions WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = models.DefaultSessionListLimit
	}
	rows, err := s.Pool.Query(ctx, `
SELECT session_id, name, task_type, status, progress, config, started_at, completed_at, created_at, updated_at
FROM sessions ORDER BY created_at DESC, session_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	now := time.Now().Unix()
	var tag interface{ RowsAffected() int64 }
	var err error
	switch status {
	case models.StatusRunning:
		tag, err = s.Pool.Exec(ctx, `
UPDATE sessions SET status=$1, started_at=COALESCE(started_at, $2), updated_at=$3 WHERE session_id=$4`,
			status, now, now, sessionID)
	case models.StatusCompleted, models.StatusFailed:
		tag, err = s.Pool.Exec(ctx, `
UPDATE sessions SET status=$1, completed_at=$2, updated_at=$3 WHERE session_id=$4`,
			status, now, now, sessionID)
	default:
		tag, err = s.Pool.Exec(ctx, `
UPDATE sessions SET status=$1, updated_at=$2 WHERE session_id=$3`,
			status, now, sessionID)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSessionProgress(ctx context.Context, sessionID string, progress int) error {
	tag, err := s.Pool.Exec(ctx, `
UPDATE sessions SET progress=$1, updated_at=$2 WHERE session_id=$3`,
		progress, time.Now().Unix(), sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendLog(ctx context.Context, log models.SessionLog) (int64, error) {
	created := log.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	metaJSON, err := encodeJSONMap(log.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	var id int64
	err = s.Pool.QueryRow(ctx, `
INSERT INTO session_logs(session_id, level, message, metadata, created_at)
VALUES($1, $2, $3, $4, $5) RETURNING log_id`,
		log.SessionID, log.Level, log.Message, metaJSON, created.Unix()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListLogs(ctx context.Context, sessionID string, limit int) ([]models.SessionLog, error) {
	if limit <= 0 {
		limit = models.DefaultLogListLimit
	}
	rows, err := s.Pool.Query(ctx, `
SELECT log_id, session_id, level, message, metadata, created_at
FROM session_logs WHERE session_id = $1 ORDER BY created_at ASC, log_id ASC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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
		l.Metadata = decodeJSONMap(metaRaw)
		l.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CreateApproval(ctx context.Context, approval models.Approval) error {
	created := approval.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	status := approval.Status
	if status == "" {
		status = models.ApprovalPending
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO approvals(approval_id, session_id, tool_name, command, risk_level, status, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7)`,
		approval.ApprovalID, approval.SessionID, approval.ToolName, approval.Command,
		approval.RiskLevel, status, created.Unix())
	return err
}

func (s *Store) ResolveApproval(ctx context.Context, approvalID string, approved bool) error {
	status := models.ApprovalRejected
	if approved {
		status = models.ApprovalApproved
	}
	tag, err := s.Pool.Exec(ctx, `
UPDATE approvals SET status=$1, resolved_at=$2 WHERE approval_id=$3 AND status=$4`,
		status, time.Now().Unix(), approvalID, models.ApprovalPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPendingApprovals(ctx context.Context) ([]models.Approval, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT approval_id, session_id, tool_name, command, risk_level, status, created_at, resolved_at
FROM approvals WHERE status = $1 ORDER BY created_at ASC`, models.ApprovalPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		var (
			a          models.Approval
			createdAt  int64
			resolvedAt *int64
		)
		if err := rows.Scan(&a.ApprovalID, &a.SessionID, &a.ToolName, &a.Command,
			&a.RiskLevel, &a.Status, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		if resolvedAt != nil {
			t := time.Unix(*resolvedAt, 0).UTC()
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) RecordUsage(ctx context.Context, usage models.APIUsage) (int64, error) {
	created := usage.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	var id int64
	err := s.Pool.QueryRow(ctx, `
INSERT INTO api_usage(session_id, model, input_tokens, output_tokens, created_at)
VALUES($1, $2, $3, $4, $5) RETURNING usage_id`,
		usage.SessionID, usage.Model, usage.InputTokens, usage.OutputTokens, created.Unix()).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UsageTotals(ctx context.Context, sessionID string) (int64, int64, error) {
	var in, out int64
	err := s.Pool.QueryRow(ctx, `
SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM api_usage WHERE session_id = $1`, sessionID).Scan(&in, &out)
	if err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		sess        models.Session
		cfgRaw      string
		startedAt   *int64
		completedAt *int64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&sess.ID, &sess.Name, &sess.TaskType, &sess.Status, &sess.Progress,
		&cfgRaw, &startedAt, &completedAt, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Config = decodeJSONMap(cfgRaw)
	if startedAt != nil {
		t := time.Unix(*startedAt, 0).UTC()
		sess.StartedAt = &t
	}
	if completedAt != nil {
		t := time.Unix(*completedAt, 0).UTC()
		sess.CompletedAt = &t
	}
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sess, nil
}

func encodeJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
