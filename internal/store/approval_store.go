package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"taskengine.dev/engine/internal/model"
)

type approvalStore struct {
	pool dbtx
}

// NewApprovalStore constructs an ApprovalStore backed by the `approvals` table.
func NewApprovalStore(pool dbtx) ApprovalStore {
	return &approvalStore{pool: pool}
}

func (s *approvalStore) SaveApproval(ctx context.Context, a *model.ApprovalRequest) error {
	args, err := json.Marshal(a.ToolArgs)
	if err != nil {
		return fmt.Errorf("marshal approval args: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO approvals (id, task_id, step_index, tool_name, tool_args, risk_level, reason, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.TaskID, a.StepIndex, a.ToolName, args, a.RiskLevel, a.Reason, a.Status, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	return nil
}

func (s *approvalStore) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	return s.scanApproval(ctx, s.pool.QueryRow(ctx, `
		SELECT id, task_id, step_index, tool_name, tool_args, risk_level, reason, status, decided_by, created_at, expires_at, resolved_at
		FROM approvals WHERE id = $1
	`, id))
}

// ResolveApproval applies the first resolution for id; per spec §5's locking
// guarantee, a concurrent second caller is refused via the conditional
// UPDATE ... WHERE status = 'pending' and told the already-resolved outcome.
func (s *approvalStore) ResolveApproval(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error) {
	newStatus := model.ApprovalStatusDenied
	if approved {
		newStatus = model.ApprovalStatusApproved
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		UPDATE approvals SET status = $2, decided_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, newStatus, decidedBy, now)
	if err != nil {
		return nil, fmt.Errorf("resolve approval: %w", err)
	}

	existing, getErr := s.GetApproval(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if tag.RowsAffected() == 0 {
		return existing, model.ErrAlreadyResolved
	}
	return existing, nil
}

func (s *approvalStore) ExpireApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE approvals SET status = 'expired', resolved_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return nil, fmt.Errorf("expire approval: %w", err)
	}
	return s.GetApproval(ctx, id)
}

func (s *approvalStore) scanApproval(ctx context.Context, row pgx.Row) (*model.ApprovalRequest, error) {
	var (
		a          model.ApprovalRequest
		args       []byte
		decidedBy  *int64
		resolvedAt *time.Time
	)
	if err := row.Scan(&a.ID, &a.TaskID, &a.StepIndex, &a.ToolName, &args, &a.RiskLevel, &a.Reason, &a.Status, &decidedBy, &a.CreatedAt, &a.ExpiresAt, &resolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan approval: %w", err)
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a.ToolArgs); err != nil {
			return nil, fmt.Errorf("unmarshal approval args: %w", err)
		}
	}
	a.DecidedBy = decidedBy
	a.ResolvedAt = resolvedAt
	return &a, nil
}
