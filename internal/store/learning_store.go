package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"taskengine.dev/engine/internal/model"
)

// LearningStore persists the per-workspace memory entries the Learner
// extracts from completed tasks (spec §4.K).
type LearningStore interface {
	SaveLearning(ctx context.Context, l *model.Learning) error
	ListLearnings(ctx context.Context, workspaceID int64, limit int) ([]model.Learning, error)
}

type learningStore struct {
	pool dbtx
}

// NewLearningStore constructs a LearningStore backed by the `learnings`
// table, mirroring checkpointStore's plain insert/select-by-owner shape.
func NewLearningStore(pool dbtx) LearningStore {
	return &learningStore{pool: pool}
}

func (s *learningStore) SaveLearning(ctx context.Context, l *model.Learning) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO learnings (workspace_id, rule_updated_by_task_id, type, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`, l.WorkspaceID, l.RuleUpdatedByIssueID, l.Type, l.Content, l.CreatedAt).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("save learning: %w", err)
	}
	return nil
}

func (s *learningStore) ListLearnings(ctx context.Context, workspaceID int64, limit int) ([]model.Learning, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, rule_updated_by_task_id, type, content, created_at, updated_at
		FROM learnings WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("list learnings: %w", err)
	}
	defer rows.Close()

	var out []model.Learning
	for rows.Next() {
		var l model.Learning
		if err := rows.Scan(&l.ID, &l.WorkspaceID, &l.RuleUpdatedByIssueID, &l.Type, &l.Content, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
