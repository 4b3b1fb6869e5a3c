package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"taskengine.dev/engine/internal/model"
)

type checkpointStore struct {
	pool dbtx
}

// NewCheckpointStore constructs a CheckpointStore backed by the
// `task_checkpoints` table, storing each snapshot as an opaque JSON blob —
// the same serialized-blob idiom the teacher uses for generated spec
// documents — keyed by task and step so the most recent one for a step can
// be fetched for rollback.
func NewCheckpointStore(pool dbtx) CheckpointStore {
	return &checkpointStore{pool: pool}
}

func (s *checkpointStore) SaveCheckpoint(ctx context.Context, c *model.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_checkpoints (id, task_id, step_index, tool_name, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.TaskID, c.StepIndex, c.ToolName, c.SnapshotJSON, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *checkpointStore) LatestCheckpoint(ctx context.Context, taskID int64, stepIndex int) (*model.Checkpoint, error) {
	var c model.Checkpoint
	c.TaskID = taskID
	c.StepIndex = stepIndex
	row := s.pool.QueryRow(ctx, `
		SELECT id, tool_name, snapshot, created_at
		FROM task_checkpoints WHERE task_id = $1 AND step_index = $2
		ORDER BY created_at DESC LIMIT 1
	`, taskID, stepIndex)
	if err := row.Scan(&c.ID, &c.ToolName, &c.SnapshotJSON, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	return &c, nil
}

// DeleteCheckpoints garbage-collects every checkpoint for a task, called
// when the task reaches a terminal state (spec §4.J).
func (s *checkpointStore) DeleteCheckpoints(ctx context.Context, taskID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM task_checkpoints WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}
