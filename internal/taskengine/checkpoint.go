package taskengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"taskengine.dev/engine/common/id"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/store"
)

// CheckpointThreshold is the RiskLevel at or above which the Executor snapshots
// task state before dispatching a tool call, so a rejected completion (e.g. a
// failed verifier pass) can be rolled back (spec §4.J).
const CheckpointThreshold = model.RiskLevelHigh

// CheckpointManager snapshots and restores Task state around risky tool
// dispatches. New component — grounded on internal/worker/reclaimer.go's
// periodic sweep/restore idiom and the store package's serialized-JSON-column
// persistence pattern.
type CheckpointManager struct {
	checkpoints store.CheckpointStore
}

// NewCheckpointManager wraps a CheckpointStore.
func NewCheckpointManager(checkpoints store.CheckpointStore) *CheckpointManager {
	return &CheckpointManager{checkpoints: checkpoints}
}

// ShouldSnapshot reports whether a tool at the given risk level warrants a
// checkpoint before dispatch.
func ShouldSnapshot(risk model.RiskLevel) bool {
	return risk.Exceeds(CheckpointThreshold) || risk == CheckpointThreshold
}

// Snapshot serializes task and persists it as a Checkpoint tied to the
// current step and the tool about to run.
func (m *CheckpointManager) Snapshot(ctx context.Context, task *model.Task, stepIndex int, toolName string) error {
	blob, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task snapshot: %w", err)
	}

	cp := &model.Checkpoint{
		ID:           id.NewUUID(),
		TaskID:       task.ID,
		StepIndex:    stepIndex,
		ToolName:     toolName,
		SnapshotJSON: blob,
		CreatedAt:    time.Now(),
	}
	if err := m.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	slog.DebugContext(ctx, "checkpoint saved", "task_id", task.ID, "step_index", stepIndex, "tool", toolName)
	return nil
}

// Restore fetches the most recent checkpoint for stepIndex and deserializes
// it back into a Task, used to roll a task back to its state just before a
// tool call whose completion was later rejected.
func (m *CheckpointManager) Restore(ctx context.Context, taskID int64, stepIndex int) (*model.Task, error) {
	cp, err := m.checkpoints.LatestCheckpoint(ctx, taskID, stepIndex)
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}

	var restored model.Task
	if err := json.Unmarshal(cp.SnapshotJSON, &restored); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint snapshot: %w", err)
	}
	return &restored, nil
}

// GC deletes every checkpoint for a task once it reaches a terminal state —
// checkpoints only matter while rollback is still possible.
func (m *CheckpointManager) GC(ctx context.Context, taskID int64) error {
	if err := m.checkpoints.DeleteCheckpoints(ctx, taskID); err != nil {
		return fmt.Errorf("gc checkpoints: %w", err)
	}
	return nil
}
