package store

import (
	"context"

	"taskengine.dev/engine/internal/model"
)

// TaskStore persists Task aggregates (including their embedded Plan/Steps).
// Concurrent updates to the same task id must be serialized by the adapter —
// see taskStore.UpdateTask's row-level locking.
type TaskStore interface {
	SaveTask(ctx context.Context, task *model.Task) error
	UpdateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	ListTasks(ctx context.Context, userID int64, workspaceID *int64, status *model.TaskStatus) ([]model.TaskSummary, error)
}

// ApprovalStore persists ApprovalRequests. ResolveApproval must refuse a
// second resolution (spec §5's "Locking" guarantee), surfacing
// model.ErrAlreadyResolved.
type ApprovalStore interface {
	SaveApproval(ctx context.Context, approval *model.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error)
	ExpireApproval(ctx context.Context, id string) (*model.ApprovalRequest, error)
}

// EventStore appends to and replays each task's ordered, bounded event log.
type EventStore interface {
	AppendEvent(ctx context.Context, event model.TaskEvent) error
	ReplayEvents(ctx context.Context, taskID int64) ([]model.TaskEvent, error)
	// SubscribeEvents blocks, streaming new events for taskID onto ch until
	// ctx is cancelled or a read fails; it does not stop on its own at a
	// terminal event, so callers (StreamTaskEvents, cmd/task) stop reading
	// once they see one. It is the live half of the "replay then subscribe"
	// contract StreamTaskEvents needs.
	SubscribeEvents(ctx context.Context, taskID int64, lastID string, ch chan<- model.TaskEvent) error
}

// EvidenceStore persists a task's DecisionRecord chain. Per spec §4.H the
// chain is accumulated in memory during execution and flushed in one batch
// at task completion.
type EvidenceStore interface {
	AppendDecisions(ctx context.Context, taskID int64, decisions []model.DecisionRecord) error
	GetDecisions(ctx context.Context, taskID int64) ([]model.DecisionRecord, error)
}

// CheckpointStore persists and reclaims Checkpoint snapshots.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, checkpoint *model.Checkpoint) error
	LatestCheckpoint(ctx context.Context, taskID int64, stepIndex int) (*model.Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, taskID int64) error
}
