package queue

import "fmt"

// TaskType distinguishes the kinds of work items the queue carries: running
// a task, resuming a suspended one, and cancelling one. The enum shape lets
// a dedicated maintenance message type be added without touching the wire
// format.
type TaskType string

const (
	TaskTypeRunTask    TaskType = "run_task"
	TaskTypeResumeTask TaskType = "resume_task"
	TaskTypeCancelTask TaskType = "cancel_task"
)

// Task is the in-process representation of a unit of work before it is
// serialized onto the stream.
type Task struct {
	TaskType TaskType
	TaskID   int64
	StepHint *int
	TraceID  *string
	Attempt  int

	WorkspaceID int64
	UserID      int64
}

// DefaultStreamName is the single shared stream a worker fleet consumes
// from. Deployments that need to shard load per workspace can instead use
// WorkspaceStreamName and run one consumer group per shard.
const DefaultStreamName = "taskengine-tasks"

// WorkspaceStreamName returns a per-workspace shard name, for deployments
// that partition the task queue by workspace instead of sharing one stream.
func WorkspaceStreamName(workspaceID int64) string {
	return fmt.Sprintf("taskengine-tasks:workspace-%d", workspaceID)
}
