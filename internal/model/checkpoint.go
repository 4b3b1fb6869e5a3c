package model

import "time"

// Checkpoint is a snapshot of task state taken before a high/critical risk
// tool dispatch, used to roll the task back if that dispatch's completion is
// later rejected (e.g. by a Verifier).
type Checkpoint struct {
	ID           string    `json:"id"`
	TaskID       int64     `json:"task_id"`
	StepIndex    int       `json:"step_index"`
	ToolName     string    `json:"tool_name"`
	SnapshotJSON []byte    `json:"-"` // serialized Task at snapshot time
	CreatedAt    time.Time `json:"created_at"`
}
