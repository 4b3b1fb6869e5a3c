package model

import "time"

// TaskStatus is the state a Task occupies in its lifecycle.
type TaskStatus string

const (
	TaskStatusPlanning        TaskStatus = "planning"
	TaskStatusExecuting       TaskStatus = "executing"
	TaskStatusObserving       TaskStatus = "observing"
	TaskStatusReflecting      TaskStatus = "reflecting"
	TaskStatusWaitingApproval TaskStatus = "waiting_approval"
	TaskStatusComplete        TaskStatus = "complete"
	TaskStatusFailed          TaskStatus = "failed"
	TaskStatusCancelled       TaskStatus = "cancelled"
	TaskStatusPaused          TaskStatus = "paused"
)

// IsTerminal reports whether status is one of the final states a Task cannot leave.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusComplete, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Message is one turn of pre-seeded conversation history for a chat-embedded task.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage tracks cumulative LLM token consumption for a task.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Total returns prompt + completion tokens consumed so far.
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Task is the unit of autonomous execution: a goal, its plan, and its run state.
type Task struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	WorkspaceID    int64      `json:"workspace_id"`
	ConversationID *int64     `json:"conversation_id,omitempty"`
	Status         TaskStatus `json:"status"`

	Goal     string          `json:"goal"`
	Messages []Message       `json:"messages,omitempty"`
	Config   GuardrailConfig `json:"config"`

	Plan *Plan `json:"plan,omitempty"`

	Iterations     int        `json:"iterations"`
	ToolCallsCount int        `json:"tool_calls_count"`
	TokenUsage     TokenUsage `json:"token_usage"`

	PendingApprovalID *string `json:"pending_approval_id,omitempty"`

	Result *string `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress returns the number of completed steps and the total step count.
func (t *Task) Progress() (done, total int) {
	if t.Plan == nil {
		return 0, 0
	}
	return t.Plan.Progress()
}

// IsComplete reports whether every step of the task's plan has reached a terminal status.
func (t *Task) IsComplete() bool {
	if t.Plan == nil {
		return false
	}
	return t.Plan.IsComplete()
}

// CurrentStep returns the first non-terminal step whose dependencies (if any) are satisfied.
func (t *Task) CurrentStep() *Step {
	if t.Plan == nil {
		return nil
	}
	return t.Plan.CurrentStep()
}

// AdvanceToNext validates and applies the monotonic counter/state invariants
// that must hold whenever the task's iteration count increases.
func (t *Task) AdvanceToNext() error {
	if t.Status.IsTerminal() {
		return ErrInvalidState
	}
	t.Iterations++
	return nil
}
