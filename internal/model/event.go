package model

import "time"

// EventKind enumerates the externally-visible progress events a task emits.
type EventKind string

const (
	EventKindPlanCreated    EventKind = "plan_created"
	EventKindStepStarted    EventKind = "step_started"
	EventKindToolCalled     EventKind = "tool_called"
	EventKindToolResult     EventKind = "tool_result"
	EventKindStepComplete   EventKind = "step_complete"
	EventKindStepFailed     EventKind = "step_failed"
	EventKindApprovalNeeded EventKind = "approval_needed"
	EventKindThinking       EventKind = "thinking"
	EventKindTaskComplete   EventKind = "task_complete"
	EventKindTaskFailed     EventKind = "task_failed"
	EventKindTaskPaused     EventKind = "task_paused"
	EventKindVerifierStart  EventKind = "verifier_started"
	EventKindVerifierPassed EventKind = "verifier_passed"
	EventKindVerifierFailed EventKind = "verifier_failed"
	EventKindRoutingInfo    EventKind = "routing_info"
	EventKindMetricsUpdate  EventKind = "metrics_update"
)

// TaskEvent is one entry in a task's totally-ordered, replayable event log.
type TaskEvent struct {
	ID         int64          `json:"id"`
	TaskID     int64          `json:"task_id"`
	Kind       EventKind      `json:"type"`
	StepIndex  *int           `json:"step_id,omitempty"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Progress   float64        `json:"progress"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// ProviderRoute is what the Model Router chose for a step, surfaced on
// routing_info events.
type ProviderRoute struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Reason      string  `json:"reason"`
}

// TaskSummary is the list-projection of a Task returned by ListTasks.
type TaskSummary struct {
	ID             int64      `json:"id"`
	Goal           string     `json:"goal"`
	Status         TaskStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	Iterations     int        `json:"iterations"`
	ToolCallsCount int        `json:"tool_calls_count"`
}
