package model

import "time"

// StepStatus is the lifecycle state of a Step within a Plan.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusComplete   StepStatus = "complete"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// MaxStepAttempts bounds the number of independent retries a single step may take.
const MaxStepAttempts = 3

// Step is one unit of work inside a Plan.
type Step struct {
	Index         int              `json:"index"`
	Description   string           `json:"description"`
	Status        StepStatus       `json:"status"`
	ExpectedTools []string         `json:"expected_tools,omitempty"`
	ToolCalls     []ToolCallRecord `json:"tool_calls,omitempty"`
	Result        *string          `json:"result,omitempty"`
	Error         *string          `json:"error,omitempty"`
	Attempts      int              `json:"attempts"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the step has reached a final status.
func (s *Step) IsTerminal() bool {
	switch s.Status {
	case StepStatusComplete, StepStatusSkipped:
		return true
	case StepStatusFailed:
		// Failed is terminal only once the retry budget is exhausted; while
		// attempts remain, the executor re-enters the step as in_progress.
		return s.Attempts >= MaxStepAttempts
	default:
		return false
	}
}

// CanRetry reports whether a failed step may be re-entered.
func (s *Step) CanRetry() bool {
	return s.Status == StepStatusFailed && s.Attempts < MaxStepAttempts
}

// Start transitions a pending (or retryable failed) step to in_progress.
func (s *Step) Start(now time.Time) error {
	if s.Status != StepStatusPending && !s.CanRetry() {
		return ErrInvalidState
	}
	s.Status = StepStatusInProgress
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	return nil
}

// Complete marks the step done with the given result text.
func (s *Step) Complete(result string, now time.Time) {
	s.Status = StepStatusComplete
	s.Result = &result
	s.CompletedAt = &now
}

// Skip marks the step skipped with the given reason.
func (s *Step) Skip(reason string, now time.Time) {
	s.Status = StepStatusSkipped
	s.Result = &reason
	s.CompletedAt = &now
}

// Fail records a step-level failure, incrementing attempts.
func (s *Step) Fail(errMsg string, now time.Time) {
	s.Status = StepStatusFailed
	s.Error = &errMsg
	s.Attempts++
	if s.IsTerminal() {
		s.CompletedAt = &now
	}
}

// ToolCall is a request from the LLM to run a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallRecord is the append-only history entry persisted on a Step for
// every tool dispatch, successful or not.
type ToolCallRecord struct {
	ID            string         `json:"id"`
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args"`
	Success       bool           `json:"success"`
	ResultOrError string         `json:"result_or_error"`
	TimeMS        int64          `json:"time_ms"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// ToolResult is the outcome of one tool dispatch.
type ToolResult struct {
	Success         bool   `json:"success"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}
