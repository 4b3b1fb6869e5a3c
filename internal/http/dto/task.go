package dto

import (
	"time"

	"taskengine.dev/engine/internal/model"
)

// StartTaskRequest is the payload for POST /api/v1/tasks.
type StartTaskRequest struct {
	UserID      int64                  `json:"user_id,string" binding:"required"`
	WorkspaceID int64                  `json:"workspace_id,string" binding:"required"`
	Goal        string                 `json:"goal" binding:"required,min=1"`
	Messages    []model.Message        `json:"messages,omitempty"`
	Config      *model.GuardrailConfig `json:"config,omitempty"`
}

// TaskResponse mirrors model.Task for the HTTP surface, stringifying int64
// ids the way the rest of the API does so JS clients don't lose precision.
type TaskResponse struct {
	ID                int64            `json:"id,string"`
	UserID            int64            `json:"user_id,string"`
	WorkspaceID       int64            `json:"workspace_id,string"`
	Status            model.TaskStatus `json:"status"`
	Goal              string           `json:"goal"`
	Plan              *model.Plan      `json:"plan,omitempty"`
	Iterations        int              `json:"iterations"`
	ToolCallsCount    int              `json:"tool_calls_count"`
	PendingApprovalID *string          `json:"pending_approval_id,omitempty"`
	Result            *string          `json:"result,omitempty"`
	Error             *string          `json:"error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

func ToTaskResponse(task *model.Task) *TaskResponse {
	resp := &TaskResponse{
		ID:             task.ID,
		UserID:         task.UserID,
		WorkspaceID:    task.WorkspaceID,
		Status:         task.Status,
		Goal:           task.Goal,
		Plan:           task.Plan,
		Iterations:     task.Iterations,
		ToolCallsCount: task.ToolCallsCount,
		PendingApprovalID: task.PendingApprovalID,
		Result:         task.Result,
		Error:          task.Error,
		CreatedAt:      task.CreatedAt,
		StartedAt:      task.StartedAt,
		CompletedAt:    task.CompletedAt,
	}
	return resp
}

// TaskSummaryResponse mirrors model.TaskSummary for GET /api/v1/tasks.
type TaskSummaryResponse struct {
	ID             int64            `json:"id,string"`
	Goal           string           `json:"goal"`
	Status         model.TaskStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	Iterations     int              `json:"iterations"`
	ToolCallsCount int              `json:"tool_calls_count"`
}

func ToTaskSummaryResponse(s model.TaskSummary) TaskSummaryResponse {
	return TaskSummaryResponse{
		ID:             s.ID,
		Goal:           s.Goal,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		Iterations:     s.Iterations,
		ToolCallsCount: s.ToolCallsCount,
	}
}

// ApproveActionRequest is the payload for POST
// /api/v1/tasks/:task_id/approvals/:approval_id.
type ApproveActionRequest struct {
	Approved  bool  `json:"approved"`
	DecidedBy int64 `json:"decided_by,string" binding:"required"`
}

// ApprovalResponse mirrors model.ApprovalRequest for the HTTP surface.
type ApprovalResponse struct {
	ID         string               `json:"id"`
	TaskID     int64                `json:"task_id,string"`
	StepIndex  int                  `json:"step_index"`
	ToolName   string               `json:"tool_name"`
	ToolArgs   map[string]any       `json:"tool_args,omitempty"`
	RiskLevel  model.RiskLevel      `json:"risk_level"`
	Reason     string               `json:"reason"`
	Status     model.ApprovalStatus `json:"status"`
	CreatedAt  time.Time            `json:"created_at"`
	ExpiresAt  time.Time            `json:"expires_at"`
	ResolvedAt *time.Time           `json:"resolved_at,omitempty"`
}

func ToApprovalResponse(a *model.ApprovalRequest) *ApprovalResponse {
	return &ApprovalResponse{
		ID:         a.ID,
		TaskID:     a.TaskID,
		StepIndex:  a.StepIndex,
		ToolName:   a.ToolName,
		ToolArgs:   a.ToolArgs,
		RiskLevel:  a.RiskLevel,
		Reason:     a.Reason,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt,
		ExpiresAt:  a.ExpiresAt,
		ResolvedAt: a.ResolvedAt,
	}
}
