package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"taskengine.dev/engine/common/id"
	"taskengine.dev/engine/internal/http/dto"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/queue"
	"taskengine.dev/engine/internal/store"
)

// TaskHandler exposes the task-engine's external surface: submitting a task,
// resolving an approval, cancelling a run, and listing a user's tasks. The
// heavy lifting (planning, tool dispatch, guardrails) all happens in
// internal/taskengine on the worker side of the queue; this handler only
// persists the initial Task row and enqueues a queue.TaskMessage for a
// worker to pick up.
type TaskHandler struct {
	tasks     store.TaskStore
	approvals store.ApprovalStore
	events    store.EventStore
	producer  queue.Producer
}

func NewTaskHandler(tasks store.TaskStore, approvals store.ApprovalStore, events store.EventStore, producer queue.Producer) *TaskHandler {
	return &TaskHandler{tasks: tasks, approvals: approvals, events: events, producer: producer}
}

// StartTask handles POST /api/v1/tasks: persists a new Task in the planning
// state and enqueues a run_task message for a worker to pick up.
func (h *TaskHandler) StartTask(c *gin.Context) {
	var req dto.StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := model.DefaultGuardrailConfig()
	if req.Config != nil {
		cfg = *req.Config
	}

	task := &model.Task{
		ID:          id.New(),
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		Status:      model.TaskStatusPlanning,
		Goal:        req.Goal,
		Messages:    req.Messages,
		Config:      cfg,
		CreatedAt:   time.Now(),
	}

	if err := h.tasks.SaveTask(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save task"})
		return
	}

	if err := h.producer.Enqueue(c.Request.Context(), queue.TaskMessage{
		TaskType:    queue.TaskTypeRunTask,
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		UserID:      task.UserID,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue task"})
		return
	}

	c.JSON(http.StatusAccepted, dto.ToTaskResponse(task))
}

// GetTask handles GET /api/v1/tasks/:task_id.
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}

	c.JSON(http.StatusOK, dto.ToTaskResponse(task))
}

// ListTasks handles GET /api/v1/tasks?user_id=...&workspace_id=...&status=...
func (h *TaskHandler) ListTasks(c *gin.Context) {
	userIDStr := c.Query("user_id")
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var workspaceID *int64
	if v := c.Query("workspace_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workspace_id"})
			return
		}
		workspaceID = &parsed
	}

	var status *model.TaskStatus
	if v := c.Query("status"); v != "" {
		s := model.TaskStatus(v)
		status = &s
	}

	summaries, err := h.tasks.ListTasks(c.Request.Context(), userID, workspaceID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}

	out := make([]dto.TaskSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, dto.ToTaskSummaryResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// CancelTask handles POST /api/v1/tasks/:task_id/cancel. Cancellation is
// cooperative: the message tells a worker to stop the run at its next
// checkpoint rather than killing anything synchronously here.
func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}
	if task.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "task already reached a terminal state"})
		return
	}

	if err := h.producer.Enqueue(c.Request.Context(), queue.TaskMessage{
		TaskType:    queue.TaskTypeCancelTask,
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		UserID:      task.UserID,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue cancellation"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// ApproveAction handles POST /api/v1/tasks/:task_id/approvals/:approval_id,
// resolving a pending ApprovalRequest and, if approved, re-enqueuing the
// task as a resume_task message.
func (h *TaskHandler) ApproveAction(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}
	approvalID := c.Param("approval_id")
	if approvalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing approval_id"})
		return
	}

	var req dto.ApproveActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	approval, err := h.approvals.ResolveApproval(c.Request.Context(), approvalID, req.Approved, req.DecidedBy)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyResolved) {
			c.JSON(http.StatusConflict, gin.H{"error": "approval already resolved"})
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "approval not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve approval"})
		return
	}
	if approval.TaskID != taskID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "approval does not belong to task"})
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}

	if req.Approved {
		if err := h.producer.Enqueue(c.Request.Context(), queue.TaskMessage{
			TaskType:    queue.TaskTypeResumeTask,
			TaskID:      task.ID,
			WorkspaceID: task.WorkspaceID,
			UserID:      task.UserID,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue resume"})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ToApprovalResponse(approval))
}

func parseTaskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task_id"})
		return 0, false
	}
	return id, true
}
