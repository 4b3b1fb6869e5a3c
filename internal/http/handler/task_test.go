package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"taskengine.dev/engine/internal/http/handler"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/queue"
	"taskengine.dev/engine/internal/store"
)

func newTestRouter(tasks *mockTaskStore, approvals *mockApprovalStore, events *mockEventStore, producer *mockProducer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := handler.NewTaskHandler(tasks, approvals, events, producer)
	eh := handler.NewTaskEventHandler(events)

	router.POST("/tasks", h.StartTask)
	router.GET("/tasks", h.ListTasks)
	router.GET("/tasks/:task_id", h.GetTask)
	router.GET("/tasks/:task_id/events", eh.StreamTaskEvents)
	router.POST("/tasks/:task_id/cancel", h.CancelTask)
	router.POST("/tasks/:task_id/approvals/:approval_id", h.ApproveAction)
	return router
}

func TestStartTaskReturns202AndEnqueues(t *testing.T) {
	t.Parallel()

	tasks := &mockTaskStore{}
	producer := &mockProducer{}
	router := newTestRouter(tasks, &mockApprovalStore{}, &mockEventStore{}, producer)

	body, _ := json.Marshal(map[string]any{
		"user_id":      "10",
		"workspace_id": "20",
		"goal":         "ship the feature",
	})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusAccepted, w.Body.String())
	}
	if len(tasks.saved) != 1 {
		t.Fatalf("saved %d tasks, want 1", len(tasks.saved))
	}
	if len(producer.enqueued) != 1 || producer.enqueued[0].TaskType != queue.TaskTypeRunTask {
		t.Fatalf("enqueued = %+v, want one run_task message", producer.enqueued)
	}
}

func TestStartTaskRejectsMissingGoal(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&mockTaskStore{}, &mockApprovalStore{}, &mockEventStore{}, &mockProducer{})

	body, _ := json.Marshal(map[string]any{"user_id": "1", "workspace_id": "1"})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStartTaskSaveFailureReturns500(t *testing.T) {
	t.Parallel()

	tasks := &mockTaskStore{saveFn: func(ctx context.Context, task *model.Task) error {
		return errors.New("db down")
	}}
	router := newTestRouter(tasks, &mockApprovalStore{}, &mockEventStore{}, &mockProducer{})

	body, _ := json.Marshal(map[string]any{"user_id": "1", "workspace_id": "1", "goal": "x"})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	tasks := &mockTaskStore{getFn: func(ctx context.Context, id int64) (*model.Task, error) {
		return nil, store.ErrNotFound
	}}
	router := newTestRouter(tasks, &mockApprovalStore{}, &mockEventStore{}, &mockProducer{})

	req := httptest.NewRequest(http.MethodGet, "/tasks/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetTaskInvalidID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&mockTaskStore{}, &mockApprovalStore{}, &mockEventStore{}, &mockProducer{})

	req := httptest.NewRequest(http.MethodGet, "/tasks/not-a-number", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetTaskFound(t *testing.T) {
	t.Parallel()

	tasks := &mockTaskStore{getFn: func(ctx context.Context, id int64) (*model.Task, error) {
		return &model.Task{ID: id, Goal: "ship it", Status: model.TaskStatusExecuting}, nil
	}}
	router := newTestRouter(tasks, &mockApprovalStore{}, &mockEventStore{}, &mockProducer{})

	req := httptest.NewRequest(http.MethodGet, "/tasks/7", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["goal"] != "ship it" {
		t.Fatalf("resp[goal] = %v, want %q", resp["goal"], "ship it")
	}
}

func TestCancelTaskRejectsTerminalTask(t *testing.T) {
	t.Parallel()

	tasks := &mockTaskStore{getFn: func(ctx context.Context, id int64) (*model.Task, error) {
		return &model.Task{ID: id, Status: model.TaskStatusComplete}, nil
	}}
	producer := &mockProducer{}
	router := newTestRouter(tasks, &mockApprovalStore{}, &mockEventStore{}, producer)

	req := httptest.NewRequest(http.MethodPost, "/tasks/7/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if len(producer.enqueued) != 0 {
		t.Fatal("cancel enqueued a message for an already-terminal task")
	}
}

func TestCancelTaskEnqueuesForActiveTask(t *testing.T) {
	t.Parallel()

	tasks := &mockTaskStore{getFn: func(ctx context.Context, id int64) (*model.Task, error) {
		return &model.Task{ID: id, Status: model.TaskStatusExecuting}, nil
	}}
	producer := &mockProducer{}
	router := newTestRouter(tasks, &mockApprovalStore{}, &mockEventStore{}, producer)

	req := httptest.NewRequest(http.MethodPost, "/tasks/7/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(producer.enqueued) != 1 || producer.enqueued[0].TaskType != queue.TaskTypeCancelTask {
		t.Fatalf("enqueued = %+v, want one cancel_task message", producer.enqueued)
	}
}

func TestApproveActionResolvesAndResumes(t *testing.T) {
	t.Parallel()

	approvals := &mockApprovalStore{resolveFn: func(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error) {
		return &model.ApprovalRequest{ID: id, TaskID: 7, Status: model.ApprovalStatusApproved}, nil
	}}
	tasks := &mockTaskStore{getFn: func(ctx context.Context, id int64) (*model.Task, error) {
		return &model.Task{ID: id, WorkspaceID: 1, UserID: 2}, nil
	}}
	producer := &mockProducer{}
	router := newTestRouter(tasks, approvals, &mockEventStore{}, producer)

	body, _ := json.Marshal(map[string]any{"approved": true, "decided_by": "9"})
	req := httptest.NewRequest(http.MethodPost, "/tasks/7/approvals/abc", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if len(producer.enqueued) != 1 || producer.enqueued[0].TaskType != queue.TaskTypeResumeTask {
		t.Fatalf("enqueued = %+v, want one resume_task message", producer.enqueued)
	}
}

func TestApproveActionMismatchedTaskRejected(t *testing.T) {
	t.Parallel()

	approvals := &mockApprovalStore{resolveFn: func(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error) {
		return &model.ApprovalRequest{ID: id, TaskID: 999}, nil
	}}
	router := newTestRouter(&mockTaskStore{}, approvals, &mockEventStore{}, &mockProducer{})

	body, _ := json.Marshal(map[string]any{"approved": true, "decided_by": "9"})
	req := httptest.NewRequest(http.MethodPost, "/tasks/7/approvals/abc", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestApproveActionAlreadyResolvedReturns409(t *testing.T) {
	t.Parallel()

	approvals := &mockApprovalStore{resolveFn: func(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error) {
		return nil, model.ErrAlreadyResolved
	}}
	router := newTestRouter(&mockTaskStore{}, approvals, &mockEventStore{}, &mockProducer{})

	body, _ := json.Marshal(map[string]any{"approved": true, "decided_by": "9"})
	req := httptest.NewRequest(http.MethodPost, "/tasks/7/approvals/abc", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestListTasksRequiresUserID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&mockTaskStore{}, &mockApprovalStore{}, &mockEventStore{}, &mockProducer{})

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListTasksReturnsSummaries(t *testing.T) {
	t.Parallel()

	tasks := &mockTaskStore{listFn: func(ctx context.Context, userID int64, workspaceID *int64, status *model.TaskStatus) ([]model.TaskSummary, error) {
		return []model.TaskSummary{{ID: 1, Goal: "a"}, {ID: 2, Goal: "b"}}, nil
	}}
	router := newTestRouter(tasks, &mockApprovalStore{}, &mockEventStore{}, &mockProducer{})

	req := httptest.NewRequest(http.MethodGet, "/tasks?user_id=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(resp.Tasks))
	}
}
