package handler_test

import (
	"context"

	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/queue"
)

type mockTaskStore struct {
	saveFn func(ctx context.Context, task *model.Task) error
	getFn  func(ctx context.Context, id int64) (*model.Task, error)
	listFn func(ctx context.Context, userID int64, workspaceID *int64, status *model.TaskStatus) ([]model.TaskSummary, error)
	saved  []*model.Task
}

func (m *mockTaskStore) SaveTask(ctx context.Context, task *model.Task) error {
	m.saved = append(m.saved, task)
	if m.saveFn != nil {
		return m.saveFn(ctx, task)
	}
	return nil
}

func (m *mockTaskStore) UpdateTask(ctx context.Context, task *model.Task) error {
	return nil
}

func (m *mockTaskStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockTaskStore) ListTasks(ctx context.Context, userID int64, workspaceID *int64, status *model.TaskStatus) ([]model.TaskSummary, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, workspaceID, status)
	}
	return nil, nil
}

type mockApprovalStore struct {
	saveFn    func(ctx context.Context, approval *model.ApprovalRequest) error
	getFn     func(ctx context.Context, id string) (*model.ApprovalRequest, error)
	resolveFn func(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error)
	expireFn  func(ctx context.Context, id string) (*model.ApprovalRequest, error)
}

func (m *mockApprovalStore) SaveApproval(ctx context.Context, approval *model.ApprovalRequest) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, approval)
	}
	return nil
}

func (m *mockApprovalStore) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockApprovalStore) ResolveApproval(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, id, approved, decidedBy)
	}
	return nil, nil
}

func (m *mockApprovalStore) ExpireApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	if m.expireFn != nil {
		return m.expireFn(ctx, id)
	}
	return nil, nil
}

type mockEventStore struct {
	replayFn    func(ctx context.Context, taskID int64) ([]model.TaskEvent, error)
	subscribeFn func(ctx context.Context, taskID int64, lastID string, ch chan<- model.TaskEvent) error
}

func (m *mockEventStore) AppendEvent(ctx context.Context, event model.TaskEvent) error {
	return nil
}

func (m *mockEventStore) ReplayEvents(ctx context.Context, taskID int64) ([]model.TaskEvent, error) {
	if m.replayFn != nil {
		return m.replayFn(ctx, taskID)
	}
	return nil, nil
}

func (m *mockEventStore) SubscribeEvents(ctx context.Context, taskID int64, lastID string, ch chan<- model.TaskEvent) error {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, taskID, lastID, ch)
	}
	close(ch)
	return nil
}

type mockProducer struct {
	enqueueFn func(ctx context.Context, msg queue.TaskMessage) error
	enqueued  []queue.TaskMessage
}

func (m *mockProducer) Enqueue(ctx context.Context, msg queue.TaskMessage) error {
	m.enqueued = append(m.enqueued, msg)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, msg)
	}
	return nil
}

func (m *mockProducer) Close() error { return nil }
