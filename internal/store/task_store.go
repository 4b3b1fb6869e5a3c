package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"taskengine.dev/engine/internal/model"
)

type taskStore struct {
	pool dbtx
}

// NewTaskStore constructs a TaskStore backed by the `tasks` table. Plan,
// GuardrailConfig, TokenUsage, and pointer-optional fields are stored as a
// single `body` jsonb column — mirroring the teacher's spec_store.go
// serialized-blob idiom — while id/status/workspace/user are real columns
// so ListTasks can filter without unpacking JSON.
func NewTaskStore(pool dbtx) TaskStore {
	return &taskStore{pool: pool}
}

type taskBody struct {
	ConversationID    *int64                `json:"conversation_id,omitempty"`
	Goal              string                `json:"goal"`
	Messages          []model.Message       `json:"messages,omitempty"`
	Config            model.GuardrailConfig `json:"config"`
	Plan              *model.Plan           `json:"plan,omitempty"`
	Iterations        int                   `json:"iterations"`
	ToolCallsCount    int                   `json:"tool_calls_count"`
	TokenUsage        model.TokenUsage      `json:"token_usage"`
	PendingApprovalID *string               `json:"pending_approval_id,omitempty"`
	Result            *string               `json:"result,omitempty"`
	Error             *string               `json:"error,omitempty"`
}

func taskToRow(t *model.Task) (body []byte, err error) {
	return json.Marshal(taskBody{
		ConversationID:    t.ConversationID,
		Goal:              t.Goal,
		Messages:          t.Messages,
		Config:            t.Config,
		Plan:              t.Plan,
		Iterations:        t.Iterations,
		ToolCallsCount:    t.ToolCallsCount,
		TokenUsage:        t.TokenUsage,
		PendingApprovalID: t.PendingApprovalID,
		Result:            t.Result,
		Error:             t.Error,
	})
}

func (s *taskStore) SaveTask(ctx context.Context, task *model.Task) error {
	body, err := taskToRow(task)
	if err != nil {
		return fmt.Errorf("marshal task body: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, user_id, workspace_id, status, body, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, task.ID, task.UserID, task.WorkspaceID, task.Status, body, task.CreatedAt, task.StartedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// UpdateTask serializes updates to the same task id via SELECT ... FOR
// UPDATE inside a transaction, per spec §4.B's "concurrent updates from the
// same task id are serialized by the adapter" contract.
func (s *taskStore) UpdateTask(ctx context.Context, task *model.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var discard int64
	if err := tx.QueryRow(ctx, `SELECT id FROM tasks WHERE id = $1 FOR UPDATE`, task.ID).Scan(&discard); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock task row: %w", err)
	}

	body, err := taskToRow(task)
	if err != nil {
		return fmt.Errorf("marshal task body: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tasks SET status = $2, body = $3, started_at = $4, completed_at = $5
		WHERE id = $1
	`, task.ID, task.Status, body, task.StartedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *taskStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	var (
		userID, workspaceID    int64
		status                 model.TaskStatus
		body                   []byte
		createdAt              time.Time
		startedAt, completedAt *time.Time
	)
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, workspace_id, status, body, created_at, started_at, completed_at
		FROM tasks WHERE id = $1
	`, id)
	if err := row.Scan(&userID, &workspaceID, &status, &body, &createdAt, &startedAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var b taskBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("unmarshal task body: %w", err)
	}

	return &model.Task{
		ID:                id,
		UserID:            userID,
		WorkspaceID:       workspaceID,
		Status:            status,
		ConversationID:    b.ConversationID,
		Goal:              b.Goal,
		Messages:          b.Messages,
		Config:            b.Config,
		Plan:              b.Plan,
		Iterations:        b.Iterations,
		ToolCallsCount:    b.ToolCallsCount,
		TokenUsage:        b.TokenUsage,
		PendingApprovalID: b.PendingApprovalID,
		Result:            b.Result,
		Error:             b.Error,
		CreatedAt:         createdAt,
		StartedAt:         startedAt,
		CompletedAt:       completedAt,
	}, nil
}

func (s *taskStore) ListTasks(ctx context.Context, userID int64, workspaceID *int64, status *model.TaskStatus) ([]model.TaskSummary, error) {
	query := `SELECT id, status, body, created_at FROM tasks WHERE user_id = $1`
	args := []any{userID}
	if workspaceID != nil {
		args = append(args, *workspaceID)
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}
	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var summaries []model.TaskSummary
	for rows.Next() {
		var (
			id        int64
			status    model.TaskStatus
			body      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &status, &body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task summary: %w", err)
		}
		var b taskBody
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("unmarshal task summary body: %w", err)
		}
		summaries = append(summaries, model.TaskSummary{
			ID:             id,
			Goal:           b.Goal,
			Status:         status,
			Iterations:     b.Iterations,
			ToolCallsCount: b.ToolCallsCount,
			CreatedAt:      createdAt,
		})
	}
	return summaries, rows.Err()
}
