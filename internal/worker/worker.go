package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/queue"
	"taskengine.dev/engine/internal/store"
	"taskengine.dev/engine/internal/taskengine"
)

// Config controls worker-loop behavior.
type Config struct {
	MaxAttempts int
}

// Worker pulls task messages off the queue and drives each one through the
// Executor's plan/act/observe/reflect loop until it suspends or reaches a
// terminal state. Grounded on the teacher's issue-processing worker loop
// (claim → process → ACK/requeue), generalized from a GitLab issue event to
// a task-engine run/resume message.
type Worker struct {
	consumer Consumer
	tasks    store.TaskStore
	executor *taskengine.Executor
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

func New(consumer Consumer, tasks store.TaskStore, executor *taskengine.Executor, cfg Config) *Worker {
	return &Worker{
		consumer:  consumer,
		tasks:     tasks,
		executor:  executor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "taskengine-worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "taskengine-worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"task_id", msg.TaskID)
			w.handleFailedMessage(ctx, msg, err)
			continue
		}
		if err := w.consumer.Ack(ctx, msg); err != nil {
			slog.WarnContext(ctx, "failed to ACK message", "error", err, "message_id", msg.ID)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"stack", string(debug.Stack()),
				"message_id", msg.ID,
				"task_id", msg.TaskID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage loads the task named by msg and drives it one full Run
// through the Executor. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	slog.InfoContext(ctx, "processing task message",
		"message_id", msg.ID,
		"task_id", msg.TaskID,
		"task_type", msg.TaskType,
		"attempt", msg.Attempt)

	if msg.TaskType == queue.TaskTypeCancelTask {
		return w.cancelTask(ctx, msg.TaskID)
	}

	task, err := w.tasks.GetTask(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "task message referenced unknown task, acknowledging", "task_id", msg.TaskID)
			return nil
		}
		return fmt.Errorf("loading task: %w", err)
	}

	if task.Status.IsTerminal() {
		slog.InfoContext(ctx, "task already terminal, acknowledging", "task_id", task.ID, "status", task.Status)
		return nil
	}
	if task.Status == model.TaskStatusWaitingApproval && msg.TaskType != queue.TaskTypeResumeTask {
		slog.InfoContext(ctx, "task waiting on approval, acknowledging without running", "task_id", task.ID)
		return nil
	}

	evidence := taskengine.NewEvidenceChain(task.ID)
	if task.Status == model.TaskStatusPlanning || task.StartedAt == nil {
		now := time.Now()
		task.StartedAt = &now
	}
	task.Status = model.TaskStatusExecuting

	return w.executor.Run(ctx, task, evidence)
}

func (w *Worker) cancelTask(ctx context.Context, taskID int64) error {
	task, err := w.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading task to cancel: %w", err)
	}
	if task.Status.IsTerminal() {
		return nil
	}
	task.Status = model.TaskStatusCancelled
	now := time.Now()
	task.CompletedAt = &now
	if err := w.tasks.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("saving cancelled task: %w", err)
	}
	slog.InfoContext(ctx, "task cancelled", "task_id", taskID)
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		if resetErr := w.failStuckTask(ctx, msg.TaskID, err); resetErr != nil {
			slog.WarnContext(ctx, "failed to mark task failed before DLQ",
				"error", resetErr,
				"task_id", msg.TaskID)
		}

		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"task_id", msg.TaskID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"message_id", msg.ID,
		"task_id", msg.TaskID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

func (w *Worker) failStuckTask(ctx context.Context, taskID int64, cause error) error {
	task, err := w.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}
	task.Status = model.TaskStatusFailed
	msg := cause.Error()
	task.Error = &msg
	now := time.Now()
	task.CompletedAt = &now
	return w.tasks.UpdateTask(ctx, task)
}
