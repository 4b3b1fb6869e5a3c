package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"taskengine.dev/engine/common/logger"
)

// TaskMessage is what gets enqueued to drive a task forward: run it fresh,
// resume it after an approval, or cancel it mid-flight.
type TaskMessage struct {
	TaskType    TaskType
	TaskID      int64
	WorkspaceID int64
	UserID      int64
	TraceID     *string
	Attempt     int
}

type Producer interface {
	Enqueue(ctx context.Context, msg TaskMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg TaskMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TaskID:      &msg.TaskID,
		WorkspaceID: &msg.WorkspaceID,
		Component:   "taskengine.queue.producer",
	})

	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	taskType := msg.TaskType
	if taskType == "" {
		taskType = TaskTypeRunTask
	}

	fields := map[string]any{
		"task_type":    string(taskType),
		"task_id":      msg.TaskID,
		"workspace_id": msg.WorkspaceID,
		"user_id":      msg.UserID,
		"attempt":      attempt,
	}

	traceIDStr := ""
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
		traceIDStr = *msg.TraceID
	}

	// TODO - add MAXLEN to prevent stream growing unbounded. Redis streams grow
	// until out of memory. Consider XTRIM periodically or MAXLEN ~ with XAdd.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue task (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued task message",
		"task_type", taskType,
		"attempt", attempt,
		"trace_id", traceIDStr,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
