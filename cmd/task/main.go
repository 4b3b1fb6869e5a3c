// Command task submits a single goal to the task engine and streams its
// event log to stdout until the task reaches a terminal state. It talks to
// the same Postgres/Redis the server and worker use; it enqueues the run and
// then just watches, the way a thin CLI in front of a queued service should.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"taskengine.dev/engine/common/id"
	"taskengine.dev/engine/common/logger"
	taskcfg "taskengine.dev/engine/core/config"
	"taskengine.dev/engine/core/db"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/queue"
	"taskengine.dev/engine/internal/store"
)

func main() {
	userID := flag.Int64("user", 0, "user id submitting the task (required)")
	workspaceID := flag.Int64("workspace", 0, "workspace id the task runs in (required)")
	goal := flag.String("goal", "", "the goal to hand the agent (required)")
	flag.Parse()

	ctx := context.Background()

	cfg, err := taskcfg.Load(taskcfg.ServiceTypeTask)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	if *userID == 0 || *workspaceID == 0 || *goal == "" {
		fmt.Fprintln(os.Stderr, "usage: task -user <id> -workspace <id> -goal <text>")
		os.Exit(2)
	}

	if err := id.Init(3); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	producer := queue.NewRedisProducer(redisClient, queue.DefaultStreamName)
	defer producer.Close()

	stores := store.NewStores(database.Pool(), redisClient)

	task := &model.Task{
		ID:          id.New(),
		UserID:      *userID,
		WorkspaceID: *workspaceID,
		Status:      model.TaskStatusPlanning,
		Goal:        *goal,
		Config:      model.DefaultGuardrailConfig(),
		CreatedAt:   time.Now(),
	}

	if err := stores.Tasks().SaveTask(ctx, task); err != nil {
		slog.ErrorContext(ctx, "failed to save task", "error", err)
		os.Exit(1)
	}

	if err := producer.Enqueue(ctx, queue.TaskMessage{
		TaskType:    queue.TaskTypeRunTask,
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		UserID:      task.UserID,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue task", "error", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "submitted task %d, waiting for events...\n\n", task.ID)

	if err := streamEvents(ctx, stores.Events(), task.ID); err != nil {
		slog.ErrorContext(ctx, "event stream ended with error", "error", err)
		os.Exit(1)
	}
}

// streamEvents prints the task's event log to stdout, replaying what is
// already recorded and then following the live stream until a terminal
// event arrives or ctx is cancelled.
func streamEvents(ctx context.Context, events store.EventStore, taskID int64) error {
	history, err := events.ReplayEvents(ctx, taskID)
	if err != nil {
		return fmt.Errorf("replay events: %w", err)
	}
	for _, event := range history {
		printEvent(event)
		if terminal(event.Kind) {
			return nil
		}
	}

	ch := make(chan model.TaskEvent, 16)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- events.SubscribeEvents(subCtx, taskID, "$", ch)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case event, open := <-ch:
			if !open {
				return nil
			}
			printEvent(event)
			if terminal(event.Kind) {
				return nil
			}
		}
	}
}

func printEvent(event model.TaskEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		fmt.Printf("[%s] %s\n", event.Kind, event.Content)
		return
	}
	fmt.Println(string(line))
}

func terminal(kind model.EventKind) bool {
	switch kind {
	case model.EventKindTaskComplete, model.EventKindTaskFailed:
		return true
	default:
		return false
	}
}
