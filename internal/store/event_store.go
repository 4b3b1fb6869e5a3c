package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"taskengine.dev/engine/internal/model"
)

// TaskEventHistoryMax bounds the per-task event log length (spec §6's
// TASK_EVENT_HISTORY_MAX, default 300).
const TaskEventHistoryMax = 300

// TaskEventTTL bounds how long a per-task stream survives (spec §6's
// TASK_EVENT_TTL_SECONDS, default 3600).
const TaskEventTTL = time.Hour

type eventStore struct {
	client *redis.Client
}

// NewEventStore constructs an EventStore over Redis Streams — one stream
// per task, grounded on internal/queue/producer.go's XAdd usage and
// internal/http/handler/agent_status.go's XRead-and-flush subscribe loop,
// generalized from "agent status" to "task events".
func NewEventStore(client *redis.Client) EventStore {
	return &eventStore{client: client}
}

func taskStreamKey(taskID int64) string {
	return fmt.Sprintf("task-events:%d", taskID)
}

func (s *eventStore) AppendEvent(ctx context.Context, event model.TaskEvent) error {
	values, err := eventToValues(event)
	if err != nil {
		return fmt.Errorf("marshal task event: %w", err)
	}
	key := taskStreamKey(event.TaskID)
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: TaskEventHistoryMax,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	return s.client.Expire(ctx, key, TaskEventTTL).Err()
}

func (s *eventStore) ReplayEvents(ctx context.Context, taskID int64) ([]model.TaskEvent, error) {
	msgs, err := s.client.XRange(ctx, taskStreamKey(taskID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("replay task events: %w", err)
	}
	events := make([]model.TaskEvent, 0, len(msgs))
	for _, msg := range msgs {
		event, err := valuesToEvent(msg.Values)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// SubscribeEvents blocks on XRead starting from lastID (use "$" for
// live-only, or the id of the last replayed event to pick up immediately
// after it), writing every new event to ch until ctx is cancelled. This is
// the live half of StreamTaskEvents' "replay then subscribe" contract.
func (s *eventStore) SubscribeEvents(ctx context.Context, taskID int64, lastID string, ch chan<- model.TaskEvent) error {
	stream := taskStreamKey(taskID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   25 * time.Second,
			Count:   100,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("subscribe task events: %w", err)
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				lastID = msg.ID
				event, err := valuesToEvent(msg.Values)
				if err != nil {
					return err
				}
				select {
				case ch <- event:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func eventToValues(e model.TaskEvent) (map[string]any, error) {
	values := map[string]any{
		"id":          strconv.FormatInt(e.ID, 10),
		"task_id":     strconv.FormatInt(e.TaskID, 10),
		"type":        string(e.Kind),
		"content":     e.Content,
		"tool_name":   e.ToolName,
		"approval_id": e.ApprovalID,
		"progress":    strconv.FormatFloat(e.Progress, 'f', -1, 64),
		"emitted_at":  e.EmittedAt.Format(time.RFC3339Nano),
	}
	if e.StepIndex != nil {
		values["step_index"] = strconv.Itoa(*e.StepIndex)
	}
	if e.ToolArgs != nil {
		b, err := json.Marshal(e.ToolArgs)
		if err != nil {
			return nil, err
		}
		values["tool_args"] = string(b)
	}
	if e.ToolResult != nil {
		b, err := json.Marshal(e.ToolResult)
		if err != nil {
			return nil, err
		}
		values["tool_result"] = string(b)
	}
	return values, nil
}

func valuesToEvent(values map[string]any) (model.TaskEvent, error) {
	var e model.TaskEvent
	e.ID, _ = strconv.ParseInt(strField(values, "id"), 10, 64)
	e.TaskID, _ = strconv.ParseInt(strField(values, "task_id"), 10, 64)
	e.Kind = model.EventKind(strField(values, "type"))
	e.Content = strField(values, "content")
	e.ToolName = strField(values, "tool_name")
	e.ApprovalID = strField(values, "approval_id")
	e.Progress, _ = strconv.ParseFloat(strField(values, "progress"), 64)
	if ts := strField(values, "emitted_at"); ts != "" {
		e.EmittedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if idx := strField(values, "step_index"); idx != "" {
		n, err := strconv.Atoi(idx)
		if err == nil {
			e.StepIndex = &n
		}
	}
	if args := strField(values, "tool_args"); args != "" {
		if err := json.Unmarshal([]byte(args), &e.ToolArgs); err != nil {
			return e, fmt.Errorf("unmarshal tool_args: %w", err)
		}
	}
	if res := strField(values, "tool_result"); res != "" {
		var tr model.ToolResult
		if err := json.Unmarshal([]byte(res), &tr); err != nil {
			return e, fmt.Errorf("unmarshal tool_result: %w", err)
		}
		e.ToolResult = &tr
	}
	return e, nil
}

func strField(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
