package taskengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskengine.dev/engine/internal/model"
)

func registryWith(def ToolDefinition) *Registry {
	r := NewRegistry()
	r.Register(def)
	return r
}

func TestDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(NewRegistry())
	result := d.Dispatch(context.Background(), model.ToolCall{Name: "nope"})
	if result.Success {
		t.Fatal("Dispatch(unknown tool) succeeded, want failure")
	}
}

func TestDispatchValidatesArguments(t *testing.T) {
	t.Parallel()

	registry := registryWith(ToolDefinition{
		Name: "needs_arg",
		ParameterSchema: map[string]any{
			"type":     "object",
			"required": []any{"path"},
		},
		Handler: func(_ context.Context, args map[string]any) (model.ToolResult, error) {
			return model.ToolResult{Success: true}, nil
		},
	})

	d := NewDispatcher(registry)
	result := d.Dispatch(context.Background(), model.ToolCall{Name: "needs_arg", Arguments: map[string]any{}})
	if result.Success {
		t.Fatal("Dispatch() with missing required arg succeeded, want validation failure")
	}
}

func TestDispatchSuccess(t *testing.T) {
	t.Parallel()

	registry := registryWith(ToolDefinition{
		Name: "ok_tool",
		Handler: func(_ context.Context, args map[string]any) (model.ToolResult, error) {
			return model.ToolResult{Success: true, Output: "done"}, nil
		},
	})

	d := NewDispatcher(registry)
	result := d.Dispatch(context.Background(), model.ToolCall{Name: "ok_tool"})
	if !result.Success || result.Output != "done" {
		t.Fatalf("Dispatch() = %+v, want success with output %q", result, "done")
	}
}

func TestDispatchRetriesTransientFailureThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int
	registry := registryWith(ToolDefinition{
		Name: "flaky_tool",
		Handler: func(_ context.Context, args map[string]any) (model.ToolResult, error) {
			calls++
			if calls < 2 {
				return model.ToolResult{}, errors.New("connection reset: timeout")
			}
			return model.ToolResult{Success: true}, nil
		},
	})

	d := NewDispatcher(registry)
	result := d.Dispatch(context.Background(), model.ToolCall{Name: "flaky_tool"})
	if !result.Success {
		t.Fatalf("Dispatch() = %+v, want success after retry", result)
	}
	if calls != 2 {
		t.Fatalf("handler invoked %d times, want 2", calls)
	}
}

func TestDispatchDoesNotRetryNonTransientFailure(t *testing.T) {
	t.Parallel()

	var calls int
	registry := registryWith(ToolDefinition{
		Name: "broken_tool",
		Handler: func(_ context.Context, args map[string]any) (model.ToolResult, error) {
			calls++
			return model.ToolResult{}, errors.New("permission denied")
		},
	})

	d := NewDispatcher(registry)
	result := d.Dispatch(context.Background(), model.ToolCall{Name: "broken_tool"})
	if result.Success {
		t.Fatal("Dispatch() succeeded, want failure")
	}
	if calls != 1 {
		t.Fatalf("handler invoked %d times, want 1 (non-transient failures must not retry)", calls)
	}
}

func TestDispatchTimesOutSlowHandler(t *testing.T) {
	t.Parallel()

	registry := registryWith(ToolDefinition{
		Name:           "slow_tool",
		TimeoutSeconds: 1,
		Handler: func(ctx context.Context, args map[string]any) (model.ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return model.ToolResult{Success: true}, nil
			case <-ctx.Done():
				return model.ToolResult{}, ctx.Err()
			}
		},
	})

	d := NewDispatcher(registry)
	result := d.Dispatch(context.Background(), model.ToolCall{Name: "slow_tool"})
	if result.Success {
		t.Fatal("Dispatch() succeeded, want timeout failure")
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		errText string
		want    bool
	}{
		{"", false},
		{"rate limit exceeded", true},
		{"502 Bad Gateway", true},
		{"permission denied", false},
		{"NETWORK unreachable", true},
	}
	for _, tc := range cases {
		if got := isTransient(tc.errText); got != tc.want {
			t.Fatalf("isTransient(%q) = %v, want %v", tc.errText, got, tc.want)
		}
	}
}
