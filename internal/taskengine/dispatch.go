package taskengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"taskengine.dev/engine/internal/model"
)

// RetryMaxAttempts bounds retry-with-backoff attempts for transient tool
// failures (spec §6's RETRY_MAX_ATTEMPTS, default 3), grounded on
// internal/worker/reclaimer.go's fixed-interval backoff and
// internal/queue/consumer.go's RequeueDelay.
const RetryMaxAttempts = 3

// retryBackoff is the fixed 1s/2s/4s schedule spec §4.C names explicitly.
var retryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// transientMarkers classifies a tool failure as retryable when its error
// text contains any of these substrings (spec §4.C, verbatim list).
var transientMarkers = []string{
	"timeout", "rate limit", "connection", "network",
	"503", "502", "429", "temporarily unavailable",
}

// Dispatcher validates, times out, retries, and runs a single tool call
// against the Registry. Grounded on action_executor.go's Execute/ExecuteBatch
// dispatch-by-type shape, generalized from a fixed switch over Action.Type to
// a registry lookup over Tool.Name.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher constructs a Dispatcher over the given registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch validates args against the tool's compiled schema, then executes
// it with a per-tool timeout and a transient-failure retry loop.
func (d *Dispatcher) Dispatch(ctx context.Context, call model.ToolCall) model.ToolResult {
	start := time.Now()

	def, ok := d.registry.Get(call.Name)
	if !ok {
		return model.ToolResult{
			Success:         false,
			Error:           fmt.Sprintf("unknown tool: %s", call.Name),
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		}
	}

	if err := validateArgs(def, call.Arguments); err != nil {
		return model.ToolResult{
			Success:         false,
			Error:           fmt.Sprintf("validation: %v", err),
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		}
	}

	result := d.dispatchWithRetry(ctx, def, call.Arguments)
	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	return result
}

func validateArgs(def *ToolDefinition, args map[string]any) error {
	if def.compiled == nil {
		return nil
	}
	// jsonschema/v6 validates against Go values decoded the way
	// encoding/json would decode them (map[string]any, []any, float64,
	// string, bool, nil) — args already satisfies that shape.
	if err := def.compiled.Validate(toAny(args)); err != nil {
		var valErr *jsonschema.ValidationError
		if errors.As(err, &valErr) {
			return valErr
		}
		return err
	}
	return nil
}

func toAny(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func (d *Dispatcher) dispatchWithRetry(ctx context.Context, def *ToolDefinition, args map[string]any) model.ToolResult {
	var last model.ToolResult
	for attempt := 0; attempt < RetryMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.ToolResult{Success: false, Error: ctx.Err().Error()}
			case <-time.After(retryBackoff[attempt-1]):
			}
		}

		last = d.dispatchOnce(ctx, def, args)
		if last.Success || !isTransient(last.Error) {
			return last
		}
	}
	return last
}

func (d *Dispatcher) dispatchOnce(ctx context.Context, def *ToolDefinition, args map[string]any) model.ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, timeoutFor(def))
	defer cancel()

	type outcome struct {
		result model.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := def.Handler(callCtx, args)
		done <- outcome{result, err}
	}()

	select {
	case <-callCtx.Done():
		return model.ToolResult{Success: false, Error: "timeout"}
	case o := <-done:
		if o.err != nil {
			return model.ToolResult{Success: false, Error: o.err.Error()}
		}
		return o.result
	}
}

// isTransient applies spec §4.C's substring classification.
func isTransient(errText string) bool {
	if errText == "" {
		return false
	}
	lower := strings.ToLower(errText)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
