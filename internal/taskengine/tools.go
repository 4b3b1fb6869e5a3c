// Package taskengine implements the Planner/Executor/Router/Registry that
// drive a Task from "queued" to a terminal state (spec §4).
package taskengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"taskengine.dev/engine/internal/model"
)

// ToolHandler executes one tool call and returns its result. Handlers are
// capability objects, the same shape as ExploreTools.Execute — a thin
// wrapper over the actual side-effecting code — but typed per-tool instead
// of dispatched through one string-keyed switch, since the registry itself
// now owns that switch.
type ToolHandler func(ctx context.Context, args map[string]any) (model.ToolResult, error)

// ToolDefinition is everything the Registry and Dispatcher need to validate,
// route, and gate one tool (spec §4.C).
type ToolDefinition struct {
	Name             string
	Description      string
	ParameterSchema  map[string]any
	RiskLevel        model.RiskLevel
	RequiresApproval bool
	TimeoutSeconds   int
	Category         string
	Handler          ToolHandler

	compiled *jsonschema.Schema
}

// Registry owns the set of registered tool definitions, compiling each
// parameter schema once at registration time (the dispatch-time cost this
// avoids is exactly what explore_tools.go pays per call by reflecting a
// schema from a param struct on every Execute).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolDefinition
}

// NewRegistry creates an empty tool registry and wires in the two control
// tools (task_complete/ask_human) every task needs regardless of its
// domain-specific tool catalog.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*ToolDefinition)}
	r.registerControlTools()
	return r
}

// Register validates and compiles def.ParameterSchema, then adds it to the
// catalog. A tool with an invalid schema is a programmer error, not a
// runtime condition — Register panics rather than silently degrading,
// mirroring explore_tools.go's Definitions() being built once at
// construction rather than guarded per-call.
func (r *Registry) Register(def ToolDefinition) {
	compiled, err := compileSchema(def.Name, def.ParameterSchema)
	if err != nil {
		panic(fmt.Sprintf("taskengine: registering tool %q: %v", def.Name, err))
	}
	def.compiled = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = &def
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		schema = map[string]any{}
	}
	c := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := c.AddResource(url, schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Get returns the definition for name, or false if unregistered.
func (r *Registry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Definitions returns every registered tool, in registration order is not
// guaranteed (map iteration) — callers that need a stable Tool slice for an
// LLM call should sort by name if determinism matters for prompt caching.
func (r *Registry) Definitions() []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		defs = append(defs, def)
	}
	return defs
}

// RiskLevel looks up a tool's configured risk, defaulting to RiskHigh for an
// unregistered name so an unknown tool never silently auto-approves.
func (r *Registry) RiskLevel(name string) model.RiskLevel {
	def, ok := r.Get(name)
	if !ok {
		return model.RiskLevelHigh
	}
	return def.RiskLevel
}

const (
	// ToolTaskComplete signals the step (and possibly the whole plan) is
	// done; handled specially by the Executor rather than via Handler.
	ToolTaskComplete = "task_complete"
	// ToolAskHuman creates an ApprovalRequest and suspends the step.
	ToolAskHuman = "ask_human"
)

func (r *Registry) registerControlTools() {
	r.Register(ToolDefinition{
		Name:        ToolTaskComplete,
		Description: "Signal that the current step is finished.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string", "description": "Summary of what was accomplished."},
			},
			"required": []any{"summary"},
		},
		RiskLevel:      model.RiskLevelLow,
		TimeoutSeconds: 5,
		Category:       "control",
		Handler: func(_ context.Context, args map[string]any) (model.ToolResult, error) {
			summary, _ := args["summary"].(string)
			return model.ToolResult{Success: true, Output: summary}, nil
		},
	})

	r.Register(ToolDefinition{
		Name:        ToolAskHuman,
		Description: "Ask the human operator a clarifying question and wait for their answer.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string", "description": "The question to ask."},
			},
			"required": []any{"question"},
		},
		RiskLevel:        model.RiskLevelMedium,
		RequiresApproval: true,
		TimeoutSeconds:   5,
		Category:         "control",
		// The actual suspend/resume happens in the Executor, which
		// intercepts this tool before dispatch — this handler only runs if
		// somehow invoked directly (e.g. a unit test), in which case it is
		// a no-op success.
		Handler: func(_ context.Context, args map[string]any) (model.ToolResult, error) {
			question, _ := args["question"].(string)
			return model.ToolResult{Success: true, Output: question}, nil
		},
	})
}

// defaultToolTimeout applies when a tool definition leaves TimeoutSeconds
// unset (<= 0).
const defaultToolTimeout = 30 * time.Second

func timeoutFor(def *ToolDefinition) time.Duration {
	if def.TimeoutSeconds <= 0 {
		return defaultToolTimeout
	}
	return time.Duration(def.TimeoutSeconds) * time.Second
}
