package taskengine

import (
	"testing"
	"time"

	"taskengine.dev/engine/internal/model"
)

func TestGuardrailsCheckBudget(t *testing.T) {
	t.Parallel()

	cfg := model.GuardrailConfig{
		MaxIterations:      3,
		MaxToolCalls:       5,
		MaxTokens:          1000,
		MaxWallTimeSeconds: 60,
	}

	cases := []struct {
		name    string
		task    *model.Task
		wantErr bool
	}{
		{name: "under budget", task: &model.Task{Config: cfg, Iterations: 1, ToolCallsCount: 1}, wantErr: false},
		{name: "iterations exhausted", task: &model.Task{Config: cfg, Iterations: 3}, wantErr: true},
		{name: "tool calls exhausted", task: &model.Task{Config: cfg, ToolCallsCount: 5}, wantErr: true},
		{name: "tokens exhausted", task: &model.Task{Config: cfg, TokenUsage: model.TokenUsage{PromptTokens: 1000}}, wantErr: true},
	}

	g := NewGuardrails(NewRegistry())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.CheckBudget(tc.task)
			if tc.wantErr && err == nil {
				t.Fatal("CheckBudget() = nil, want an error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("CheckBudget() = %v, want nil", err)
			}
		})
	}
}

func TestGuardrailsCheckBudgetWallTime(t *testing.T) {
	t.Parallel()

	started := time.Now().Add(-2 * time.Minute)
	task := &model.Task{
		Config:    model.GuardrailConfig{MaxWallTimeSeconds: 60},
		StartedAt: &started,
	}

	g := NewGuardrails(NewRegistry())
	if err := g.CheckBudget(task); err == nil {
		t.Fatal("CheckBudget() = nil, want wall-time exceeded error")
	}
}

func TestGuardrailsNeedsApprovalRiskThreshold(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(ToolDefinition{Name: "risky_tool", RiskLevel: model.RiskLevelHigh})
	registry.Register(ToolDefinition{Name: "safe_tool", RiskLevel: model.RiskLevelLow})

	g := NewGuardrails(registry)
	cfg := model.GuardrailConfig{AutoApproveRisk: model.RiskLevelMedium}

	if reason := g.NeedsApproval("risky_tool", nil, cfg); reason == "" {
		t.Fatal("NeedsApproval(risky_tool) = \"\", want a reason")
	}
	if reason := g.NeedsApproval("safe_tool", nil, cfg); reason != "" {
		t.Fatalf("NeedsApproval(safe_tool) = %q, want \"\"", reason)
	}
}

func TestGuardrailsNeedsApprovalExplicitList(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(ToolDefinition{Name: "deploy", RiskLevel: model.RiskLevelLow})

	g := NewGuardrails(registry)
	cfg := model.GuardrailConfig{
		AutoApproveRisk:      model.RiskLevelCritical,
		RequireApprovalTools: []string{"deploy"},
	}

	if reason := g.NeedsApproval("deploy", nil, cfg); reason == "" {
		t.Fatal("NeedsApproval(deploy) = \"\", want a reason since it is on the require-approval list")
	}
}

func TestGuardrailsNeedsApprovalBlockedPattern(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(ToolDefinition{Name: "run_shell", RiskLevel: model.RiskLevelLow})

	g := NewGuardrails(registry)
	cfg := model.GuardrailConfig{
		AutoApproveRisk: model.RiskLevelCritical,
		BlockedPatterns: []string{"rm -rf"},
	}

	args := map[string]any{"command": "rm -rf /"}
	if reason := g.NeedsApproval("run_shell", args, cfg); reason == "" {
		t.Fatal("NeedsApproval() = \"\", want a reason for a blocked-pattern match")
	}

	safeArgs := map[string]any{"command": "ls -la"}
	if reason := g.NeedsApproval("run_shell", safeArgs, cfg); reason != "" {
		t.Fatalf("NeedsApproval() = %q, want \"\" for a non-matching command", reason)
	}
}

func TestGuardrailsNeedsApprovalIgnoresInvalidPattern(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(ToolDefinition{Name: "safe_tool", RiskLevel: model.RiskLevelLow})

	g := NewGuardrails(registry)
	cfg := model.GuardrailConfig{
		AutoApproveRisk: model.RiskLevelCritical,
		BlockedPatterns: []string{"("}, // invalid regex, must not panic or false-positive
	}

	if reason := g.NeedsApproval("safe_tool", map[string]any{"x": "y"}, cfg); reason != "" {
		t.Fatalf("NeedsApproval() = %q, want \"\" when only pattern is invalid", reason)
	}
}
