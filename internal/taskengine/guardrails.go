package taskengine

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"taskengine.dev/engine/internal/model"
)

// Guardrails gatekeeps every LLM call and tool dispatch against a task's
// GuardrailConfig (spec §4.D). Grounded on action_validator.go's
// pre-dispatch validation returning descriptive errors the caller's retry
// loop consumes, generalized from "is this batch of Actions well-formed"
// to "has this task exceeded its budget, and does this call need a human".
type Guardrails struct {
	registry *Registry

	mu           sync.Mutex
	patternCache map[string]*regexp.Regexp
}

// NewGuardrails constructs a Guardrails instance consulting registry for
// per-tool risk levels.
func NewGuardrails(registry *Registry) *Guardrails {
	return &Guardrails{
		registry:     registry,
		patternCache: make(map[string]*regexp.Regexp),
	}
}

// CheckBudget reports a descriptive error when any configured limit has been
// met or exceeded, or nil if the task may continue.
func (g *Guardrails) CheckBudget(task *model.Task) error {
	cfg := task.Config

	if cfg.MaxIterations > 0 && task.Iterations >= cfg.MaxIterations {
		return fmt.Errorf("budget exceeded: iterations %d >= max_iterations %d", task.Iterations, cfg.MaxIterations)
	}
	if cfg.MaxToolCalls > 0 && task.ToolCallsCount >= cfg.MaxToolCalls {
		return fmt.Errorf("budget exceeded: tool_calls %d >= max_tool_calls %d", task.ToolCallsCount, cfg.MaxToolCalls)
	}
	if cfg.MaxTokens > 0 && task.TokenUsage.Total() >= cfg.MaxTokens {
		return fmt.Errorf("budget exceeded: tokens %d >= max_tokens %d", task.TokenUsage.Total(), cfg.MaxTokens)
	}
	if cfg.MaxWallTimeSeconds > 0 && task.StartedAt != nil {
		elapsed := time.Since(*task.StartedAt)
		if elapsed >= time.Duration(cfg.MaxWallTimeSeconds)*time.Second {
			return fmt.Errorf("budget exceeded: wall time %s >= max_wall_time %ds", elapsed.Round(time.Second), cfg.MaxWallTimeSeconds)
		}
	}
	return nil
}

// NeedsApproval returns a human-readable reason a call must be suspended
// for approval, or "" if it may proceed (spec §4.D, checked in order).
func (g *Guardrails) NeedsApproval(toolName string, args map[string]any, cfg model.GuardrailConfig) string {
	risk := g.registry.RiskLevel(toolName)
	if risk.Exceeds(cfg.AutoApproveRisk) {
		return fmt.Sprintf("tool %q risk level %q exceeds auto-approve threshold %q", toolName, risk, cfg.AutoApproveRisk)
	}

	for _, name := range cfg.RequireApprovalTools {
		if name == toolName {
			return fmt.Sprintf("tool %q is on the require-approval list", toolName)
		}
	}

	if reason := g.matchBlockedPattern(args, cfg.BlockedPatterns); reason != "" {
		return reason
	}

	return ""
}

func (g *Guardrails) matchBlockedPattern(args map[string]any, patterns []string) string {
	for _, pattern := range patterns {
		re, err := g.compile(pattern)
		if err != nil {
			continue
		}
		for field, value := range args {
			str, ok := value.(string)
			if !ok {
				continue
			}
			if re.MatchString(str) {
				return fmt.Sprintf("argument %q matches blocked pattern %q", field, pattern)
			}
		}
	}
	return ""
}

// compile caches compiled blocked-pattern regexes, mirroring
// common/llm/llm.go's package-level nameInvalidChars regex idiom but scoped
// per-Guardrails since blocked_patterns is configurable per task.
func (g *Guardrails) compile(pattern string) (*regexp.Regexp, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if re, ok := g.patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	g.patternCache[pattern] = re
	return re, nil
}
