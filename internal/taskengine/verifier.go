package taskengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"taskengine.dev/engine/common/llm"
	"taskengine.dev/engine/internal/model"
)

const submitVerificationTool = "submit_verification"

// verificationParams is the schema for the submit_verification tool call.
type verificationParams struct {
	Passed   bool   `json:"passed" jsonschema:"required,description=Whether the evidence chain actually supports the claimed completion."`
	Critique string `json:"critique" jsonschema:"description=If not passed, a specific critique the agent can act on to correct itself."`
}

var submitVerificationSchema = llm.GenerateSchemaFrom(verificationParams{})

// Verifier checks a task_complete claim against the tool calls recorded for
// the current step before the Executor commits it (spec §4.G's "Control
// tools" task_complete clause). Grounded on internal/brain/keywords.go's
// forced structured-output LLM call, repurposed from keyword extraction to
// a pass/fail judgement over the evidence chain.
type Verifier struct {
	llm llm.AgentClient
}

// NewVerifier wraps an AgentClient. Per spec §4.K, a Verifier is optional: a
// nil client disables verification and NewVerifier returns nil, which Verify
// treats as an automatic pass.
func NewVerifier(client llm.AgentClient) *Verifier {
	if client == nil {
		return nil
	}
	return &Verifier{llm: client}
}

// Verify asks the LLM whether summary is actually supported by toolCalls. It
// fails open (passed=true) on any LLM or parse error — a broken verifier call
// should never be the reason a task gets stuck.
func (v *Verifier) Verify(ctx context.Context, goal, stepDescription, summary string, toolCalls []model.ToolCallRecord) (passed bool, critique string) {
	if v == nil || v.llm == nil {
		return true, ""
	}

	resp, err := v.llm.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You verify whether a claimed task completion is actually supported by the tool calls made so far. Reject vague or unsupported claims."},
			{Role: "user", Content: buildVerificationPrompt(goal, stepDescription, summary, toolCalls)},
		},
		Tools: []llm.Tool{{
			Name:        submitVerificationTool,
			Description: "Submit your verification verdict.",
			Parameters:  submitVerificationSchema,
		}},
		MaxTokens: 1024,
	})
	if err != nil {
		slog.WarnContext(ctx, "verifier call failed, passing completion through", "error", err)
		return true, ""
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != submitVerificationTool {
			continue
		}
		params, err := llm.ParseToolArguments[verificationParams](tc.Arguments)
		if err != nil {
			slog.WarnContext(ctx, "verifier response did not parse, passing completion through", "error", err)
			return true, ""
		}
		return params.Passed, params.Critique
	}

	return true, ""
}

func buildVerificationPrompt(goal, stepDescription, summary string, toolCalls []model.ToolCallRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\nStep: %s\nClaimed completion: %s\n\nTool calls made during this step:\n", goal, stepDescription, summary)
	if len(toolCalls) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, tc := range toolCalls {
		fmt.Fprintf(&sb, "- %s(%v) -> success=%v: %s\n", tc.Tool, tc.Args, tc.Success, tc.ResultOrError)
	}
	return sb.String()
}
