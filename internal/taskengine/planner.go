package taskengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"taskengine.dev/engine/common/llm"
	"taskengine.dev/engine/internal/model"
)

// MaxPlanRevisions bounds how many times a Plan may be revised (spec §4.F,
// plan.revision_count <= 3).
const MaxPlanRevisions = 3

// ReviseEveryNIterations is the cadence the Executor checks for a
// reflection pass (spec §4.G step 6).
const ReviseEveryNIterations = 5

// submitPlanTool is the structured tool call the Planner forces the LLM to
// issue, repurposed from the teacher's submit_actions tool in planner.go.
const submitPlanTool = "submit_plan"

// planStepParam is one step in the LLM's submit_plan response.
type planStepParam struct {
	Description   string   `json:"description" jsonschema:"required,description=What this step accomplishes. Keep under 200 characters."`
	ExpectedTools []string `json:"expected_tools,omitempty" jsonschema:"description=Tool names this step is likely to call."`
}

// submitPlanParams is the schema for the submit_plan tool call.
type submitPlanParams struct {
	Steps     []planStepParam `json:"steps" jsonschema:"required,description=Ordered list of steps to accomplish the goal."`
	Reasoning string          `json:"reasoning" jsonschema:"required,description=Brief explanation of the plan."`
}

var submitPlanSchema = llm.GenerateSchemaFrom(submitPlanParams{})

const maxStepDescriptionChars = 200

// Planner turns (goal, available tools, context) into a Plan. Grounded
// directly on internal/brain/planner.go: a single LLM call issuing a
// structured tool call, with a guaranteed-progress fallback on parse
// failure or LLM error.
type Planner struct {
	llm llm.AgentClient
}

// NewPlanner constructs a Planner over the given AgentClient.
func NewPlanner(client llm.AgentClient) *Planner {
	return &Planner{llm: client}
}

// CreatePlan issues a single LLM call using a planning prompt that lists
// available tools and prior context, parsing the response into an ordered
// Plan. On parse failure or LLM error it returns a single-step fallback
// plan whose description is the raw goal, guaranteeing forward progress.
func (p *Planner) CreatePlan(ctx context.Context, goal string, tools []*ToolDefinition, contextSummary string) model.Plan {
	steps, err := p.callForSteps(ctx, goal, tools, contextSummary)
	if err != nil {
		slog.WarnContext(ctx, "planner falling back to single-step plan", "error", err, "goal", goal)
		return fallbackPlan(goal)
	}
	return model.Plan{Goal: goal, Steps: steps}
}

// RevisePlan replaces all pending steps with freshly generated ones.
// Revision is bounded at MaxPlanRevisions and is the Executor's
// responsibility to gate on cadence/success/budget (spec §4.F, §4.G step 6).
func (p *Planner) RevisePlan(ctx context.Context, plan model.Plan, observations string, tools []*ToolDefinition) model.Plan {
	if plan.RevisionCount >= MaxPlanRevisions {
		return plan
	}

	prompt := fmt.Sprintf("Goal: %s\n\nObservations so far:\n%s\n\nRevise the remaining steps to make progress toward the goal.", plan.Goal, observations)
	steps, err := p.callForSteps(ctx, prompt, tools, observations)
	if err != nil {
		slog.WarnContext(ctx, "plan revision failed, keeping existing pending steps", "error", err)
		return plan
	}

	plan.ReplacePendingSteps(steps)
	return plan
}

func (p *Planner) callForSteps(ctx context.Context, goal string, tools []*ToolDefinition, contextSummary string) ([]model.Step, error) {
	systemPrompt := buildPlanningSystemPrompt(tools)
	userPrompt := goal
	if contextSummary != "" {
		userPrompt = fmt.Sprintf("%s\n\nContext:\n%s", goal, contextSummary)
	}

	resp, err := p.llm.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Tools: []llm.Tool{{
			Name:        submitPlanTool,
			Description: "Submit the ordered list of steps that will accomplish the goal.",
			Parameters:  submitPlanSchema,
		}},
		MaxTokens: 4096,
	})
	if err != nil {
		return nil, fmt.Errorf("planning call: %w", err)
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != submitPlanTool {
			continue
		}
		params, err := llm.ParseToolArguments[submitPlanParams](tc.Arguments)
		if err != nil {
			return nil, fmt.Errorf("parse submit_plan arguments: %w", err)
		}
		return toModelSteps(params.Steps), nil
	}

	return nil, fmt.Errorf("planner did not call %s", submitPlanTool)
}

func toModelSteps(params []planStepParam) []model.Step {
	steps := make([]model.Step, 0, len(params))
	for i, p := range params {
		desc := p.Description
		if len(desc) > maxStepDescriptionChars {
			desc = desc[:maxStepDescriptionChars]
		}
		steps = append(steps, model.Step{
			Index:         i,
			Description:   desc,
			Status:        model.StepStatusPending,
			ExpectedTools: p.ExpectedTools,
		})
	}
	return steps
}

func fallbackPlan(goal string) model.Plan {
	return model.Plan{
		Goal: goal,
		Steps: []model.Step{{
			Index:       0,
			Description: goal,
			Status:      model.StepStatusPending,
		}},
	}
}

func buildPlanningSystemPrompt(tools []*ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString("You are a planning assistant. Break the goal into an ordered list of concrete steps.\n\n")
	if len(tools) > 0 {
		sb.WriteString("Available tools:\n")
		for _, t := range tools {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Call submit_plan exactly once with the ordered steps.")
	return sb.String()
}

// ShouldRevise reports whether the Executor should attempt a reflection
// pass after this iteration, per spec §4.G step 6: every
// ReviseEveryNIterations iterations, only if the last step completed
// successfully, budget is ok, and revision_count hasn't hit the cap.
func ShouldRevise(iterations int, lastStepSucceeded bool, budgetOK bool, plan model.Plan) bool {
	if iterations == 0 || iterations%ReviseEveryNIterations != 0 {
		return false
	}
	return lastStepSucceeded && budgetOK && plan.RevisionCount < MaxPlanRevisions
}
