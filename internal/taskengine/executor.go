package taskengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskengine.dev/engine/common/id"
	"taskengine.dev/engine/common/llm"
	"taskengine.dev/engine/common/logger"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/store"
)

// MaxParallelTools bounds how many tool calls from a single LLM turn the
// Executor dispatches concurrently (spec §4.G "parallel dispatch"),
// mirroring internal/brain/planner.go's maxParallelExplorers semaphore.
const MaxParallelTools = 5

// ErrTaskSuspended is returned by RunIteration when the task has entered
// waiting_approval and the caller must stop driving iterations until a
// human resolves the pending ApprovalRequest.
var ErrTaskSuspended = errors.New("task suspended pending approval")

// ErrBudgetExceeded wraps a Guardrails.CheckBudget failure.
var ErrBudgetExceeded = errors.New("budget exceeded")

// EventSink receives TaskEvents as the Executor emits them. Implemented by
// internal/store.EventStore in production; tests can substitute an
// in-memory sink.
type EventSink interface {
	AppendEvent(ctx context.Context, event model.TaskEvent) error
}

// Executor drives one Task through the plan/act/observe/reflect loop (spec
// §4.G). Grounded on internal/brain/orchestrator.go's HandleEngagement/
// runPlannerCycle shape (claim → loop cycles → execute → check for new
// input), generalized from "issue engagement" to "task step", with parallel
// tool dispatch grounded on internal/brain/planner.go's bounded-semaphore
// executeToolsParallel.
type Executor struct {
	registry    *Registry
	dispatcher  *Dispatcher
	guardrails  *Guardrails
	router      *Router
	planner     *Planner
	checkpoints *CheckpointManager
	tasks       store.TaskStore
	approvals   store.ApprovalStore
	txRunner    store.TxRunner
	events      EventSink
	isReady     IsReadyFunc
	learner     *Learner
	verifier    *Verifier
}

// NewExecutor wires every taskengine collaborator into one Executor.
// txRunner drives the transactionally-consistent commit at task completion
// (task update + evidence flush + checkpoint GC in one transaction).
// learner and verifier may both be
// nil, disabling memory enrichment/extraction and completion verification
// respectively — both are optional collaborators per spec §4.K.
func NewExecutor(
	registry *Registry,
	guardrails *Guardrails,
	router *Router,
	planner *Planner,
	checkpoints *CheckpointManager,
	tasks store.TaskStore,
	approvals store.ApprovalStore,
	txRunner store.TxRunner,
	events EventSink,
	isReady IsReadyFunc,
	learner *Learner,
	verifier *Verifier,
) *Executor {
	return &Executor{
		registry:    registry,
		dispatcher:  NewDispatcher(registry),
		guardrails:  guardrails,
		router:      router,
		planner:     planner,
		checkpoints: checkpoints,
		tasks:       tasks,
		approvals:   approvals,
		txRunner:    txRunner,
		events:      events,
		isReady:     isReady,
		learner:     learner,
		verifier:    verifier,
	}
}

// Run drives task iterations until it reaches a terminal status, budget is
// exhausted, or it suspends for human approval. The caller (worker loop)
// resumes a suspended task by calling Run again once the ApprovalRequest is
// resolved.
func (e *Executor) Run(ctx context.Context, task *model.Task, evidence *EvidenceChain) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{TaskID: &task.ID, Component: "taskengine.executor"})

	if task.Plan == nil {
		contextSummary := summarizeMessages(task.Messages)
		if e.learner != nil {
			if memory := e.learner.Enrich(ctx, task.WorkspaceID); memory != "" {
				contextSummary = memory + "\n" + contextSummary
			}
		}
		plan := e.planner.CreatePlan(ctx, task.Goal, e.registry.Definitions(), contextSummary)
		task.Plan = &plan
		e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindPlanCreated, Content: plan.Goal, Progress: 0})
	}

	for !task.Status.IsTerminal() {
		if task.IsComplete() {
			e.completeTask(ctx, task, evidence)
			return nil
		}

		err := e.RunIteration(ctx, task, evidence)
		switch {
		case errors.Is(err, ErrTaskSuspended):
			task.Status = model.TaskStatusWaitingApproval
			return nil
		case errors.Is(err, ErrBudgetExceeded):
			e.failTask(ctx, task, evidence, err)
			return nil
		case err != nil:
			e.failTask(ctx, task, evidence, err)
			return nil
		}

		e.maybeRevisePlan(ctx, task, evidence)

		if err := e.tasks.UpdateTask(ctx, task); err != nil {
			slog.ErrorContext(ctx, "persisting task after iteration failed", "error", err)
		}
	}

	return nil
}

// RunIteration executes exactly one pass of the inner loop: budget check,
// reasoning turn (route → call LLM → interpret response), tool dispatch
// (sequential control tools, parallel otherwise), and step-lifecycle
// bookkeeping. It returns ErrTaskSuspended if an ask_human call suspended
// the task, or ErrBudgetExceeded if guardrails cut it off.
func (e *Executor) RunIteration(ctx context.Context, task *model.Task, evidence *EvidenceChain) error {
	if err := task.AdvanceToNext(); err != nil {
		return fmt.Errorf("advance task: %w", err)
	}
	if err := e.guardrails.CheckBudget(task); err != nil {
		return fmt.Errorf("%w: %w", ErrBudgetExceeded, err)
	}

	step := task.CurrentStep()
	if step == nil {
		return nil
	}
	stepIndex := step.Index

	ctx = logger.WithLogFields(ctx, logger.LogFields{StepIndex: &stepIndex})
	switch {
	case step.Status == model.StepStatusPending:
		if err := step.Start(time.Now()); err != nil {
			return fmt.Errorf("start step: %w", err)
		}
		e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindStepStarted, StepIndex: &stepIndex, Content: step.Description})
	case step.CanRetry():
		// Re-entering a step that failed within its retry budget (spec §4.G
		// step 5): in_progress again, same StartedAt, no new step_started
		// event — the contract promises exactly one per step.
		if err := step.Start(time.Now()); err != nil {
			return fmt.Errorf("start step: %w", err)
		}
	}

	route := e.router.Route(task.WorkspaceID, StepContext{
		Description:       step.Description,
		ExpectedTools:     step.ExpectedTools,
		ConversationDepth: len(task.Messages),
	}, e.isReady)
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindRoutingInfo, StepIndex: &stepIndex, Content: route.Reason})

	resp, err := e.reasonWithFailover(ctx, route, task, step)
	if err != nil {
		return e.failStep(ctx, task, step, fmt.Errorf("reasoning turn: %w", err))
	}

	if resp.Content != "" {
		e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindThinking, StepIndex: &stepIndex, Content: resp.Content})
	}

	if len(resp.ToolCalls) == 0 {
		return e.handleTextOnlyResponse(ctx, task, step, resp.Content)
	}

	return e.handleToolCalls(ctx, task, step, resp.ToolCalls, evidence)
}

// reasonWithFailover places the reasoning call against route's provider. If
// that provider was registered local and the call itself fails outright
// (Route already steers around providers that are merely unreachable), it
// attempts one cloud failover through the router's fixed hosted priority
// list before giving up (spec §4.G step 6 / §7's local/ollama "LLM API
// error ... triggers cloud failover" clause).
func (e *Executor) reasonWithFailover(ctx context.Context, route model.ProviderRoute, task *model.Task, step *model.Step) (*llm.AgentResponse, error) {
	client, ok := e.router.Client(route.Provider)
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", route.Provider)
	}

	resp, err := e.reason(ctx, client, route, task, step)
	if err == nil {
		return resp, nil
	}
	if !e.router.IsLocal(route.Provider) {
		return nil, err
	}

	slog.WarnContext(ctx, "local provider reasoning call failed, attempting cloud failover", "provider", route.Provider, "error", err)
	fallback, ok := e.router.Failover(e.isReady)
	if !ok {
		return nil, err
	}
	fallbackClient, ok := e.router.Client(fallback.Provider)
	if !ok {
		return nil, err
	}
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindRoutingInfo, StepIndex: &step.Index, Content: fallback.Reason})

	resp, ferr := e.reason(ctx, fallbackClient, fallback, task, step)
	if ferr != nil {
		return nil, fmt.Errorf("cloud failover via %s also failed: %w", fallback.Provider, ferr)
	}
	return resp, nil
}

// completionClaimKeywords are phrases that, in an autonomous (not
// chat-embedded) text-only reply, indicate the model believes the step is
// already done (spec §4.G "only if the text explicitly claims completion").
var completionClaimKeywords = []string{
	"task is complete", "task is done", "step is complete", "this is done",
	"i have completed", "i've completed", "all done", "finished the task",
	"task complete", "completed the task",
}

func claimsCompletion(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range completionClaimKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// handleTextOnlyResponse interprets a reasoning turn that produced no tool
// calls (spec §4.G "Interpret the response"): a chat-embedded task treats
// any text reply as the step's result; an autonomous task completes the
// step only once the text explicitly claims the work is done, otherwise the
// step stays in_progress for the next iteration; a reply with neither text
// nor tool calls fails the step outright.
func (e *Executor) handleTextOnlyResponse(ctx context.Context, task *model.Task, step *model.Step, content string) error {
	if content == "" {
		return e.failStep(ctx, task, step, errors.New("empty response: neither tool calls nor text"))
	}

	if task.ConversationID == nil && !claimsCompletion(content) {
		return nil
	}

	step.Complete(content, time.Now())
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindStepComplete, StepIndex: &step.Index, Content: content, Progress: taskProgress(task)})
	return nil
}

// failStep records a step-level failure. If the step still has retry budget
// left it returns nil so the Executor loop simply re-enters it next
// iteration; once exhausted it returns an error the caller propagates to
// fail the whole task (spec §4.G step 5 / §7's "step-level failures retry
// up to 3 times and only then terminate the task").
func (e *Executor) failStep(ctx context.Context, task *model.Task, step *model.Step, cause error) error {
	now := time.Now()
	step.Fail(cause.Error(), now)
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindStepFailed, StepIndex: &step.Index, Content: cause.Error()})
	if step.CanRetry() {
		return nil
	}
	return fmt.Errorf("step %d failed after %d attempts: %w", step.Index, step.Attempts, cause)
}

// maybeRevisePlan runs the optional reflection pass (spec §4.G step 6):
// every ReviseEveryNIterations iterations, only when the most recently
// completed step succeeded, budget is ok, and the plan hasn't hit its
// revision cap.
func (e *Executor) maybeRevisePlan(ctx context.Context, task *model.Task, evidence *EvidenceChain) {
	if task.Plan == nil {
		return
	}
	budgetOK := e.guardrails.CheckBudget(task) == nil
	if !ShouldRevise(task.Iterations, lastStepSucceeded(task.Plan), budgetOK, *task.Plan) {
		return
	}

	observations := summarizeStepObservations(task.Plan)
	revised := e.planner.RevisePlan(ctx, *task.Plan, observations, e.registry.Definitions())
	task.Plan = &revised

	stepIdx := 0
	if cur := task.CurrentStep(); cur != nil {
		stepIdx = cur.Index
	}
	evidence.Record(RecordDecisionParams{
		StepNumber:   stepIdx,
		DecisionType: model.DecisionTypePlanChoice,
		Description:  "plan revised",
		Reasoning:    "reflection pass at iteration cadence",
		Confidence:   1,
	})
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindPlanCreated, Content: "plan revised", Progress: taskProgress(task)})
}

// lastStepSucceeded reports whether the most recently completed step (by
// CompletedAt) ended in StepStatusComplete rather than failed/skipped.
func lastStepSucceeded(plan *model.Plan) bool {
	var latest *model.Step
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.CompletedAt == nil {
			continue
		}
		if latest == nil || s.CompletedAt.After(*latest.CompletedAt) {
			latest = s
		}
	}
	return latest != nil && latest.Status == model.StepStatusComplete
}

func summarizeStepObservations(plan *model.Plan) string {
	var sb strings.Builder
	for _, s := range plan.Steps {
		switch {
		case s.Result != nil:
			fmt.Fprintf(&sb, "step %d (%s): %s\n", s.Index, s.Status, *s.Result)
		case s.Error != nil:
			fmt.Fprintf(&sb, "step %d (%s): %s\n", s.Index, s.Status, *s.Error)
		}
	}
	return sb.String()
}

func (e *Executor) reason(ctx context.Context, client llm.AgentClient, route model.ProviderRoute, task *model.Task, step *model.Step) (*llm.AgentResponse, error) {
	messages := buildStepMessages(task, step)
	tools := make([]llm.Tool, 0, len(e.registry.Definitions()))
	for _, def := range e.registry.Definitions() {
		tools = append(tools, llm.Tool{Name: def.Name, Description: def.Description, Parameters: def.ParameterSchema})
	}

	temp := route.Temperature
	resp, err := client.ChatWithTools(ctx, llm.AgentRequest{
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   route.MaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}

	task.TokenUsage.PromptTokens += int64(resp.PromptTokens)
	task.TokenUsage.CompletionTokens += int64(resp.CompletionTokens)
	return resp, nil
}

// handleToolCalls partitions one reasoning turn's tool calls into a parallel
// batch (ordinary tools) and a sequential control call (task_complete/
// ask_human), per spec §4.G's parallel-dispatch partition algorithm: the
// batch always dispatches — regardless of where the control call fell in
// the turn — and the control call, if any, is processed only afterward,
// since it changes task/step status rather than producing an ordinary
// ToolResult. Only the first control call seen is honored; a turn naming
// more than one is a malformed response the model should not produce.
func (e *Executor) handleToolCalls(ctx context.Context, task *model.Task, step *model.Step, calls []llm.ToolCall, evidence *EvidenceChain) error {
	var batch []llm.ToolCall
	var control *llm.ToolCall
	for i := range calls {
		tc := calls[i]
		switch tc.Name {
		case ToolTaskComplete, ToolAskHuman:
			if control == nil {
				control = &tc
			}
		default:
			batch = append(batch, tc)
		}
	}

	if err := e.dispatchParallelBatch(ctx, task, step, batch, evidence); err != nil {
		return err
	}

	if control == nil {
		return nil
	}
	switch control.Name {
	case ToolTaskComplete:
		return e.handleTaskComplete(ctx, task, step, *control, evidence)
	case ToolAskHuman:
		return e.handleAskHuman(ctx, task, step, *control)
	default:
		return nil
	}
}

// dispatchParallelBatch runs up to MaxParallelTools tool calls concurrently,
// checking the budget before each dispatch so a batch that would blow past
// max_tool_calls is cut off mid-flight. Per the parallel-batch budget-cutoff
// Open Question resolution, results already in flight when the cutoff triggers are still
// recorded to step history; they are simply not fed back into a further LLM
// call within this same batch.
func (e *Executor) dispatchParallelBatch(ctx context.Context, task *model.Task, step *model.Step, calls []llm.ToolCall, evidence *EvidenceChain) error {
	if len(calls) == 0 {
		return nil
	}

	sem := make(chan struct{}, MaxParallelTools)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var budgetExceeded bool

	for _, tc := range calls {
		call := toModelToolCall(tc)

		mu.Lock()
		cutoff := e.guardrails.CheckBudget(task) != nil
		mu.Unlock()
		if cutoff {
			slog.WarnContext(ctx, "budget cutoff mid-batch, remaining calls skipped", "task_id", task.ID)
			budgetExceeded = true
			break
		}

		if reason := e.guardrails.NeedsApproval(call.Name, call.Arguments, task.Config); reason != "" {
			// Let every already-launched goroutine finish before suspending:
			// they still hold a reference to step and would otherwise mutate
			// it concurrently with whatever the resumed task does later from
			// a separate call stack (spec §5's single-writer-per-task rule).
			wg.Wait()
			return e.suspendForApproval(ctx, task, step, tc, reason)
		}

		risk := e.registry.RiskLevel(tc.Name)
		if ShouldSnapshot(risk) {
			if err := e.checkpoints.Snapshot(ctx, task, step.Index, tc.Name); err != nil {
				slog.WarnContext(ctx, "checkpoint snapshot failed, proceeding without rollback safety", "error", err)
			}
		}

		// Reserve the slot against the budget at launch time, not completion
		// time: dispatch is async, so checking CheckBudget again next iteration
		// before a prior call finishes would never see the cutoff coming and
		// let the whole batch through.
		mu.Lock()
		task.ToolCallsCount++
		mu.Unlock()

		sem <- struct{}{}
		wg.Add(1)
		go func(call model.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindToolCalled, StepIndex: &step.Index, ToolName: call.Name, ToolArgs: call.Arguments})

			result := e.dispatcher.Dispatch(ctx, call)

			mu.Lock()
			step.ToolCalls = append(step.ToolCalls, model.ToolCallRecord{
				ID:            call.ID,
				Tool:          call.Name,
				Args:          call.Arguments,
				Success:       result.Success,
				ResultOrError: firstNonEmpty(result.Output, result.Error),
				TimeMS:        result.ExecutionTimeMS,
				CompletedAt:   time.Now(),
			})
			evidence.Record(RecordDecisionParams{
				StepNumber:   step.Index,
				DecisionType: model.DecisionTypeToolSelection,
				Description:  fmt.Sprintf("called %s", call.Name),
				Confidence:   1,
			})
			mu.Unlock()

			e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindToolResult, StepIndex: &step.Index, ToolName: call.Name, ToolResult: &result})
		}(call)
	}

	wg.Wait()

	if budgetExceeded {
		const stoppedMsg = "Stopped: tool-call budget exceeded"
		step.Complete(stoppedMsg, time.Now())
		e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindStepComplete, StepIndex: &step.Index, Content: stoppedMsg, Progress: taskProgress(task)})
		return fmt.Errorf("%w: tool-call budget exceeded mid-batch", ErrBudgetExceeded)
	}

	return nil
}

func toModelToolCall(tc llm.ToolCall) model.ToolCall {
	var args map[string]any
	_ = json.Unmarshal([]byte(tc.Arguments), &args)
	return model.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args}
}

// handleTaskComplete runs the claimed completion past the Verifier (if one is
// configured) before committing it. A rejection overwrites the last tool
// record with the verifier's critique and returns without completing the
// step, leaving the LLM free to correct itself on the next iteration; per
// the verifier Open Question resolution, this does not count against
// step.Attempts. A pass completes the step and, per spec §4.G's task_complete
// clause, marks every remaining pending/in-progress step skipped — the
// agent is declaring the whole task done, not just this one step.
func (e *Executor) handleTaskComplete(ctx context.Context, task *model.Task, step *model.Step, tc llm.ToolCall, evidence *EvidenceChain) error {
	var args struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal([]byte(tc.Arguments), &args)

	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindVerifierStart, StepIndex: &step.Index, Content: args.Summary})
	passed, critique := e.verifier.Verify(ctx, task.Goal, step.Description, args.Summary, step.ToolCalls)
	if !passed {
		e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindVerifierFailed, StepIndex: &step.Index, Content: critique})
		if len(step.ToolCalls) > 0 {
			last := &step.ToolCalls[len(step.ToolCalls)-1]
			last.Success = false
			last.ResultOrError = critique
		}
		evidence.Record(RecordDecisionParams{
			StepNumber:   step.Index,
			DecisionType: model.DecisionTypePlanChoice,
			Description:  "verifier rejected task_complete",
			Reasoning:    critique,
			Confidence:   1,
		})
		return nil
	}
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindVerifierPassed, StepIndex: &step.Index})

	step.Complete(args.Summary, time.Now())
	evidence.Record(RecordDecisionParams{
		StepNumber:   step.Index,
		DecisionType: model.DecisionTypePlanChoice,
		Description:  "step completed",
		Reasoning:    args.Summary,
		Confidence:   1,
	})
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindStepComplete, StepIndex: &step.Index, Content: args.Summary, Progress: taskProgress(task)})

	e.skipRemainingSteps(task)
	return nil
}

// skipRemainingSteps marks every non-terminal step skipped once task_complete
// has been accepted, since the agent is declaring the goal achieved early.
func (e *Executor) skipRemainingSteps(task *model.Task) {
	if task.Plan == nil {
		return
	}
	now := time.Now()
	for i := range task.Plan.Steps {
		s := &task.Plan.Steps[i]
		if !s.IsTerminal() {
			s.Skip("Skipped — task completed early.", now)
		}
	}
}

// handleAskHuman creates an ApprovalRequest and suspends the task.
func (e *Executor) handleAskHuman(ctx context.Context, task *model.Task, step *model.Step, tc llm.ToolCall) error {
	var args struct {
		Question string `json:"question"`
	}
	_ = json.Unmarshal([]byte(tc.Arguments), &args)
	return e.suspendForApproval(ctx, task, step, tc, args.Question)
}

func (e *Executor) suspendForApproval(ctx context.Context, task *model.Task, step *model.Step, tc llm.ToolCall, reason string) error {
	var args map[string]any
	_ = json.Unmarshal([]byte(tc.Arguments), &args)

	approval := &model.ApprovalRequest{
		ID:        id.NewUUID(),
		TaskID:    task.ID,
		StepIndex: step.Index,
		ToolName:  tc.Name,
		ToolArgs:  args,
		RiskLevel: e.registry.RiskLevel(tc.Name),
		Reason:    reason,
		Status:    model.ApprovalStatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	if err := e.approvals.SaveApproval(ctx, approval); err != nil {
		return fmt.Errorf("save approval: %w", err)
	}

	task.PendingApprovalID = &approval.ID
	task.Status = model.TaskStatusWaitingApproval
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindApprovalNeeded, StepIndex: &step.Index, Content: reason, ApprovalID: approval.ID})

	return ErrTaskSuspended
}

func (e *Executor) completeTask(ctx context.Context, task *model.Task, evidence *EvidenceChain) {
	task.Status = model.TaskStatusComplete
	now := time.Now()
	task.CompletedAt = &now

	decisions := evidence.Snapshot()
	err := e.txRunner.WithTx(ctx, func(tx store.TxStores) error {
		if err := tx.Tasks().UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if err := evidence.Flush(ctx, tx.Evidence()); err != nil {
			return fmt.Errorf("flush evidence: %w", err)
		}
		if err := tx.Checkpoints().DeleteCheckpoints(ctx, task.ID); err != nil {
			return fmt.Errorf("gc checkpoints: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "task completion commit failed", "task_id", task.ID, "error", err)
	}

	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindTaskComplete, Progress: 1, Content: safeDeref(task.Result)})

	if e.learner != nil {
		e.learner.ExtractAndSave(ctx, task, decisions)
	}
}

func (e *Executor) failTask(ctx context.Context, task *model.Task, evidence *EvidenceChain, cause error) {
	task.Status = model.TaskStatusFailed
	msg := cause.Error()
	task.Error = &msg
	now := time.Now()
	task.CompletedAt = &now

	err := e.txRunner.WithTx(ctx, func(tx store.TxStores) error {
		if err := tx.Tasks().UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return evidence.Flush(ctx, tx.Evidence())
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed-task commit failed", "task_id", task.ID, "error", err)
	}
	e.emit(ctx, task, model.TaskEvent{Kind: model.EventKindTaskFailed, Content: msg})
}

func (e *Executor) emit(ctx context.Context, task *model.Task, event model.TaskEvent) {
	event.TaskID = task.ID
	event.EmittedAt = time.Now()
	if event.Progress == 0 {
		event.Progress = taskProgress(task)
	}
	if e.events == nil {
		return
	}
	if err := e.events.AppendEvent(ctx, event); err != nil {
		slog.WarnContext(ctx, "emitting task event failed", "kind", event.Kind, "error", err)
	}
}

func taskProgress(task *model.Task) float64 {
	done, total := task.Progress()
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

func buildStepMessages(task *model.Task, step *model.Step) []llm.Message {
	messages := make([]llm.Message, 0, len(task.Messages)+2)
	messages = append(messages, llm.Message{Role: "system", Content: "You are executing one step of a larger plan toward: " + task.Goal})
	for _, m := range task.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: step.Description})
	return messages
}

func summarizeMessages(msgs []model.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func safeDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
