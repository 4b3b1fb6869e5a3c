package taskengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taskengine.dev/engine/common/llm"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/store"
)

// recordingTaskStore is a minimal store.TaskStore that only needs to satisfy
// the interface and let assertions inspect the task post-Run — the Executor
// holds the authoritative *model.Task in memory and persists via UpdateTask.
type recordingTaskStore struct {
	mu      sync.Mutex
	updates []*model.Task
}

func (r *recordingTaskStore) SaveTask(ctx context.Context, task *model.Task) error { return nil }
func (r *recordingTaskStore) UpdateTask(ctx context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, task)
	return nil
}
func (r *recordingTaskStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	return nil, store.ErrNotFound
}
func (r *recordingTaskStore) ListTasks(ctx context.Context, userID int64, workspaceID *int64, status *model.TaskStatus) ([]model.TaskSummary, error) {
	return nil, nil
}

var _ store.TaskStore = (*recordingTaskStore)(nil)

type recordingApprovalStore struct {
	mu    sync.Mutex
	saved []*model.ApprovalRequest
}

func (r *recordingApprovalStore) SaveApproval(ctx context.Context, approval *model.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, approval)
	return nil
}
func (r *recordingApprovalStore) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	return nil, store.ErrNotFound
}
func (r *recordingApprovalStore) ResolveApproval(ctx context.Context, id string, approved bool, decidedBy int64) (*model.ApprovalRequest, error) {
	return nil, store.ErrNotFound
}
func (r *recordingApprovalStore) ExpireApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	return nil, store.ErrNotFound
}

var _ store.ApprovalStore = (*recordingApprovalStore)(nil)

// singleTxRunner runs the transaction body directly against the fakes it
// wraps, with no actual rollback semantics — enough to exercise the
// completeTask/failTask commit path without a real database.
type singleTxRunner struct {
	tasks       store.TaskStore
	evidence    store.EvidenceStore
	checkpoints store.CheckpointStore
}

func (s *singleTxRunner) WithTx(ctx context.Context, fn func(tx store.TxStores) error) error {
	return fn(s)
}
func (s *singleTxRunner) Tasks() store.TaskStore            { return s.tasks }
func (s *singleTxRunner) Evidence() store.EvidenceStore      { return s.evidence }
func (s *singleTxRunner) Checkpoints() store.CheckpointStore { return s.checkpoints }

var (
	_ store.TxRunner  = (*singleTxRunner)(nil)
	_ store.TxStores  = (*singleTxRunner)(nil)
)

// recordingEventSink captures every emitted TaskEvent in order, so a
// scenario spec can assert on event ordering the way spec.md's testable
// property ("step_started(s) < tool_called/tool_result pairs < step_complete(s)")
// describes.
type recordingEventSink struct {
	mu     sync.Mutex
	events []model.TaskEvent
}

func (r *recordingEventSink) AppendEvent(ctx context.Context, event model.TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEventSink) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]model.EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *recordingEventSink) indexOf(kind model.EventKind) int {
	for i, k := range r.kinds() {
		if k == kind {
			return i
		}
	}
	return -1
}

var _ EventSink = (*recordingEventSink)(nil)

// sequencedToolCalls builds a fakeAgentClient respondFn that returns the
// given tool-call responses in order, repeating the last one if called more
// times than scripted.
func sequencedToolCalls(responses ...[]llm.ToolCall) func(llm.AgentRequest) (*llm.AgentResponse, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(req llm.AgentRequest) (*llm.AgentResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		idx := i
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		i++
		return &llm.AgentResponse{ToolCalls: responses[idx]}, nil
	}
}

func planCallReturning(description string) func(llm.AgentRequest) (*llm.AgentResponse, error) {
	return func(req llm.AgentRequest) (*llm.AgentResponse, error) {
		args := fmt.Sprintf(`{"steps":[{"description":%q}],"reasoning":"one step plan"}`, description)
		return &llm.AgentResponse{ToolCalls: []llm.ToolCall{{ID: "plan-1", Name: submitPlanTool, Arguments: args}}}, nil
	}
}

func newScenarioRouter(client llm.AgentClient) (*Router, IsReadyFunc) {
	router := NewRouter(StrategyLocalFirst, []string{"test"})
	router.RegisterProvider(ProviderProfile{Name: "test", Client: client, Local: true})
	return router, func(string) bool { return true }
}

// scenarioHarness bundles everything a test needs to inspect after
// Executor.Run returns.
type scenarioHarness struct {
	executor  *Executor
	task      *model.Task
	evidence  *EvidenceChain
	events    *recordingEventSink
	approvals *recordingApprovalStore
	checks    *fakeCheckpointStore
}

func newScenarioHarness(registry *Registry, planClient, reasonClient llm.AgentClient, verifier *Verifier, cfg model.GuardrailConfig) *scenarioHarness {
	guardrails := NewGuardrails(registry)
	router, isReady := newScenarioRouter(reasonClient)
	planner := NewPlanner(planClient)
	checkpoints := &fakeCheckpointStore{}
	checkpointMgr := NewCheckpointManager(checkpoints)
	tasks := &recordingTaskStore{}
	approvals := &recordingApprovalStore{}
	evidenceStore := &fakeEvidenceStore{}
	txRunner := &singleTxRunner{tasks: tasks, evidence: evidenceStore, checkpoints: checkpoints}
	events := &recordingEventSink{}

	executor := NewExecutor(registry, guardrails, router, planner, checkpointMgr, tasks, approvals, txRunner, events, isReady, nil, verifier)

	now := time.Now()
	task := &model.Task{
		ID:          1,
		UserID:      1,
		WorkspaceID: 1,
		Status:      model.TaskStatusExecuting,
		Goal:        "Echo hello back to me",
		Config:      cfg,
		CreatedAt:   now,
		StartedAt:   &now,
	}

	return &scenarioHarness{
		executor:  executor,
		task:      task,
		evidence:  NewEvidenceChain(task.ID),
		events:    events,
		approvals: approvals,
		checks:    checkpoints,
	}
}

var _ = Describe("Executor scenarios", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	// Scenario 1: happy path, single step.
	It("completes a single-step task via task_complete with no verifier configured", func() {
		registry := NewRegistry()
		planClient := &fakeAgentClient{respondFn: planCallReturning("Respond to the user")}
		reasonClient := &fakeAgentClient{respondFn: sequencedToolCalls(
			[]llm.ToolCall{{ID: "1", Name: ToolTaskComplete, Arguments: `{"summary":"hello"}`}},
		)}

		h := newScenarioHarness(registry, planClient, reasonClient, nil, model.DefaultGuardrailConfig())

		Expect(h.executor.Run(ctx, h.task, h.evidence)).To(Succeed())

		Expect(h.task.Status).To(Equal(model.TaskStatusComplete))
		Expect(h.task.Plan.Steps).To(HaveLen(1))
		Expect(h.task.Plan.Steps[0].Status).To(Equal(model.StepStatusComplete))

		planCreated := h.events.indexOf(model.EventKindPlanCreated)
		stepStarted := h.events.indexOf(model.EventKindStepStarted)
		stepComplete := h.events.indexOf(model.EventKindStepComplete)
		taskComplete := h.events.indexOf(model.EventKindTaskComplete)
		Expect(planCreated).To(BeNumerically(">=", 0))
		Expect(stepStarted).To(BeNumerically(">", planCreated))
		Expect(stepComplete).To(BeNumerically(">", stepStarted))
		Expect(taskComplete).To(BeNumerically(">", stepComplete))
	})

	// Scenario 2: retry on transient failure. The Dispatcher (exercised
	// directly in dispatch_test.go) retries a transient failure internally
	// with 1s/2s backoff before the Executor ever sees a final result, so
	// from the Executor's perspective this is one logical tool call that
	// eventually succeeds — tool_calls_count increases by 1, not by the
	// number of underlying attempts (see DESIGN.md).
	It("retries a transient tool failure and completes once it succeeds", func() {
		var attempts int
		var mu sync.Mutex
		registry := registryWith(ToolDefinition{
			Name:        "flaky_tool",
			Description: "fails twice then succeeds",
			ParameterSchema: map[string]any{
				"type": "object",
			},
			RiskLevel:      model.RiskLevelLow,
			TimeoutSeconds: 5,
			Handler: func(ctx context.Context, args map[string]any) (model.ToolResult, error) {
				mu.Lock()
				attempts++
				n := attempts
				mu.Unlock()
				if n < 3 {
					return model.ToolResult{Success: false, Error: "connection timeout"}, nil
				}
				return model.ToolResult{Success: true, Output: "ok"}, nil
			},
		})

		planClient := &fakeAgentClient{respondFn: planCallReturning("Call the flaky tool")}
		reasonClient := &fakeAgentClient{respondFn: sequencedToolCalls(
			[]llm.ToolCall{{ID: "1", Name: "flaky_tool", Arguments: `{}`}},
			[]llm.ToolCall{{ID: "2", Name: ToolTaskComplete, Arguments: `{"summary":"done"}`}},
		)}

		h := newScenarioHarness(registry, planClient, reasonClient, nil, model.DefaultGuardrailConfig())

		Expect(h.executor.Run(ctx, h.task, h.evidence)).To(Succeed())

		Expect(h.task.Status).To(Equal(model.TaskStatusComplete))
		Expect(h.task.ToolCallsCount).To(Equal(1))
		Expect(attempts).To(Equal(3))
		Expect(h.task.Plan.Steps[0].ToolCalls).To(HaveLen(1))
		Expect(h.task.Plan.Steps[0].ToolCalls[0].Success).To(BeTrue())
	})

	// Scenario 3: approval required for a high-risk tool.
	It("suspends for approval on a high-risk tool and does not dispatch it", func() {
		registry := registryWith(ToolDefinition{
			Name:            "shell_execute",
			Description:     "runs a shell command",
			ParameterSchema: map[string]any{"type": "object"},
			RiskLevel:       model.RiskLevelHigh,
			TimeoutSeconds:  5,
			Handler: func(ctx context.Context, args map[string]any) (model.ToolResult, error) {
				Fail("shell_execute must not be dispatched before approval")
				return model.ToolResult{}, nil
			},
		})

		planClient := &fakeAgentClient{respondFn: planCallReturning("Clean up a temp file")}
		reasonClient := &fakeAgentClient{respondFn: sequencedToolCalls(
			[]llm.ToolCall{{ID: "1", Name: "shell_execute", Arguments: `{"command":"rm -rf /tmp/x"}`}},
		)}

		cfg := model.DefaultGuardrailConfig()
		cfg.AutoApproveRisk = model.RiskLevelMedium

		h := newScenarioHarness(registry, planClient, reasonClient, nil, cfg)

		Expect(h.executor.Run(ctx, h.task, h.evidence)).To(Succeed())

		Expect(h.task.Status).To(Equal(model.TaskStatusWaitingApproval))
		Expect(h.task.PendingApprovalID).NotTo(BeNil())
		Expect(h.approvals.saved).To(HaveLen(1))
		Expect(h.approvals.saved[0].RiskLevel).To(Equal(model.RiskLevelHigh))

		approvalNeeded := h.events.indexOf(model.EventKindApprovalNeeded)
		Expect(approvalNeeded).To(BeNumerically(">=", 0))
		Expect(h.events.indexOf(model.EventKindTaskComplete)).To(Equal(-1))
	})

	// Scenario 4: budget cutoff mid-parallel-batch. max_tool_calls=2 with 5
	// parallel-safe calls offered in one turn; only 2 may be dispatched, the
	// rest are cut off, and the cutoff fails the task in the same iteration.
	It("cuts off a parallel batch at the tool-call budget and fails the task", func() {
		var dispatched int32 = 0
		var mu sync.Mutex
		registry := registryWith(ToolDefinition{
			Name:            "safe_tool",
			Description:     "always succeeds",
			ParameterSchema: map[string]any{"type": "object"},
			RiskLevel:       model.RiskLevelLow,
			TimeoutSeconds:  5,
			Handler: func(ctx context.Context, args map[string]any) (model.ToolResult, error) {
				mu.Lock()
				dispatched++
				mu.Unlock()
				return model.ToolResult{Success: true, Output: "ok"}, nil
			},
		})

		calls := make([]llm.ToolCall, 5)
		for i := range calls {
			calls[i] = llm.ToolCall{ID: fmt.Sprintf("call-%d", i), Name: "safe_tool", Arguments: `{}`}
		}

		planClient := &fakeAgentClient{respondFn: planCallReturning("Run five independent safe calls")}
		reasonClient := &fakeAgentClient{respondFn: sequencedToolCalls(calls)}

		cfg := model.DefaultGuardrailConfig()
		cfg.MaxToolCalls = 2

		h := newScenarioHarness(registry, planClient, reasonClient, nil, cfg)

		Expect(h.executor.Run(ctx, h.task, h.evidence)).To(Succeed())

		Expect(h.task.Status).To(Equal(model.TaskStatusFailed))
		Expect(h.task.ToolCallsCount).To(Equal(2))
		Expect(dispatched).To(Equal(int32(2)))
		Expect(h.task.Error).NotTo(BeNil())
	})

	// Scenario 6: verifier rejects a task_complete claim unsupported by the
	// evidence chain, then accepts it once the agent actually calls the tool
	// the claim depends on.
	It("rejects an unsupported task_complete claim, then accepts it once backed by evidence", func() {
		registry := registryWith(ToolDefinition{
			Name:            "file_delete",
			Description:     "deletes a file",
			ParameterSchema: map[string]any{"type": "object"},
			RiskLevel:       model.RiskLevelMedium,
			TimeoutSeconds:  5,
			Handler: func(ctx context.Context, args map[string]any) (model.ToolResult, error) {
				return model.ToolResult{Success: true, Output: "deleted"}, nil
			},
		})

		planClient := &fakeAgentClient{respondFn: planCallReturning("Delete the file")}
		reasonClient := &fakeAgentClient{respondFn: sequencedToolCalls(
			[]llm.ToolCall{{ID: "1", Name: ToolTaskComplete, Arguments: `{"summary":"I deleted the file"}`}},
			[]llm.ToolCall{{ID: "2", Name: "file_delete", Arguments: `{"path":"/tmp/x"}`}},
			[]llm.ToolCall{{ID: "3", Name: ToolTaskComplete, Arguments: `{"summary":"I deleted the file"}`}},
		)}

		var verifyCalls int
		verifierClient := &fakeAgentClient{respondFn: func(req llm.AgentRequest) (*llm.AgentResponse, error) {
			verifyCalls++
			if verifyCalls == 1 {
				return &llm.AgentResponse{ToolCalls: []llm.ToolCall{{
					ID: "v1", Name: submitVerificationTool,
					Arguments: `{"passed":false,"critique":"no file_delete call recorded"}`,
				}}}, nil
			}
			return &llm.AgentResponse{ToolCalls: []llm.ToolCall{{
				ID: "v2", Name: submitVerificationTool,
				Arguments: `{"passed":true}`,
			}}}, nil
		}}
		verifier := NewVerifier(verifierClient)

		h := newScenarioHarness(registry, planClient, reasonClient, verifier, model.DefaultGuardrailConfig())

		Expect(h.executor.Run(ctx, h.task, h.evidence)).To(Succeed())

		Expect(h.task.Status).To(Equal(model.TaskStatusComplete))
		Expect(verifyCalls).To(Equal(2))

		failedIdx := h.events.indexOf(model.EventKindVerifierFailed)
		passedIdx := h.events.indexOf(model.EventKindVerifierPassed)
		Expect(failedIdx).To(BeNumerically(">=", 0))
		Expect(passedIdx).To(BeNumerically(">", failedIdx))

		// the first task_complete's rejection must not have produced a
		// step_complete/task_complete pair before the second attempt passed.
		stepCompleteIdx := h.events.indexOf(model.EventKindStepComplete)
		Expect(stepCompleteIdx).To(BeNumerically(">", passedIdx))
	})
})

// Scenario 5: cloud escalation on complexity. Exercised directly against
// the Router since escalation is pure routing logic independent of the
// rest of the Executor loop.
var _ = Describe("Router escalation", func() {
	It("escalates a high-complexity step from a local-first strategy to a hosted provider", func() {
		router := NewRouter(StrategyLocalFirst, []string{"cloud-test"})
		router.RegisterProvider(ProviderProfile{Name: "ollama-test", Client: &fakeAgentClient{}, Local: true, Default: model.ProviderRoute{Provider: "ollama-test"}})
		router.RegisterProvider(ProviderProfile{Name: "cloud-test", Client: &fakeAgentClient{}, Local: false})
		isReady := func(string) bool { return true }

		step := StepContext{Description: "design the system architecture for a distributed, concurrent, exactly-once write-ahead log and optimize it"}
		route := router.Route(1, step, isReady)

		Expect(route.Provider).To(Equal("cloud-test"))
		Expect(route.Reason).To(ContainSubstring("escalated"))
	})

	It("stays on the local route when complexity is low", func() {
		router := NewRouter(StrategyLocalFirst, []string{"cloud-test"})
		router.RegisterProvider(ProviderProfile{Name: "ollama-test", Client: &fakeAgentClient{}, Local: true, Default: model.ProviderRoute{Provider: "ollama-test"}})
		router.RegisterProvider(ProviderProfile{Name: "cloud-test", Client: &fakeAgentClient{}, Local: false})
		isReady := func(string) bool { return true }

		step := StepContext{Description: "fix a one-line typo"}
		route := router.Route(1, step, isReady)

		Expect(route.Reason).NotTo(ContainSubstring("escalated"))
	})
})
