package model

import "testing"

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPlanning, false},
		{TaskStatusExecuting, false},
		{TaskStatusWaitingApproval, false},
		{TaskStatusPaused, false},
		{TaskStatusComplete, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.IsTerminal(); got != tc.want {
				t.Fatalf("IsTerminal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTaskProgressDelegatesToPlan(t *testing.T) {
	t.Parallel()

	task := &Task{}
	if done, total := task.Progress(); done != 0 || total != 0 {
		t.Fatalf("Progress() with nil plan = (%d, %d), want (0, 0)", done, total)
	}

	task.Plan = newPlan(StepStatusComplete, StepStatusPending)
	done, total := task.Progress()
	if done != 1 || total != 2 {
		t.Fatalf("Progress() = (%d, %d), want (1, 2)", done, total)
	}
}

func TestTaskCurrentStepNilWithoutPlan(t *testing.T) {
	t.Parallel()

	task := &Task{}
	if step := task.CurrentStep(); step != nil {
		t.Fatalf("CurrentStep() = %+v, want nil", step)
	}
}

func TestTaskAdvanceToNextIncrementsIterations(t *testing.T) {
	t.Parallel()

	task := &Task{Status: TaskStatusExecuting}
	if err := task.AdvanceToNext(); err != nil {
		t.Fatalf("AdvanceToNext() error = %v", err)
	}
	if task.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", task.Iterations)
	}
}

func TestTaskAdvanceToNextRejectsTerminalStatus(t *testing.T) {
	t.Parallel()

	task := &Task{Status: TaskStatusComplete}
	if err := task.AdvanceToNext(); err != ErrInvalidState {
		t.Fatalf("AdvanceToNext() error = %v, want ErrInvalidState", err)
	}
	if task.Iterations != 0 {
		t.Fatalf("Iterations = %d, want unchanged at 0", task.Iterations)
	}
}

func TestTokenUsageTotal(t *testing.T) {
	t.Parallel()

	u := TokenUsage{PromptTokens: 120, CompletionTokens: 45}
	if got := u.Total(); got != 165 {
		t.Fatalf("Total() = %d, want 165", got)
	}
}
