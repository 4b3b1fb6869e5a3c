package model

import "testing"

func newPlan(statuses ...StepStatus) *Plan {
	steps := make([]Step, len(statuses))
	for i, st := range statuses {
		steps[i] = Step{Index: i, Status: st}
	}
	return &Plan{Steps: steps}
}

func TestPlanProgress(t *testing.T) {
	t.Parallel()

	p := newPlan(StepStatusComplete, StepStatusSkipped, StepStatusPending, StepStatusInProgress)
	done, total := p.Progress()
	if done != 2 || total != 4 {
		t.Fatalf("Progress() = (%d, %d), want (2, 4)", done, total)
	}
}

func TestPlanIsComplete(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		plan *Plan
		want bool
	}{
		{name: "all terminal", plan: newPlan(StepStatusComplete, StepStatusSkipped), want: true},
		{name: "one pending", plan: newPlan(StepStatusComplete, StepStatusPending), want: false},
		{name: "empty plan", plan: newPlan(), want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.plan.IsComplete(); got != tc.want {
				t.Fatalf("IsComplete() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPlanCurrentStepReturnsFirstNonTerminal(t *testing.T) {
	t.Parallel()

	p := newPlan(StepStatusComplete, StepStatusComplete, StepStatusPending, StepStatusPending)
	cur := p.CurrentStep()
	if cur == nil {
		t.Fatal("CurrentStep() = nil, want step at index 2")
	}
	if cur.Index != 2 {
		t.Fatalf("CurrentStep().Index = %d, want 2", cur.Index)
	}
}

func TestPlanCurrentStepNilWhenAllTerminal(t *testing.T) {
	t.Parallel()

	p := newPlan(StepStatusComplete, StepStatusSkipped)
	if cur := p.CurrentStep(); cur != nil {
		t.Fatalf("CurrentStep() = %+v, want nil", cur)
	}
}

func TestPlanReplacePendingStepsKeepsCompletedWork(t *testing.T) {
	t.Parallel()

	p := newPlan(StepStatusComplete, StepStatusInProgress, StepStatusPending)
	p.Steps[0].Description = "already done"

	fresh := []Step{
		{Description: "revised step a"},
		{Description: "revised step b"},
	}
	p.ReplacePendingSteps(fresh)

	if len(p.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(p.Steps))
	}
	if p.Steps[0].Description != "already done" {
		t.Fatalf("completed step was discarded: %+v", p.Steps[0])
	}
	if p.Steps[1].Description != "revised step a" || p.Steps[1].Index != 1 {
		t.Fatalf("fresh step not reindexed correctly: %+v", p.Steps[1])
	}
	if p.Steps[2].Description != "revised step b" || p.Steps[2].Index != 2 {
		t.Fatalf("fresh step not reindexed correctly: %+v", p.Steps[2])
	}
	if p.RevisionCount != 1 {
		t.Fatalf("RevisionCount = %d, want 1", p.RevisionCount)
	}
}
