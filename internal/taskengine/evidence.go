package taskengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"taskengine.dev/engine/common/id"
	"taskengine.dev/engine/internal/model"
	"taskengine.dev/engine/internal/store"
)

// EvidenceChain accumulates a task's DecisionRecords in memory during
// execution and flushes them in one batch at task completion (spec §4.H),
// generalized from internal/brain/findings_persister.go's append-only
// persistence of a single kind of finding to the full DecisionRecord set.
type EvidenceChain struct {
	mu      sync.Mutex
	taskID  int64
	pending []model.DecisionRecord
}

// NewEvidenceChain starts an empty in-memory chain for one task run.
func NewEvidenceChain(taskID int64) *EvidenceChain {
	return &EvidenceChain{taskID: taskID}
}

// RecordDecisionParams is everything the executor knows about one decision
// point at the time it happens.
type RecordDecisionParams struct {
	StepNumber   int
	DecisionType model.DecisionType
	Description  string
	Reasoning    string
	Evidence     []model.EvidenceNode
	Alternatives []string
	Confidence   float64
}

// Record appends one decision to the in-memory chain. It never touches
// storage directly — see Flush.
func (c *EvidenceChain) Record(p RecordDecisionParams) model.DecisionRecord {
	rec := model.DecisionRecord{
		ID:           id.NewUUID(),
		TaskID:       c.taskID,
		StepNumber:   p.StepNumber,
		DecisionType: p.DecisionType,
		Description:  p.Description,
		Reasoning:    p.Reasoning,
		Evidence:     p.Evidence,
		Alternatives: p.Alternatives,
		Confidence:   p.Confidence,
		CreatedAt:    time.Now(),
	}

	c.mu.Lock()
	c.pending = append(c.pending, rec)
	c.mu.Unlock()

	return rec
}

// SetOutcome back-fills the Outcome field of a previously recorded decision,
// used once a tool dispatch or step completion resolves what a decision led
// to (e.g. "tool succeeded", "plan revised after failure").
func (c *EvidenceChain) SetOutcome(decisionID, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.pending {
		if c.pending[i].ID == decisionID {
			c.pending[i].Outcome = outcome
			return
		}
	}
}

// Len reports how many decisions are buffered and not yet flushed.
func (c *EvidenceChain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Snapshot returns a copy of the currently buffered decisions without
// clearing them, for collaborators (like the Learner) that want to read the
// chain at completion time without disturbing the pending Flush.
func (c *EvidenceChain) Snapshot() []model.DecisionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.DecisionRecord, len(c.pending))
	copy(out, c.pending)
	return out
}

// Flush persists every buffered decision in one batch via EvidenceStore and
// clears the in-memory buffer. Called once, at task completion (success or
// failure; a cancelled task is not flushed) — not per-decision, matching spec.md's explicit
// "accumulated in memory, flushed at completion" reading.
func (c *EvidenceChain) Flush(ctx context.Context, evidence store.EvidenceStore) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := evidence.AppendDecisions(ctx, c.taskID, batch); err != nil {
		slog.Error("flushing evidence chain failed", "task_id", c.taskID, "count", len(batch), "error", err)
		return err
	}
	return nil
}
