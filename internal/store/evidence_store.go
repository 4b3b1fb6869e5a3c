package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"taskengine.dev/engine/internal/model"
)

type evidenceStore struct {
	pool dbtx
}

// NewEvidenceStore constructs an EvidenceStore backed by the
// `task_decisions` table. Per spec §4.H the chain is accumulated in memory
// during execution and flushed in one batch at task completion, so
// AppendDecisions is the only write path and takes the whole slice at once.
func NewEvidenceStore(pool dbtx) EvidenceStore {
	return &evidenceStore{pool: pool}
}

func (s *evidenceStore) AppendDecisions(ctx context.Context, taskID int64, decisions []model.DecisionRecord) error {
	if len(decisions) == 0 {
		return nil
	}
	batch := make([][]any, 0, len(decisions))
	for _, d := range decisions {
		evidence, err := json.Marshal(d.Evidence)
		if err != nil {
			return fmt.Errorf("marshal evidence: %w", err)
		}
		alternatives, err := json.Marshal(d.Alternatives)
		if err != nil {
			return fmt.Errorf("marshal alternatives: %w", err)
		}
		batch = append(batch, []any{
			d.ID, taskID, d.StepNumber, d.DecisionType, d.Description, d.Reasoning,
			evidence, alternatives, d.Confidence, d.Outcome, d.CreatedAt,
		})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"task_decisions"},
		[]string{"id", "task_id", "step_number", "decision_type", "description", "reasoning", "evidence", "alternatives", "confidence", "outcome", "created_at"},
		pgx.CopyFromRows(batch),
	)
	if err != nil {
		return fmt.Errorf("append decisions: %w", err)
	}
	return nil
}

func (s *evidenceStore) GetDecisions(ctx context.Context, taskID int64) ([]model.DecisionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, step_number, decision_type, description, reasoning, evidence, alternatives, confidence, outcome, created_at
		FROM task_decisions WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get decisions: %w", err)
	}
	defer rows.Close()

	var decisions []model.DecisionRecord
	for rows.Next() {
		var (
			d            model.DecisionRecord
			evidence     []byte
			alternatives []byte
		)
		d.TaskID = taskID
		if err := rows.Scan(&d.ID, &d.StepNumber, &d.DecisionType, &d.Description, &d.Reasoning, &evidence, &alternatives, &d.Confidence, &d.Outcome, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &d.Evidence); err != nil {
				return nil, fmt.Errorf("unmarshal evidence: %w", err)
			}
		}
		if len(alternatives) > 0 {
			if err := json.Unmarshal(alternatives, &d.Alternatives); err != nil {
				return nil, fmt.Errorf("unmarshal alternatives: %w", err)
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
