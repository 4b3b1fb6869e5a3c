package model

import "time"

// EvidenceNode is one piece of evidence backing a DecisionRecord.
type EvidenceNode struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Source    string  `json:"source,omitempty"`
	Relevance float64 `json:"relevance"`
}

// DecisionType enumerates the kinds of decisions recorded in the evidence chain.
type DecisionType string

const (
	DecisionTypePlanChoice      DecisionType = "plan_choice"
	DecisionTypeToolSelection   DecisionType = "tool_selection"
	DecisionTypeParameterChoice DecisionType = "parameter_choice"
	DecisionTypeSkip            DecisionType = "skip"
	DecisionTypeDelegate        DecisionType = "delegate"
	DecisionTypeApprove         DecisionType = "approve"
	DecisionTypeEscalate        DecisionType = "escalate"
)

// DecisionRecord is one append-only entry in a task's evidence chain.
type DecisionRecord struct {
	ID           string         `json:"id"` // string UUID, external-facing like ApprovalRequest.ID
	TaskID       int64          `json:"task_id"`
	StepNumber   int            `json:"step_number"`
	DecisionType DecisionType   `json:"decision_type"`
	Description  string         `json:"description"`
	Reasoning    string         `json:"reasoning"`
	Evidence     []EvidenceNode `json:"evidence,omitempty"`
	Alternatives []string       `json:"alternatives,omitempty"`
	Confidence   float64        `json:"confidence"`
	Outcome      string         `json:"outcome,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
