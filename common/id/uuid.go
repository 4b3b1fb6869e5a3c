package id

import "github.com/google/uuid"

// NewUUID returns a random string identifier for entities exposed directly
// over an external HTTP surface (ApprovalRequest, DecisionRecord, Checkpoint),
// where a Snowflake int64 would leak internal ordering unnecessarily.
func NewUUID() string {
	return uuid.NewString()
}
