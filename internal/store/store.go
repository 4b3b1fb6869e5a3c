// Package store is the Persistence Adapter (spec §4.B): durable storage of
// tasks, approvals, and evidence, plus transport-agnostic event replay. It
// follows the teacher's per-entity store style (see the issue-tracker
// stores this package replaced) but queries pgx directly rather than
// through a generated query layer, since this repository carries no SQL
// migrations or sqlc schema to generate one from.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"taskengine.dev/engine/core/db"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, so every store built
// on top of it can run unchanged against a plain pool connection or against
// an in-flight transaction handed in by TxRunner.
type dbtx interface {
	db.Querier
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ dbtx = (*pgxpool.Pool)(nil)
	_ dbtx = (pgx.Tx)(nil)
)

// Stores bundles the six store implementations the task engine needs,
// constructed once from a shared pgx pool and *redis.Client, mirroring the
// teacher's Stores factory (`internal/store/factory.go`'s NewStores
// pattern generalized from sqlc.Queries to a plain pgx pool/tx).
type Stores struct {
	tasks       TaskStore
	approvals   ApprovalStore
	events      EventStore
	evidence    EvidenceStore
	checkpoints CheckpointStore
	learnings   LearningStore
}

func (s *Stores) Tasks() TaskStore             { return s.tasks }
func (s *Stores) Approvals() ApprovalStore     { return s.approvals }
func (s *Stores) Events() EventStore           { return s.events }
func (s *Stores) Evidence() EvidenceStore      { return s.evidence }
func (s *Stores) Checkpoints() CheckpointStore { return s.checkpoints }
func (s *Stores) Learnings() LearningStore     { return s.learnings }

// NewStores constructs every store from a shared connection pool and Redis
// client, mirroring the teacher's NewStores(queries) factory generalized
// from a single sqlc.Queries handle to the two backends the task engine
// actually needs (pgx for durable entities, Redis for the event stream).
func NewStores(pool *pgxpool.Pool, redisClient *redis.Client) *Stores {
	return &Stores{
		tasks:       NewTaskStore(pool),
		approvals:   NewApprovalStore(pool),
		events:      NewEventStore(redisClient),
		evidence:    NewEvidenceStore(pool),
		checkpoints: NewCheckpointStore(pool),
		learnings:   NewLearningStore(pool),
	}
}
