package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"taskengine.dev/engine/core/db"
)

// TxRunner runs a function against a transactionally-consistent view of the
// pgx-backed stores. This generalizes internal/brain/txrunner.go's
// StoreProvider pattern from a single sqlc.Queries handle to a *pgxpool.Pool,
// since this repository has no generated query layer to hand a transaction
// through.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx TxStores) error) error
}

// TxStores exposes the subset of stores whose writes must commit atomically
// within one task-completion transaction: the task row itself, the evidence
// chain flush, and checkpoint garbage collection (spec §4.B/§4.H/§4.J).
type TxStores interface {
	Tasks() TaskStore
	Evidence() EvidenceStore
	Checkpoints() CheckpointStore
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner creates a TxRunner backed by the given database.
func NewTxRunner(database *db.DB) TxRunner {
	return &dbTxRunner{db: database}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(tx TxStores) error) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		stores := &txStores{
			tasks:       NewTaskStore(tx),
			evidence:    NewEvidenceStore(tx),
			checkpoints: NewCheckpointStore(tx),
		}
		return fn(stores)
	})
	if err != nil {
		return fmt.Errorf("task completion transaction: %w", err)
	}
	return nil
}

type txStores struct {
	tasks       TaskStore
	evidence    EvidenceStore
	checkpoints CheckpointStore
}

func (s *txStores) Tasks() TaskStore             { return s.tasks }
func (s *txStores) Evidence() EvidenceStore      { return s.evidence }
func (s *txStores) Checkpoints() CheckpointStore { return s.checkpoints }
