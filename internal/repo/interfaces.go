package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/swapval/internal/domain"
)

var ErrNotFound = errors.New("not found")

type RunFilter struct {
	State domain.RunState
	Limit int
}

// RunRepository manages run records keyed by id.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, id string) (domain.Run, error)
	// Update replaces the mutable fields of an existing run.
	Update(ctx context.Context, run domain.Run) error
	// CompleteRun writes result, curves, schedules, lineage and the completed
	// state in one step. Readers see either none of it or all of it.
	CompleteRun(ctx context.Context, run domain.Run) error
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
}

// SnapshotRepository stores immutable market data snapshots by content hash.
type SnapshotRepository interface {
	Put(ctx context.Context, snapshot domain.MarketDataSnapshot) (string, error)
	Get(ctx context.Context, hash string) (domain.MarketDataSnapshot, error)
}
