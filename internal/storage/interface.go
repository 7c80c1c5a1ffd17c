// Package storage defines the sinks fit results are written to and the
// readers the results server queries.
package storage

import (
	"context"
	"errors"

	"github.com/chrissnell/model3d/internal/types"
)

// ErrNotFound is returned by readers when a run or event is not stored.
var ErrNotFound = errors.New("not found")

// ResultSink persists fit results and run summaries.
type ResultSink interface {
	StoreResult(ctx context.Context, r *types.FitResult) error
	StoreRun(ctx context.Context, s *types.RunSummary) error
	Close() error
}

// ResultReader queries stored results.
type ResultReader interface {
	Runs(ctx context.Context) ([]types.RunSummary, error)
	Run(ctx context.Context, runID string) (*types.RunSummary, error)
	Results(ctx context.Context, runID string, q Query) ([]types.FitResult, error)
	Result(ctx context.Context, runID string, eventID uint64) (*types.FitResult, error)
}

// Pinger is implemented by database backed stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Query selects a page of a run's results ordered by event id. A zero Limit
// means no limit; an empty Status matches every status.
type Query struct {
	Status types.FitStatus
	Limit  int
	Offset int
}
