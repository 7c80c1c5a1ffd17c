package app

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/chrissnell/model3d/internal/types"
)

// summaryBuilder accumulates the run summary one result at a time.
type summaryBuilder struct {
	sum        types.RunSummary
	iterations []float64
	gof        []float64
	depth      []float64
}

func newSummaryBuilder(runID string, run int, source string, started time.Time) *summaryBuilder {
	return &summaryBuilder{sum: types.RunSummary{
		RunID:     runID,
		Run:       run,
		Source:    source,
		StartedAt: started,
	}}
}

func (b *summaryBuilder) Add(r *types.FitResult) {
	b.sum.Events++
	switch r.Status {
	case types.StatusConverged:
		b.sum.Converged++
		if isFinite(r.SlantDepth) {
			b.depth = append(b.depth, r.SlantDepth)
		}
	case types.StatusNotConverged:
		b.sum.NotConverged++
	case types.StatusRejected:
		b.sum.Rejected++
	default:
		b.sum.Failed++
	}
	if !r.Fitted() {
		return
	}
	b.iterations = append(b.iterations, float64(r.Iterations))
	// GOF is −1 when no pixel was selected.
	if isFinite(r.GOF) && r.GOF >= 0 {
		b.gof = append(b.gof, r.GOF)
	}
}

// Finish returns the summary. Means over no values and the spread of fewer
// than two values are NaN.
func (b *summaryBuilder) Finish(finished time.Time) *types.RunSummary {
	s := b.sum
	s.FinishedAt = finished
	s.MeanIterations = mean(b.iterations)
	s.MeanGOF = mean(b.gof)
	s.MeanSlantDepth = mean(b.depth)
	s.StdDevSlantDepth = math.NaN()
	if len(b.depth) > 1 {
		s.StdDevSlantDepth = stat.StdDev(b.depth, nil)
	}
	return &s
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
