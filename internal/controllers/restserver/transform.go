package restserver

import (
	"math"

	"github.com/chrissnell/model3d/internal/types"
)

// finite returns nil for NaN and infinities.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func transformRun(s *types.RunSummary) *RunResponse {
	return &RunResponse{
		RunID:            s.RunID,
		Run:              s.Run,
		Source:           s.Source,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
		Events:           s.Events,
		Converged:        s.Converged,
		NotConverged:     s.NotConverged,
		Rejected:         s.Rejected,
		Failed:           s.Failed,
		MeanIterations:   finite(s.MeanIterations),
		MeanGOF:          finite(s.MeanGOF),
		MeanSlantDepth:   finite(s.MeanSlantDepth),
		StdDevSlantDepth: finite(s.StdDevSlantDepth),
	}
}

func transformRuns(runs []types.RunSummary) []*RunResponse {
	out := make([]*RunResponse, 0, len(runs))
	for i := range runs {
		out = append(out, transformRun(&runs[i]))
	}
	return out
}

func transformParams(p types.ParameterVector) ParamsResponse {
	m := make(ParamsResponse, types.NumParams)
	for i, name := range types.ParameterNames {
		m[name] = finite(p[i])
	}
	return m
}

// transformResult converts r. Fitted parameters are only included for events
// that reached the minimizer.
func transformResult(r *types.FitResult, withCovariance bool) *FitResponse {
	fr := &FitResponse{
		RunID:         r.RunID,
		EventID:       r.EventID,
		Status:        string(r.Status),
		Converged:     r.Converged,
		RejectReason:  r.RejectReason,
		Seed:          transformParams(r.Seed),
		NDF:           r.NDF,
		Iterations:    r.Iterations,
		Images:        r.Images,
		Pixels:        r.Pixels,
		Cost:          finite(r.Cost),
		GOF:           finite(r.GOF),
		LikelihoodGOF: finite(r.LikelihoodGOF),
	}
	if !r.Fitted() {
		return fr
	}

	fr.Params = transformParams(r.Params)
	fr.Errors = transformParams(r.Errors)
	fr.SlantDepth = finite(r.SlantDepth)
	fr.ReducedWidth = finite(r.ReducedWidth)
	if withCovariance {
		fr.Covariance = make([][]*float64, types.NumParams)
		for i := range r.Covariance {
			row := make([]*float64, types.NumParams)
			for j, v := range r.Covariance[i] {
				row[j] = finite(v)
			}
			fr.Covariance[i] = row
		}
	}
	return fr
}
