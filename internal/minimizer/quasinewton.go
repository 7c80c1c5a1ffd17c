package minimizer

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/chrissnell/model3d/internal/log"
)

// QuasiNewton minimizes with gonum's L-BFGS. Bounds are enforced by
// evaluating the objective at the clamped point, which makes the cost flat
// outside the box; the covariance is recovered from alpha at the optimum the
// same way LevenbergMarquardt does it.
type QuasiNewton struct {
	MaxIterations int
	Tolerance     float64
	Logger        *zap.SugaredLogger
}

// Minimize runs L-BFGS over the free parameters of p.
func (q *QuasiNewton) Minimize(p Problem) (*Result, error) {
	logger := log.Or(q.Logger)
	def := DefaultSettings()
	maxIter := q.MaxIterations
	if maxIter <= 0 {
		maxIter = def.MaxIterations
	}
	tol := q.Tolerance
	if tol <= 0 {
		tol = def.Tolerance
	}

	start, free, err := p.prepare()
	if err != nil {
		return nil, err
	}
	n := len(start)
	res := &Result{State: StateInitializing, FreeParams: len(free)}

	full := func(x []float64) []float64 {
		params := make([]float64, n)
		copy(params, start)
		for k, i := range free {
			params[i] = p.clamp(i, x[k])
		}
		return params
	}

	// gonum calls Func and Grad separately at the same point; cache the last
	// evaluation so each point costs one objective call.
	var (
		lastX    []float64
		lastEval Evaluation
		evalErr  error
	)
	eval := func(x []float64) (Evaluation, bool) {
		if lastX != nil && equalSlices(lastX, x) {
			return lastEval, true
		}
		e, err := evaluate(p.Objective, full(x), n)
		res.Evaluations++
		if err != nil {
			evalErr = err
			return Evaluation{}, false
		}
		lastX = append(lastX[:0], x...)
		lastEval = e
		return e, true
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			e, ok := eval(x)
			if !ok || !isFinite(e.Cost) {
				return math.Inf(1)
			}
			return e.Cost
		},
		Grad: func(grad, x []float64) {
			e, ok := eval(x)
			for k, i := range free {
				grad[k] = 0
				if !ok || !isFinite(e.Beta[i]) {
					continue
				}
				// Beyond a bound the clamped cost does not change.
				if len(p.Bounds) != 0 && !p.Bounds[i].Contains(x[k]) {
					continue
				}
				grad[k] = -e.Beta[i]
			}
		},
	}

	x0 := make([]float64, len(free))
	for k, i := range free {
		x0[k] = start[i]
	}

	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   tol,
			Iterations: 2,
		},
	}

	res.State = StateIterating
	var best []float64
	if len(free) == 0 {
		best = start
		res.State = StateConverged
	} else {
		out, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
		if evalErr != nil {
			return nil, evalErr
		}
		switch {
		case out == nil:
			logger.Warnw("lbfgs returned no result", "error", err)
			best = start
			res.State = StateFailed
		default:
			best = full(out.X)
			res.Iterations = out.Stats.MajorIterations
			res.State = stateFromStatus(out.Status, err)
			logger.Debugw("lbfgs finished", "status", out.Status.String(), "cost", out.F, "iterations", out.Stats.MajorIterations)
		}
	}

	final, err := evaluate(p.Objective, best, n)
	if err != nil {
		return nil, err
	}
	res.Evaluations++
	cov, errs := covariance(final.Alpha, free, n)

	res.Params = best
	res.Cost = final.Cost
	res.Converged = res.State == StateConverged
	res.Covariance = cov
	res.Errors = errs
	if !isFinite(final.Cost) {
		res.State = StateFailed
		res.Converged = false
		res.Covariance = mat.NewSymDense(n, nil)
		res.Errors = make([]float64, n)
	}
	return res, nil
}

func stateFromStatus(s optimize.Status, err error) State {
	switch s {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence, optimize.Success, optimize.MethodConverge:
		return StateConverged
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit, optimize.RuntimeLimit:
		return StateMaxIterationsReached
	}
	if err != nil && errors.Is(err, optimize.ErrLinesearcherFailure) {
		// The line search stalls once no descent is left inside the box.
		return StateConverged
	}
	return StateFailed
}

func equalSlices(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
