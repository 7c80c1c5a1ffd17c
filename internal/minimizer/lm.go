package minimizer

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/chrissnell/model3d/internal/linalg"
	"github.com/chrissnell/model3d/internal/log"
)

const (
	initialLambda = 1e-3
	lambdaShrink  = 0.1
	lambdaGrow    = 10.0

	// maxLambda ends a run whose damping has grown so large that no step can
	// lower the cost any more. Such a run stalls; it does not converge.
	maxLambda = 1e12
)

// LevenbergMarquardt is a bounded Levenberg–Marquardt minimizer. Parameters
// crossing a bound are clamped onto it and stay in the fit.
type LevenbergMarquardt struct {
	MaxIterations int
	Tolerance     float64
	Logger        *zap.SugaredLogger
}

// NewLevenbergMarquardt returns a minimizer with the default settings.
func NewLevenbergMarquardt(logger *zap.SugaredLogger) *LevenbergMarquardt {
	def := DefaultSettings()
	return &LevenbergMarquardt{
		MaxIterations: def.MaxIterations,
		Tolerance:     def.Tolerance,
		Logger:        logger,
	}
}

// Minimize runs the damped Gauss–Newton iteration from p.Start.
func (lm *LevenbergMarquardt) Minimize(p Problem) (*Result, error) {
	logger := log.Or(lm.Logger)
	maxIter := lm.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultSettings().MaxIterations
	}
	tol := lm.Tolerance
	if tol <= 0 {
		tol = DefaultSettings().Tolerance
	}

	params, free, err := p.prepare()
	if err != nil {
		return nil, err
	}
	n := len(params)

	res := &Result{State: StateInitializing, FreeParams: len(free)}
	cur, err := evaluate(p.Objective, params, n)
	if err != nil {
		return nil, err
	}
	res.Evaluations++

	if !isFinite(cur.Cost) {
		logger.Warnw("seed cost is not finite, not iterating", "cost", cur.Cost)
		res.State = StateFailed
		res.Params = params
		res.Cost = cur.Cost
		res.Covariance = mat.NewSymDense(n, nil)
		res.Errors = make([]float64, n)
		return res, nil
	}

	lambda := initialLambda
	res.State = StateIterating
	if len(free) == 0 {
		res.State = StateConverged
	}
	iter := 0
	for res.State == StateIterating {
		if iter >= maxIter {
			res.State = StateMaxIterationsReached
			break
		}
		iter++

		delta := lm.step(cur, free, lambda, logger)
		trial := make([]float64, n)
		copy(trial, params)
		for k, i := range free {
			trial[i] = p.clamp(i, params[i]+delta[k])
		}

		next, err := evaluate(p.Objective, trial, n)
		if err != nil {
			return nil, err
		}
		res.Evaluations++

		if isFinite(next.Cost) && next.Cost < cur.Cost {
			dcost := next.Cost - cur.Cost
			params, cur = trial, next
			lambda *= lambdaShrink
			res.Trace = append(res.Trace, Step{Iteration: iter, Cost: cur.Cost, Lambda: lambda, Accepted: true})
			logger.Debugw("lm step accepted", "iteration", iter, "cost", cur.Cost, "delta_cost", dcost, "lambda", lambda)

			if math.Abs(dcost) < tol && dcost < 0 && iter >= 2 {
				res.State = StateConverged
			}
			continue
		}

		lambda *= lambdaGrow
		res.Trace = append(res.Trace, Step{Iteration: iter, Cost: next.Cost, Lambda: lambda, Accepted: false})
		logger.Debugw("lm step rejected", "iteration", iter, "trial_cost", next.Cost, "lambda", lambda)

		if lambda > maxLambda && iter >= 2 {
			logger.Debugw("lm damping saturated without convergence", "iteration", iter, "cost", cur.Cost)
			res.State = StateStalled
		}
	}

	// Final undamped pass: the covariance comes from alpha at the best point.
	cov, errs := covariance(cur.Alpha, free, n)

	res.Params = params
	res.Cost = cur.Cost
	res.Iterations = iter
	res.Converged = res.State == StateConverged
	res.Covariance = cov
	res.Errors = errs
	return res, nil
}

// step solves (alpha + λ·diag(alpha))·δ = beta over the free parameters.
func (lm *LevenbergMarquardt) step(cur Evaluation, free []int, lambda float64, logger *zap.SugaredLogger) []float64 {
	nf := len(free)
	delta := make([]float64, nf)
	if nf == 0 {
		return delta
	}

	m := mat.NewDense(nf, nf, nil)
	rhs := make([]float64, nf)
	for a, i := range free {
		rhs[a] = cur.Beta[i]
		for b, j := range free {
			v := cur.Alpha.At(i, j)
			if a == b {
				v *= 1 + lambda
			}
			m.Set(a, b, v)
		}
	}

	d, err := linalg.Decompose(m)
	if err != nil {
		logger.Warnw("lm normal equations could not be decomposed", "error", err)
		return delta
	}
	x, err := d.Solve(rhs, 0)
	if err != nil {
		logger.Warnw("lm normal equations could not be solved", "error", err)
		return delta
	}
	for a := range x {
		if isFinite(x[a]) {
			delta[a] = x[a]
		}
	}
	return delta
}

func evaluate(obj Objective, params []float64, n int) (Evaluation, error) {
	e, err := obj.Evaluate(params)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluating objective: %w", err)
	}
	if len(e.Beta) != n {
		return Evaluation{}, fmt.Errorf("objective returned %d beta values, want %d: %w", len(e.Beta), n, ErrParameterCount)
	}
	if e.Alpha == nil || e.Alpha.SymmetricDim() != n {
		return Evaluation{}, fmt.Errorf("objective returned malformed alpha: %w", ErrParameterCount)
	}
	return e, nil
}
