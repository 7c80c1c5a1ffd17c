// Package minimizer provides bounded minimizers for Objective functions: a
// Levenberg–Marquardt implementation built on the package linalg SVD and a
// quasi-Newton strategy backed by gonum/optimize.
package minimizer

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/chrissnell/model3d/internal/linalg"
)

var (
	// ErrConfiguration marks a malformed problem: crossed bounds, bad lengths.
	ErrConfiguration = errors.New("minimizer: invalid configuration")

	// ErrParameterCount is returned when a params vector has the wrong length.
	ErrParameterCount = fmt.Errorf("%w: parameter count mismatch", ErrConfiguration)
)

// Minimizer is a strategy for minimizing an Objective under box bounds.
type Minimizer interface {
	Minimize(p Problem) (*Result, error)
}

// Problem describes one minimization.
type Problem struct {
	Objective Objective

	// Start is the seed. Values outside their bounds are clamped first.
	Start []float64

	// Bounds is either empty or one Bound per parameter.
	Bounds []Bound

	// Frozen is either empty or one flag per parameter. Frozen parameters keep
	// their start value and are left out of the linear system.
	Frozen []bool
}

// State is the optimizer state machine position.
type State int

const (
	StateInitializing State = iota
	StateIterating
	StateConverged
	StateMaxIterationsReached
	// StateFailed means the seed itself could not be evaluated to a finite cost.
	StateFailed
	// StateStalled means the damping grew past its limit without the
	// convergence test passing. The run is not converged.
	StateStalled
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateMaxIterationsReached:
		return "max-iterations"
	case StateFailed:
		return "failed"
	case StateStalled:
		return "stalled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Step records one trial of an iterative minimizer.
type Step struct {
	Iteration int
	Cost      float64
	Lambda    float64
	Accepted  bool
}

// Result is the outcome of a minimization. Converged false is not an error:
// Params holds the best point found either way.
type Result struct {
	Params      []float64
	Errors      []float64
	Covariance  *mat.SymDense
	Cost        float64
	Converged   bool
	State       State
	Iterations  int
	Evaluations int
	FreeParams  int
	Trace       []Step
}

// Settings selects and tunes a Minimizer.
type Settings struct {
	// Method is "lm" (default) or "lbfgs".
	Method        string
	MaxIterations int
	Tolerance     float64
}

// DefaultSettings returns the Levenberg–Marquardt defaults.
func DefaultSettings() Settings {
	return Settings{
		Method:        MethodLevenbergMarquardt,
		MaxIterations: 100,
		Tolerance:     1e-3,
	}
}

const (
	MethodLevenbergMarquardt = "lm"
	MethodQuasiNewton        = "lbfgs"
)

// New builds the Minimizer named by s.Method.
func New(s Settings, logger *zap.SugaredLogger) (Minimizer, error) {
	def := DefaultSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = def.MaxIterations
	}
	if s.Tolerance <= 0 {
		s.Tolerance = def.Tolerance
	}

	switch s.Method {
	case "", MethodLevenbergMarquardt, "levenberg-marquardt":
		return &LevenbergMarquardt{
			MaxIterations: s.MaxIterations,
			Tolerance:     s.Tolerance,
			Logger:        logger,
		}, nil
	case MethodQuasiNewton, "quasi-newton":
		return &QuasiNewton{
			MaxIterations: s.MaxIterations,
			Tolerance:     s.Tolerance,
			Logger:        logger,
		}, nil
	}
	return nil, fmt.Errorf("unknown minimizer method %q: %w", s.Method, ErrConfiguration)
}

// prepare validates p and returns the clamped start and free indices.
func (p Problem) prepare() ([]float64, []int, error) {
	if p.Objective == nil {
		return nil, nil, fmt.Errorf("nil objective: %w", ErrConfiguration)
	}
	n := p.Objective.NumParams()
	if len(p.Start) != n {
		return nil, nil, fmt.Errorf("start has %d values, objective wants %d: %w", len(p.Start), n, ErrParameterCount)
	}
	if len(p.Bounds) != 0 && len(p.Bounds) != n {
		return nil, nil, fmt.Errorf("%d bounds for %d parameters: %w", len(p.Bounds), n, ErrParameterCount)
	}
	if len(p.Frozen) != 0 && len(p.Frozen) != n {
		return nil, nil, fmt.Errorf("%d frozen flags for %d parameters: %w", len(p.Frozen), n, ErrParameterCount)
	}
	for i, b := range p.Bounds {
		if err := b.Validate(); err != nil {
			return nil, nil, fmt.Errorf("parameter %d: %w", i, err)
		}
	}

	params := make([]float64, n)
	var free []int
	for i, v := range p.Start {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("start value %d is %g: %w", i, v, ErrConfiguration)
		}
		params[i] = p.clamp(i, v)
		if len(p.Frozen) == 0 || !p.Frozen[i] {
			free = append(free, i)
		}
	}
	return params, free, nil
}

func (p Problem) clamp(i int, v float64) float64 {
	if len(p.Bounds) == 0 {
		return v
	}
	return p.Bounds[i].Clamp(v)
}

// covariance inverts alpha restricted to the free parameters. Frozen rows and
// columns stay zero.
func covariance(alpha *mat.SymDense, free []int, n int) (*mat.SymDense, []float64) {
	cov := mat.NewSymDense(n, nil)
	errs := make([]float64, n)
	if alpha == nil || len(free) == 0 {
		return cov, errs
	}

	sub := mat.NewDense(len(free), len(free), nil)
	for a, i := range free {
		for b, j := range free {
			sub.Set(a, b, alpha.At(i, j))
		}
	}
	d, err := linalg.Decompose(sub)
	if err != nil {
		return cov, errs
	}
	inv := d.PseudoInverse(0)
	for a, i := range free {
		for b, j := range free {
			if b < a {
				continue
			}
			// Symmetrise against round-off in the pseudo-inverse.
			cov.SetSym(i, j, 0.5*(inv.At(a, b)+inv.At(b, a)))
		}
	}
	for _, i := range free {
		if v := cov.At(i, i); v > 0 {
			errs[i] = math.Sqrt(v)
		}
	}
	return cov, errs
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
