package likelihood

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/minimizer"
	"github.com/chrissnell/model3d/internal/shower"
	"github.com/chrissnell/model3d/internal/types"
)

// GOFUndefined is reported as goodness-of-fit when no pixel contributed.
const GOFUndefined = -1.0

// Options tune the saturation guard of PixelLikelihood.
type Options struct {
	// MinAmplitude is the expected amplitude, p.e., below which a pixel is
	// treated as dark.
	MinAmplitude float64 `yaml:"min_amplitude"`
	// MaxResidual is the |µ − s| above which the prediction is treated as
	// saturated and replaced by zero.
	MaxResidual float64 `yaml:"max_residual"`
}

// DefaultOptions returns the guard thresholds used in production.
func DefaultOptions() Options {
	return Options{MinAmplitude: 1e-6, MaxResidual: 1e6}
}

// Stats describe the last evaluation.
type Stats struct {
	Pixels   int // pixels that contributed
	Excluded int // pixels dropped for non-finite terms
	ChiSq    float64
	LLDev    float64 // Σ −2·(ll − ⟨ll⟩)
}

// GOF is the chi-square per selected pixel, or GOFUndefined.
func (s Stats) GOF(selected int) float64 {
	if selected == 0 {
		return GOFUndefined
	}
	return s.ChiSq / float64(selected)
}

// LikelihoodGOF is the log-likelihood deviation scaled by sqrt(2·selected),
// approximately a unit normal for a good fit, or GOFUndefined.
func (s Stats) LikelihoodGOF(selected int) float64 {
	if selected == 0 {
		return GOFUndefined
	}
	return s.LLDev / math.Sqrt(2*float64(selected))
}

// PixelLikelihood is the negative log-likelihood of an event's selected
// pixels under the 3D emission model. It implements minimizer.Objective and
// is not safe for concurrent use.
type PixelLikelihood struct {
	fc     *FitContext
	table  *Table
	opts   Options
	model  *shower.Model
	logger *zap.SugaredLogger

	positions []r3.Vec
	last      Stats
}

// NewPixelLikelihood returns the objective over fc scored with table.
func NewPixelLikelihood(fc *FitContext, table *Table, opts Options, logger *zap.SugaredLogger) *PixelLikelihood {
	return &PixelLikelihood{
		fc:        fc,
		table:     table,
		opts:      opts,
		model:     shower.NewModel(),
		logger:    log.Or(logger),
		positions: fc.Positions(),
	}
}

// NumParams is always types.NumParams.
func (pl *PixelLikelihood) NumParams() int { return types.NumParams }

// Context returns the event data the objective scores.
func (pl *PixelLikelihood) Context() *FitContext { return pl.fc }

// Stats returns the statistics of the most recent Evaluate call.
func (pl *PixelLikelihood) Stats() Stats { return pl.last }

// GoodnessOfFit returns the chi-square per selected pixel and the
// likelihood goodness-of-fit of the most recent evaluation.
func (pl *PixelLikelihood) GoodnessOfFit() (gof, llgof float64) {
	n := len(pl.fc.Pixels)
	return pl.last.GOF(n), pl.last.LikelihoodGOF(n)
}

// Evaluate implements minimizer.Objective.
func (pl *PixelLikelihood) Evaluate(params []float64) (minimizer.Evaluation, error) {
	p, err := types.FromSlice(params)
	if err != nil {
		return minimizer.Evaluation{}, fmt.Errorf("%v: %w", err, minimizer.ErrParameterCount)
	}
	pl.model.Configure(pl.positions, p)

	var (
		cost  float64
		beta  [types.NumParams]float64
		alpha [types.NumParams][types.NumParams]float64
		st    Stats
	)
	kappa := pl.table.Kappa()

	for i, px := range pl.fc.Pixels {
		mu, grad := pl.Expected(i)

		var v Value
		if mu <= 0 {
			variance := px.Variance
			if variance <= 0 {
				variance = pl.table.PedestalVariance()
			}
			v = Gaussian(px.Charge, 0, variance, kappa)
		} else {
			v = pl.table.Lookup(px.Charge, mu)
		}
		if !v.Finite() {
			st.Excluded++
			pl.logger.Debugw("dropping non-finite pixel term",
				"telescope", pl.fc.Telescopes[px.Telescope].ID, "charge", px.Charge, "mu", mu,
				"ll", v.LL, "dll", v.DLL, "d2ll", v.D2LL)
			continue
		}

		st.Pixels++
		cost -= v.LL
		// Clipped so alpha stays positive semidefinite.
		curv := math.Max(-v.D2LL, 0)
		for a := 0; a < types.NumParams; a++ {
			if grad[a] == 0 {
				continue
			}
			beta[a] += grad[a] * v.DLL
			for b := 0; b <= a; b++ {
				alpha[a][b] += grad[a] * grad[b] * curv
			}
		}

		r := px.Charge - mu
		if den := mu + px.Variance; den > 0 {
			st.ChiSq += r * r / den
		}
		st.LLDev += -2 * (v.LL - pl.table.ExpectedLL(mu))
	}
	if st.Excluded > 0 {
		pl.logger.Warnw("pixels excluded from likelihood", "excluded", st.Excluded, "used", st.Pixels)
	}
	pl.last = st

	sym := mat.NewSymDense(types.NumParams, nil)
	for a := 0; a < types.NumParams; a++ {
		for b := 0; b <= a; b++ {
			sym.SetSym(a, b, alpha[a][b])
		}
	}
	return minimizer.Evaluation{Cost: cost, Beta: beta[:], Alpha: sym}, nil
}

// Expected returns the predicted amplitude of pixel i in photoelectrons and
// its gradient, under the parameters of the last Configure or Evaluate call.
// The saturation guard is applied.
func (pl *PixelLikelihood) Expected(i int) (float64, types.ParameterVector) {
	px := pl.fc.Pixels[i]
	tel := pl.fc.Telescopes[px.Telescope]
	mu, grad := pl.model.Evaluate(px.Telescope, px.LineOfSight)

	scale := tel.Scale * pl.fc.Obliquity[i]
	mu *= scale
	if mu < pl.opts.MinAmplitude || math.Abs(mu-px.Charge) > pl.opts.MaxResidual || math.IsNaN(mu) {
		return 0, types.ParameterVector{}
	}
	for a := range grad {
		grad[a] *= scale
	}
	return mu, grad
}

// Configure sets the model parameters without scoring, for callers that only
// need Expected.
func (pl *PixelLikelihood) Configure(p types.ParameterVector) {
	pl.model.Configure(pl.positions, p)
}
