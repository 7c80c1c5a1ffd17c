// Package fit drives the 3D shower fit of one event: seeding from the
// reconstruction, the quality gate, bounds, the minimizer run and the
// derived observables.
package fit

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/likelihood"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/minimizer"
	"github.com/chrissnell/model3d/internal/shower"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

const (
	deg2rad = math.Pi / 180

	// defaultSeedWidthT is used when no image has a usable width.
	defaultSeedWidthT = 20.0
)

// Config tunes the driver.
type Config struct {
	MinImages      int
	MinImagePixels int

	// Offsets around the seed for the direction (degrees) and the core (m).
	DirectionOffset float64
	CoreOffset      float64

	// Absolute ranges for the remaining parameters.
	Height     minimizer.Bound // km
	WidthL     minimizer.Bound // km
	WidthT     minimizer.Bound // m
	LogPhotons minimizer.Bound

	DepthOfMaximum float64 // g/cm², seeds the height of maximum
	SeedWidthL     float64 // km

	Frozen     [types.NumParams]bool
	Likelihood likelihood.Options
}

// DefaultConfig matches the defaults of config.FitData.
func DefaultConfig() Config {
	return Config{
		MinImages:       2,
		MinImagePixels:  3,
		DirectionOffset: 2,
		CoreOffset:      100,
		Height:          minimizer.Between(1, 30),
		WidthL:          minimizer.Between(0.1, 20),
		WidthT:          minimizer.Between(0.5, 200),
		LogPhotons:      minimizer.Between(0, 40),
		DepthOfMaximum:  300,
		SeedWidthL:      3,
		Likelihood:      likelihood.DefaultOptions(),
	}
}

// ConfigFromData converts the fit and likelihood sections of a loaded
// configuration. Defaults are expected to have been applied already.
func ConfigFromData(f config.FitData, l config.LikelihoodData) (Config, error) {
	c := Config{
		MinImages:       f.MinImages,
		MinImagePixels:  f.MinImagePixels,
		DirectionOffset: f.DirectionOffset,
		CoreOffset:      f.CoreOffset,
		Height:          minimizer.Between(f.HeightRange.Min, f.HeightRange.Max),
		WidthL:          minimizer.Between(f.WidthLRange.Min, f.WidthLRange.Max),
		WidthT:          minimizer.Between(f.WidthTRange.Min, f.WidthTRange.Max),
		LogPhotons:      minimizer.Between(f.LogPhotonsRange.Min, f.LogPhotonsRange.Max),
		DepthOfMaximum:  f.DepthOfMaximum,
		SeedWidthL:      f.SeedWidthL,
		Likelihood:      likelihood.DefaultOptions(),
	}
	if l.MinAmplitude > 0 {
		c.Likelihood.MinAmplitude = l.MinAmplitude
	}
	if l.MaxResidual > 0 {
		c.Likelihood.MaxResidual = l.MaxResidual
	}

	for _, name := range f.Freeze {
		i := parameterIndex(name)
		if i < 0 {
			return Config{}, fmt.Errorf("unknown parameter %q in freeze list: %w", name, minimizer.ErrConfiguration)
		}
		c.Frozen[i] = true
	}
	return c, nil
}

func parameterIndex(name string) int {
	for i, n := range types.ParameterNames {
		if n == name {
			return i
		}
	}
	return -1
}

func (c Config) validate() error {
	if c.MinImages < 1 || c.MinImagePixels < 1 {
		return fmt.Errorf("quality gate needs positive image and pixel counts: %w", minimizer.ErrConfiguration)
	}
	if c.DirectionOffset < 0 || c.CoreOffset < 0 {
		return fmt.Errorf("negative seed offset: %w", minimizer.ErrConfiguration)
	}
	for _, i := range absoluteParams {
		if err := c.absolute(i).Validate(); err != nil {
			return fmt.Errorf("%s: %w", types.ParameterNames[i], err)
		}
	}
	return nil
}

// absoluteParams have fixed ranges rather than offsets around the seed.
var absoluteParams = [...]int{types.ParHeightMax, types.ParWidthL, types.ParWidthT, types.ParLogPhotons}

func (c Config) absolute(i int) minimizer.Bound {
	switch i {
	case types.ParHeightMax:
		return c.Height
	case types.ParWidthL:
		return c.WidthL
	case types.ParWidthT:
		return c.WidthT
	case types.ParLogPhotons:
		return c.LogPhotons
	}
	return minimizer.Unbounded()
}

// Bounds returns the box constraints of a fit started from seed.
func (c Config) Bounds(seed types.ParameterVector) []minimizer.Bound {
	b := make([]minimizer.Bound, types.NumParams)
	e := seed[types.ParElevation]
	b[types.ParElevation] = minimizer.Between(math.Max(e-c.DirectionOffset, 0), math.Min(e+c.DirectionOffset, 90))
	a := seed[types.ParAzimuth]
	b[types.ParAzimuth] = minimizer.Between(a-c.DirectionOffset, a+c.DirectionOffset)
	x, y := seed[types.ParCoreX], seed[types.ParCoreY]
	b[types.ParCoreX] = minimizer.Between(x-c.CoreOffset, x+c.CoreOffset)
	b[types.ParCoreY] = minimizer.Between(y-c.CoreOffset, y+c.CoreOffset)
	for _, i := range absoluteParams {
		b[i] = c.absolute(i)
	}
	return b
}

// Driver fits events one at a time. The table and atmosphere are shared
// read-only; a Driver is not safe for concurrent use.
type Driver struct {
	cfg    Config
	min    minimizer.Minimizer
	table  *likelihood.Table
	atm    shower.Atmosphere
	logger *zap.SugaredLogger
}

// NewDriver checks cfg and returns a driver running m against table.
func NewDriver(cfg Config, m minimizer.Minimizer, table *likelihood.Table, atm shower.Atmosphere, logger *zap.SugaredLogger) (*Driver, error) {
	if m == nil {
		return nil, fmt.Errorf("nil minimizer: %w", minimizer.ErrConfiguration)
	}
	if table == nil {
		return nil, fmt.Errorf("nil likelihood table: %w", minimizer.ErrConfiguration)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Driver{
		cfg:    cfg,
		min:    m,
		table:  table,
		atm:    atm,
		logger: log.Or(logger),
	}, nil
}

// Config returns the driver configuration.
func (d *Driver) Config() Config { return d.cfg }

// FitEvent seeds and fits ev.
func (d *Driver) FitEvent(geom *types.Geometry, ev *types.Event) *types.FitResult {
	seed, err := d.Seed(geom, ev)
	if err != nil {
		res := &types.FitResult{Status: types.StatusFailed, RejectReason: err.Error()}
		res.EventID = ev.ID
		return res
	}
	res := d.Fit(seed, geom, ev.Images)
	res.EventID = ev.ID
	return res
}

// Fit runs the quality gate and, when it passes, the minimizer from seed.
// It never returns nil: every failure is reported through the result status.
func (d *Driver) Fit(seed types.ParameterVector, geom *types.Geometry, images []types.Image) *types.FitResult {
	res := &types.FitResult{Seed: seed}

	fc, err := likelihood.NewFitContext(geom, images)
	if err != nil {
		d.logger.Warnw("event does not match the detector geometry", "error", err)
		res.Status = types.StatusFailed
		res.RejectReason = err.Error()
		return res
	}
	res.Images = len(fc.Telescopes)
	res.Pixels = len(fc.Pixels)

	if reason := d.gate(seed, fc); reason != "" {
		d.logger.Debugw("event rejected by quality gate", "reason", reason)
		res.Status = types.StatusRejected
		res.RejectReason = reason
		return res
	}

	pl := likelihood.NewPixelLikelihood(fc, d.table, d.cfg.Likelihood, d.logger)
	out, err := d.min.Minimize(minimizer.Problem{
		Objective: pl,
		Start:     seed.Slice(),
		Bounds:    d.cfg.Bounds(seed),
		Frozen:    d.cfg.Frozen[:],
	})
	if err != nil {
		d.logger.Errorw("minimizer failed", "error", err)
		res.Status = types.StatusFailed
		res.RejectReason = err.Error()
		return res
	}

	params, err := types.FromSlice(out.Params)
	if err != nil {
		res.Status = types.StatusFailed
		res.RejectReason = err.Error()
		return res
	}
	params[types.ParAzimuth] = shower.NormalizeAzimuth(params[types.ParAzimuth])
	res.Params = params
	if errs, err := types.FromSlice(out.Errors); err == nil {
		res.Errors = errs
	}
	if out.Covariance != nil {
		for i := 0; i < types.NumParams; i++ {
			for j := 0; j < types.NumParams; j++ {
				res.Covariance[i][j] = out.Covariance.At(i, j)
			}
		}
	}
	res.Cost = out.Cost
	res.Iterations = out.Iterations
	res.Converged = out.Converged
	res.NDF = res.Pixels - out.FreeParams

	switch out.State {
	case minimizer.StateConverged:
		res.Status = types.StatusConverged
	case minimizer.StateFailed:
		res.Status = types.StatusFailed
		res.RejectReason = "seed cost is not finite"
	default:
		res.Status = types.StatusNotConverged
	}

	// The last evaluation may have been a rejected trial step.
	if _, err := pl.Evaluate(out.Params); err == nil {
		res.GOF, res.LikelihoodGOF = pl.GoodnessOfFit()
	}

	h := params[types.ParHeightMax]
	res.SlantDepth = d.atm.SlantDepth(h, params[types.ParElevation])
	res.ReducedWidth = d.atm.ReducedWidth(params[types.ParWidthT], h)

	d.logger.Debugw("event fit",
		"status", res.Status, "iterations", res.Iterations, "cost", res.Cost,
		"gof", res.GOF, "elevation", params[types.ParElevation], "azimuth", params[types.ParAzimuth])
	return res
}

// gate returns a non-empty reason when the event must not be fit.
func (d *Driver) gate(seed types.ParameterVector, fc *likelihood.FitContext) string {
	if n := fc.ImagesWithAtLeast(d.cfg.MinImagePixels); n < d.cfg.MinImages {
		return fmt.Sprintf("%d images with at least %d pixels, need %d", n, d.cfg.MinImagePixels, d.cfg.MinImages)
	}
	for i, v := range seed {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprintf("seed %s is not finite", types.ParameterNames[i])
		}
	}
	if e := seed[types.ParElevation]; e <= 0 || e > 90 {
		return fmt.Sprintf("seed elevation %g outside (0, 90]", e)
	}
	for _, i := range absoluteParams {
		if b := d.cfg.absolute(i); !b.Contains(seed[i]) {
			return fmt.Sprintf("seed %s %g outside [%g, %g]", types.ParameterNames[i], seed[i], b.Low, b.High)
		}
	}
	return ""
}
