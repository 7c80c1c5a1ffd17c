package fit

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/model3d/internal/events"
	"github.com/chrissnell/model3d/internal/geometry"
	"github.com/chrissnell/model3d/internal/likelihood"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/minimizer"
	"github.com/chrissnell/model3d/internal/shower"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

func init() {
	log.UseNop()
}

var noise = events.Noise{PixelVariance: 0.3, NSB: 0.2, SPEWidth: 0.4}

func truth() types.ParameterVector {
	return types.ParameterVector{70, 0, 20, -10, 7, 3, 20, 14}
}

func testGeometry(t *testing.T) *types.Geometry {
	t.Helper()
	cam := config.CameraData{Columns: 25, Rows: 25, PixelSpacing: 0.1}
	var tels []config.TelescopeData
	for i, pos := range [][2]float64{{-80, -80}, {80, -80}, {80, 80}} {
		tels = append(tels, config.TelescopeData{
			ID: 1 + i, X: pos[0], Y: pos[1], MirrorArea: 100,
			PointingElevation: 70, Camera: cam,
		})
	}
	g, err := geometry.Build(config.ArrayData{Telescopes: tels})
	require.NoError(t, err)
	return g
}

var (
	tableOnce sync.Once
	table     *likelihood.Table
	tableErr  error
)

// testTable is a coarse table matching noise; amplitudes above its µ range
// fall back to the exact likelihood.
func testTable(t *testing.T) *likelihood.Table {
	t.Helper()
	tableOnce.Do(func() {
		table, tableErr = likelihood.BuildTable(context.Background(), likelihood.TableSpec{
			PixelVariance:    noise.PixelVariance,
			NSB:              noise.NSB,
			SPEWidth:         noise.SPEWidth,
			SmallSignal:      likelihood.Axis{Low: -3, High: 20, N: 116},
			LargeSignalHigh:  100,
			LargeSignalNodes: 41,
			LogMu:            likelihood.Axis{Low: -2, High: 1.5, N: 141},
		})
	})
	require.NoError(t, tableErr)
	return table
}

func simulate(t *testing.T, g *types.Geometry, seed uint64) *types.Event {
	t.Helper()
	sim := events.NewSimulator(g, noise, seed)
	sim.DirectionSmear = 0.3
	sim.CoreSmear = 10
	return sim.Simulate(seed, 1, truth())
}

func testConfig() Config {
	c := DefaultConfig()
	c.DepthOfMaximum = 400
	return c
}

// recorder is a Minimizer that returns its start point and remembers the
// problems it was given.
type recorder struct {
	problems []minimizer.Problem
	err      error
}

func (r *recorder) Minimize(p minimizer.Problem) (*minimizer.Result, error) {
	r.problems = append(r.problems, p)
	if r.err != nil {
		return nil, r.err
	}
	return &minimizer.Result{
		Params:     append([]float64(nil), p.Start...),
		Errors:     make([]float64, len(p.Start)),
		Converged:  true,
		State:      minimizer.StateConverged,
		FreeParams: len(p.Start),
	}, nil
}

func newDriver(t *testing.T, cfg Config, m minimizer.Minimizer) *Driver {
	t.Helper()
	d, err := NewDriver(cfg, m, testTable(t), shower.DefaultAtmosphere(), nil)
	require.NoError(t, err)
	return d
}

func TestFitRecoversSimulatedShower(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 7)
	d := newDriver(t, testConfig(), minimizer.NewLevenbergMarquardt(nil))

	res := d.FitEvent(g, ev)
	require.Equal(t, types.StatusConverged, res.Status, res.RejectReason)
	assert.True(t, res.Converged)
	assert.Equal(t, ev.ID, res.EventID)
	assert.Equal(t, 3, res.Images)
	assert.Equal(t, 3*25*25, res.Pixels)
	assert.Equal(t, res.Pixels-types.NumParams, res.NDF)

	want := truth()
	tolerance := types.ParameterVector{0.3, 0.3, 20, 20, 1, 1, 4, 0.2}
	for i := range want {
		assert.InDelta(t, want[i], res.Params[i], tolerance[i], types.ParameterNames[i])
		assert.Greater(t, res.Errors[i], 0.0, types.ParameterNames[i])
		assert.InDelta(t, res.Errors[i]*res.Errors[i], res.Covariance[i][i], 1e-9*res.Covariance[i][i]+1e-15)
	}
	assert.InDelta(t, 1, res.GOF, 0.3)

	atm := shower.DefaultAtmosphere()
	assert.InDelta(t, atm.SlantDepth(res.Params[types.ParHeightMax], res.Params[types.ParElevation]), res.SlantDepth, 1e-9)
	assert.Greater(t, res.ReducedWidth, 0.0)
	assert.Less(t, res.ReducedWidth, res.Params[types.ParWidthT])
}

func TestFitRejectsSingleImage(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 3)
	require.Len(t, ev.Images, 3)
	ev.Images = ev.Images[:1]

	rec := &recorder{}
	res := newDriver(t, testConfig(), rec).FitEvent(g, ev)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.False(t, res.Converged)
	assert.NotEmpty(t, res.RejectReason)
	assert.Equal(t, 1, res.Images)
	assert.Empty(t, rec.problems)
}

func TestFitRejectsImagesWithTooFewPixels(t *testing.T) {
	g := testGeometry(t)
	images := []types.Image{
		{Telescope: 1, Pixels: []types.PixelData{{Pixel: 1, Charge: 5, Selected: true}, {Pixel: 2, Charge: 5, Selected: true}}},
		{Telescope: 2, Pixels: []types.PixelData{{Pixel: 1, Charge: 5, Selected: true}, {Pixel: 2, Charge: 5, Selected: true}}},
	}
	rec := &recorder{}
	res := newDriver(t, testConfig(), rec).Fit(truth(), g, images)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Empty(t, rec.problems)
}

func TestFitRejectsImplausibleSeeds(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 5)

	tests := []struct {
		name  string
		index int
		value float64
	}{
		{"nan elevation", types.ParElevation, math.NaN()},
		{"elevation above zenith", types.ParElevation, 95},
		{"elevation below horizon", types.ParElevation, -3},
		{"infinite core", types.ParCoreX, math.Inf(1)},
		{"height out of range", types.ParHeightMax, 50},
		{"negative width", types.ParWidthT, -1},
		{"nan photons", types.ParLogPhotons, math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := truth()
			seed[tt.index] = tt.value
			rec := &recorder{}
			res := newDriver(t, testConfig(), rec).Fit(seed, g, ev.Images)
			assert.Equal(t, types.StatusRejected, res.Status)
			assert.NotEmpty(t, res.RejectReason)
			assert.Empty(t, rec.problems)
		})
	}
}

func TestFitBuildsBoundsAroundSeed(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 5)
	cfg := testConfig()
	cfg.Frozen[types.ParWidthL] = true
	rec := &recorder{}
	seed := truth()
	seed[types.ParElevation] = 89
	seed[types.ParAzimuth] = 179.5

	res := newDriver(t, cfg, rec).Fit(seed, g, ev.Images)
	require.Len(t, rec.problems, 1)
	p := rec.problems[0]

	assert.Equal(t, seed.Slice(), p.Start)
	require.Len(t, p.Bounds, types.NumParams)
	assert.Equal(t, minimizer.Between(87, 90), p.Bounds[types.ParElevation])
	assert.Equal(t, minimizer.Between(177.5, 181.5), p.Bounds[types.ParAzimuth])
	assert.Equal(t, minimizer.Between(-80, 120), p.Bounds[types.ParCoreX])
	assert.Equal(t, minimizer.Between(-110, 90), p.Bounds[types.ParCoreY])
	assert.Equal(t, cfg.Height, p.Bounds[types.ParHeightMax])
	assert.Equal(t, cfg.LogPhotons, p.Bounds[types.ParLogPhotons])
	assert.True(t, p.Frozen[types.ParWidthL])
	assert.False(t, p.Frozen[types.ParWidthT])

	assert.Equal(t, types.StatusConverged, res.Status)
	assert.Equal(t, seed, res.Seed)
	assert.InDelta(t, 179.5, res.Params[types.ParAzimuth], 1e-12)
}

func TestFitNormalizesAzimuth(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 5)
	seed := truth()
	seed[types.ParAzimuth] = 181

	res := newDriver(t, testConfig(), &recorder{}).Fit(seed, g, ev.Images)
	assert.InDelta(t, -179, res.Params[types.ParAzimuth], 1e-12)
}

func TestFitMinimizerError(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 5)
	rec := &recorder{err: minimizer.ErrConfiguration}

	res := newDriver(t, testConfig(), rec).Fit(truth(), g, ev.Images)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Contains(t, res.RejectReason, "invalid configuration")
}

func TestFitNotConverged(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 11)
	lm := &minimizer.LevenbergMarquardt{MaxIterations: 1}

	res := newDriver(t, testConfig(), lm).FitEvent(g, ev)
	assert.Equal(t, types.StatusNotConverged, res.Status)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
}

// stalled is a Minimizer whose damping ran away at the start point.
type stalled struct{}

func (stalled) Minimize(p minimizer.Problem) (*minimizer.Result, error) {
	return &minimizer.Result{
		Params:     append([]float64(nil), p.Start...),
		Errors:     make([]float64, len(p.Start)),
		State:      minimizer.StateStalled,
		Iterations: 16,
		FreeParams: len(p.Start),
	}, nil
}

func TestFitStalled(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 13)

	res := newDriver(t, testConfig(), stalled{}).Fit(truth(), g, ev.Images)
	assert.Equal(t, types.StatusNotConverged, res.Status)
	assert.False(t, res.Converged)
	assert.Equal(t, 16, res.Iterations)
}

func TestFitUnknownTelescope(t *testing.T) {
	g := testGeometry(t)
	images := []types.Image{{Telescope: 99, Pixels: []types.PixelData{{Pixel: 0, Selected: true}}}}

	res := newDriver(t, testConfig(), &recorder{}).Fit(truth(), g, images)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Contains(t, res.RejectReason, "pixel not in detector geometry")
}

func TestSeed(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 13)
	cfg := testConfig()
	d := newDriver(t, cfg, &recorder{})

	seed, err := d.Seed(g, ev)
	require.NoError(t, err)

	assert.Equal(t, ev.Seed.Elevation, seed[types.ParElevation])
	assert.Equal(t, ev.Seed.CoreX, seed[types.ParCoreX])
	assert.Equal(t, ev.Seed.CoreY, seed[types.ParCoreY])
	atm := shower.DefaultAtmosphere()
	assert.InDelta(t, cfg.DepthOfMaximum, atm.SlantDepth(seed[types.ParHeightMax], seed[types.ParElevation]), 1e-6)
	assert.Equal(t, cfg.SeedWidthL, seed[types.ParWidthL])
	assert.True(t, cfg.WidthT.Contains(seed[types.ParWidthT]))
	assert.Greater(t, seed[types.ParWidthT], 5.0)
	assert.InDelta(t, truth()[types.ParLogPhotons], seed[types.ParLogPhotons], 1)
}

func TestSeedWithoutLight(t *testing.T) {
	g := testGeometry(t)
	ev := simulate(t, g, 13)
	for i := range ev.Images {
		for j := range ev.Images[i].Pixels {
			ev.Images[i].Pixels[j].Charge = -1
		}
	}
	rec := &recorder{}
	d := newDriver(t, testConfig(), rec)

	seed, err := d.Seed(g, ev)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(seed[types.ParLogPhotons]))

	res := d.FitEvent(g, ev)
	assert.Equal(t, types.StatusRejected, res.Status)
	assert.Empty(t, rec.problems)
}

func TestSeedWidthFallback(t *testing.T) {
	g := testGeometry(t)
	assert.Equal(t, defaultSeedWidthT, seedWidthT(g, nil, shower.MaxPoint(truth())))
}

func TestConfigFromData(t *testing.T) {
	c := &config.ConfigData{}
	c.ApplyDefaults()

	got, err := ConfigFromData(c.Fit, c.Likelihood)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), got)

	c.Fit.Freeze = []string{"width_long", "core_x"}
	got, err = ConfigFromData(c.Fit, c.Likelihood)
	require.NoError(t, err)
	assert.True(t, got.Frozen[types.ParWidthL])
	assert.True(t, got.Frozen[types.ParCoreX])
	assert.False(t, got.Frozen[types.ParCoreY])

	c.Fit.Freeze = []string{"xmax"}
	_, err = ConfigFromData(c.Fit, c.Likelihood)
	assert.True(t, errors.Is(err, minimizer.ErrConfiguration))
}

func TestNewDriverValidates(t *testing.T) {
	tab := testTable(t)
	atm := shower.DefaultAtmosphere()

	_, err := NewDriver(DefaultConfig(), nil, tab, atm, nil)
	assert.True(t, errors.Is(err, minimizer.ErrConfiguration))

	_, err = NewDriver(DefaultConfig(), &recorder{}, nil, atm, nil)
	assert.True(t, errors.Is(err, minimizer.ErrConfiguration))

	bad := DefaultConfig()
	bad.Height = minimizer.Between(30, 1)
	_, err = NewDriver(bad, &recorder{}, tab, atm, nil)
	assert.True(t, errors.Is(err, minimizer.ErrConfiguration))

	bad = DefaultConfig()
	bad.MinImages = 0
	_, err = NewDriver(bad, &recorder{}, tab, atm, nil)
	assert.True(t, errors.Is(err, minimizer.ErrConfiguration))
}
