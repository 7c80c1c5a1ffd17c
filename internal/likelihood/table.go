package likelihood

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidTable is returned for table specs or decoded tables whose grids
// are not usable.
var ErrInvalidTable = errors.New("invalid likelihood table")

// expectationNodes is the number of signal samples used to integrate the
// expected log-likelihood at each µ node.
const expectationNodes = 401

// Axis is a uniformly spaced set of N nodes from Low to High inclusive.
type Axis struct {
	Low  float64 `msgpack:"low" yaml:"low"`
	High float64 `msgpack:"high" yaml:"high"`
	N    int     `msgpack:"n" yaml:"n"`
}

func (a Axis) validate() error {
	if a.N < 2 || !(a.High > a.Low) || math.IsInf(a.Low, 0) || math.IsInf(a.High, 0) {
		return fmt.Errorf("axis %v..%v with %d nodes: %w", a.Low, a.High, a.N, ErrInvalidTable)
	}
	return nil
}

// Step is the spacing between nodes.
func (a Axis) Step() float64 { return (a.High - a.Low) / float64(a.N-1) }

// Node returns the position of node i.
func (a Axis) Node(i int) float64 {
	if i == a.N-1 {
		return a.High
	}
	return a.Low + float64(i)*a.Step()
}

// Contains reports whether x lies on the axis.
func (a Axis) Contains(x float64) bool { return x >= a.Low && x <= a.High }

// locate returns the cell index of x and the fractional position inside it.
func (a Axis) locate(x float64) (int, float64) {
	f := (x - a.Low) / a.Step()
	i := int(math.Floor(f))
	if i < 0 {
		i = 0
	}
	if i > a.N-2 {
		i = a.N - 2
	}
	return i, f - float64(i)
}

// Grid2D holds ll, dll and d2ll over a signal axis and a log10 µ axis,
// stored row-major by signal.
type Grid2D struct {
	Signal Axis      `msgpack:"signal"`
	LogMu  Axis      `msgpack:"log_mu"`
	LogX   bool      `msgpack:"log_x"`
	LL     []float64 `msgpack:"ll"`
	DLL    []float64 `msgpack:"dll"`
	D2LL   []float64 `msgpack:"d2ll"`
}

func (g *Grid2D) validate() error {
	if err := g.Signal.validate(); err != nil {
		return err
	}
	if err := g.LogMu.validate(); err != nil {
		return err
	}
	n := g.Signal.N * g.LogMu.N
	if len(g.LL) != n || len(g.DLL) != n || len(g.D2LL) != n {
		return fmt.Errorf("grid holds %d/%d/%d values, want %d: %w", len(g.LL), len(g.DLL), len(g.D2LL), n, ErrInvalidTable)
	}
	return nil
}

func (g *Grid2D) signalCoord(s float64) float64 {
	if g.LogX {
		return math.Log10(s)
	}
	return s
}

func (g *Grid2D) contains(s, logMu float64) bool {
	if g.LogX && s <= 0 {
		return false
	}
	return g.Signal.Contains(g.signalCoord(s)) && g.LogMu.Contains(logMu)
}

// At returns the stored value at node (i, j).
func (g *Grid2D) At(i, j int) Value {
	k := i*g.LogMu.N + j
	return Value{LL: g.LL[k], DLL: g.DLL[k], D2LL: g.D2LL[k]}
}

func (g *Grid2D) interpolate(s, logMu float64) Value {
	i, tx := g.Signal.locate(g.signalCoord(s))
	j, ty := g.LogMu.locate(logMu)
	w00 := (1 - tx) * (1 - ty)
	w01 := (1 - tx) * ty
	w10 := tx * (1 - ty)
	w11 := tx * ty
	k00 := i*g.LogMu.N + j
	k10 := k00 + g.LogMu.N
	bl := func(v []float64) float64 {
		return w00*v[k00] + w01*v[k00+1] + w10*v[k10] + w11*v[k10+1]
	}
	return Value{LL: bl(g.LL), DLL: bl(g.DLL), D2LL: bl(g.D2LL)}
}

// Grid1D holds one value per log10 µ node.
type Grid1D struct {
	LogMu  Axis      `msgpack:"log_mu"`
	Values []float64 `msgpack:"values"`
}

func (g *Grid1D) validate() error {
	if err := g.LogMu.validate(); err != nil {
		return err
	}
	if len(g.Values) != g.LogMu.N {
		return fmt.Errorf("expectation grid holds %d values, want %d: %w", len(g.Values), g.LogMu.N, ErrInvalidTable)
	}
	return nil
}

// TableSpec describes the grids of a Table.
type TableSpec struct {
	PixelVariance float64 `yaml:"pixel_variance"`
	NSB           float64 `yaml:"nsb"`
	SPEWidth      float64 `yaml:"spe_width"`
	// SmallSignal is linear in s.
	SmallSignal Axis `yaml:"small_signal"`
	// LargeSignalHigh is the upper edge of the large-signal grid in p.e.; the
	// grid is logarithmic and starts at SmallSignal.High.
	LargeSignalHigh  float64 `yaml:"large_signal_high"`
	LargeSignalNodes int     `yaml:"large_signal_nodes"`
	LogMu            Axis    `yaml:"log_mu"`
	Workers          int     `yaml:"workers"`
}

// DefaultTableSpec returns the grids used for production fits.
func DefaultTableSpec(pixelVariance, nsb float64) TableSpec {
	return TableSpec{
		PixelVariance:    pixelVariance,
		NSB:              nsb,
		SPEWidth:         DefaultSPEWidth,
		SmallSignal:      Axis{Low: -5, High: 45, N: 251},
		LargeSignalHigh:  500,
		LargeSignalNodes: 106,
		LogMu:            Axis{Low: -3, High: 2.5, N: 551},
	}
}

// Validate checks that s describes non-empty, increasing grids.
func (s TableSpec) Validate() error {
	if s.PixelVariance < 0 || s.NSB < 0 || s.SPEWidth < 0 {
		return fmt.Errorf("negative noise parameters: %w", ErrInvalidTable)
	}
	if s.PixelVariance+s.NSB <= 0 {
		return fmt.Errorf("pedestal variance must be positive: %w", ErrInvalidTable)
	}
	if err := s.SmallSignal.validate(); err != nil {
		return err
	}
	if err := s.LogMu.validate(); err != nil {
		return err
	}
	if s.SmallSignal.High <= 0 {
		return fmt.Errorf("small-signal grid must end above zero: %w", ErrInvalidTable)
	}
	return s.largeAxis().validate()
}

func (s TableSpec) largeAxis() Axis {
	return Axis{Low: math.Log10(s.SmallSignal.High), High: math.Log10(s.LargeSignalHigh), N: s.LargeSignalNodes}
}

// Key identifies the noise assumptions a table was built for.
func (s TableSpec) Key() TableKey {
	return TableKey{PixelVariance: s.PixelVariance, NSB: s.NSB}
}

// TableKey identifies a table by its pixel-variance and NSB assumptions.
type TableKey struct {
	PixelVariance float64 `msgpack:"pixel_variance"`
	NSB           float64 `msgpack:"nsb"`
}

// Table is a precomputed single-pixel likelihood. It is immutable once
// built and safe for concurrent use.
type Table struct {
	Key         TableKey   `msgpack:"key"`
	Model       PixelModel `msgpack:"model"`
	Small       Grid2D     `msgpack:"small"`
	Large       Grid2D     `msgpack:"large"`
	Expectation Grid1D     `msgpack:"expectation"`
}

// BuildTable evaluates the exact likelihood at every node of the grids
// described by spec. Rows are filled in parallel.
func BuildTable(ctx context.Context, spec TableSpec) (*Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	pm := NewPixelModel(spec.PixelVariance, spec.NSB, spec.SPEWidth)
	pm.GaussianAbove = math.Max(DefaultGaussianAbove, math.Pow(10, spec.LogMu.High))

	t := &Table{
		Key:         spec.Key(),
		Model:       pm,
		Small:       newGrid(spec.SmallSignal, spec.LogMu, false),
		Large:       newGrid(spec.largeAxis(), spec.LogMu, true),
		Expectation: Grid1D{LogMu: spec.LogMu, Values: make([]float64, spec.LogMu.N)},
	}

	workers := spec.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, grid := range []*Grid2D{&t.Small, &t.Large} {
		for i := 0; i < grid.Signal.N; i++ {
			grid, i := grid, i
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				fillRow(pm, grid, i)
				return nil
			})
		}
	}
	for j := 0; j < spec.LogMu.N; j++ {
		j := j
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t.Expectation.Values[j] = pm.expectedLL(math.Pow(10, spec.LogMu.Node(j)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building likelihood table: %w", err)
	}
	return t, nil
}

func newGrid(signal, logMu Axis, logX bool) Grid2D {
	n := signal.N * logMu.N
	return Grid2D{
		Signal: signal,
		LogMu:  logMu,
		LogX:   logX,
		LL:     make([]float64, n),
		DLL:    make([]float64, n),
		D2LL:   make([]float64, n),
	}
}

func fillRow(pm PixelModel, g *Grid2D, i int) {
	s := g.Signal.Node(i)
	if g.LogX {
		s = math.Pow(10, s)
	}
	for j := 0; j < g.LogMu.N; j++ {
		v := pm.Exact(s, math.Pow(10, g.LogMu.Node(j)))
		k := i*g.LogMu.N + j
		g.LL[k], g.DLL[k], g.D2LL[k] = v.LL, v.DLL, v.D2LL
	}
}

// expectedLL integrates P(s|µ)·ln P(s|µ) over s with the trapezoid rule.
func (pm PixelModel) expectedLL(mu float64) float64 {
	if pm.GaussianAbove > 0 && mu > pm.GaussianAbove {
		return GaussianExpectation(mu, pm.PedestalVariance, pm.Kappa())
	}
	sigma := math.Sqrt(math.Max(pm.PedestalVariance+mu*pm.Kappa(), minVariance))
	lo, hi := mu-sumWidths*sigma, mu+sumWidths*sigma
	h := (hi - lo) / float64(expectationNodes-1)
	var sum float64
	for k := 0; k < expectationNodes; k++ {
		ll := pm.Exact(lo+float64(k)*h, mu).LL
		w := h
		if k == 0 || k == expectationNodes-1 {
			w = h / 2
		}
		sum += w * math.Exp(ll) * ll
	}
	return sum
}

// Validate checks a table, typically one decoded from disk.
func (t *Table) Validate() error {
	if err := t.Small.validate(); err != nil {
		return fmt.Errorf("small grid: %w", err)
	}
	if err := t.Large.validate(); err != nil {
		return fmt.Errorf("large grid: %w", err)
	}
	if err := t.Expectation.validate(); err != nil {
		return err
	}
	if !t.Large.LogX || t.Small.LogX {
		return fmt.Errorf("grid scales swapped: %w", ErrInvalidTable)
	}
	if t.Model.PedestalVariance <= 0 {
		return fmt.Errorf("pedestal variance %v: %w", t.Model.PedestalVariance, ErrInvalidTable)
	}
	return nil
}

// Lookup returns the likelihood of signal s given expectation µ, bilinearly
// interpolated inside the grids and computed exactly outside them.
func (t *Table) Lookup(s, mu float64) Value {
	if mu <= 0 {
		return t.Model.Exact(s, mu)
	}
	y := math.Log10(mu)
	switch {
	case t.Small.contains(s, y):
		return t.Small.interpolate(s, y)
	case t.Large.contains(s, y):
		return t.Large.interpolate(s, y)
	}
	return t.Model.Exact(s, mu)
}

// Kappa is the excess noise factor the table was built with.
func (t *Table) Kappa() float64 { return t.Model.Kappa() }

// PedestalVariance is the pixel variance including the NSB contribution.
func (t *Table) PedestalVariance() float64 { return t.Model.PedestalVariance }

// ExpectedLL returns the expected log-likelihood at µ, interpolated linearly
// in log10 µ. Below the grid the first node is used; above it the Gaussian
// limit.
func (t *Table) ExpectedLL(mu float64) float64 {
	e := &t.Expectation
	if mu <= 0 {
		return e.Values[0]
	}
	y := math.Log10(mu)
	switch {
	case y < e.LogMu.Low:
		return e.Values[0]
	case y > e.LogMu.High:
		return GaussianExpectation(mu, t.Model.PedestalVariance, t.Model.Kappa())
	}
	j, ty := e.LogMu.locate(y)
	return (1-ty)*e.Values[j] + ty*e.Values[j+1]
}
