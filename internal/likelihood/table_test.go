package likelihood

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() TableSpec {
	return TableSpec{
		PixelVariance:    0.5,
		NSB:              0.2,
		SPEWidth:         0.4,
		SmallSignal:      Axis{Low: -3, High: 20, N: 116},
		LargeSignalHigh:  100,
		LargeSignalNodes: 41,
		LogMu:            Axis{Low: -2, High: 1.5, N: 141},
	}
}

var (
	sharedTableOnce sync.Once
	sharedTable     *Table
	sharedTableErr  error
)

func testTable(t *testing.T) *Table {
	t.Helper()
	sharedTableOnce.Do(func() {
		sharedTable, sharedTableErr = BuildTable(context.Background(), testSpec())
	})
	require.NoError(t, sharedTableErr)
	return sharedTable
}

func TestBuildTableLayout(t *testing.T) {
	tab := testTable(t)
	require.NoError(t, tab.Validate())
	assert.Equal(t, TableKey{PixelVariance: 0.5, NSB: 0.2}, tab.Key)
	assert.False(t, tab.Small.LogX)
	assert.True(t, tab.Large.LogX)
	assert.InDelta(t, math.Log10(20), tab.Large.Signal.Low, 1e-15)
	assert.InDelta(t, 2, tab.Large.Signal.High, 1e-15)
	assert.Len(t, tab.Small.LL, 116*141)
	assert.Len(t, tab.Expectation.Values, 141)
}

func TestLookupMatchesExact(t *testing.T) {
	tab := testTable(t)
	rng := rand.New(rand.NewSource(3))

	check := func(s, mu float64) {
		want := tab.Model.Exact(s, mu).LL
		got := tab.Lookup(s, mu).LL
		assert.InDelta(t, want, got, 0.05+1e-3*math.Abs(want), "s=%v mu=%v", s, mu)
	}
	for i := 0; i < 1000; i++ {
		check(-2+20*rng.Float64(), math.Pow(10, -1.8+3.1*rng.Float64()))
	}
	for i := 0; i < 500; i++ {
		check(math.Pow(10, math.Log10(21)+(1.95-math.Log10(21))*rng.Float64()), math.Pow(10, -1.8+3.1*rng.Float64()))
	}
}

func TestLookupReproducesNodes(t *testing.T) {
	tab := testTable(t)
	for _, g := range []*Grid2D{&tab.Small, &tab.Large} {
		for _, i := range []int{0, 1, g.Signal.N / 2, g.Signal.N - 2, g.Signal.N - 1} {
			for _, j := range []int{0, 7, g.LogMu.N / 2, g.LogMu.N - 1} {
				s := g.Signal.Node(i)
				if g.LogX {
					s = math.Pow(10, s)
				}
				mu := math.Pow(10, g.LogMu.Node(j))
				node := g.At(i, j)
				got := g.interpolate(s, math.Log10(mu))

				tol := func(v float64) float64 { return 1e-9 * (1 + math.Abs(v)) }
				assert.InDelta(t, node.LL, got.LL, tol(node.LL))
				assert.InDelta(t, node.DLL, got.DLL, tol(node.DLL))
				assert.InDelta(t, node.D2LL, got.D2LL, tol(node.D2LL))

				exact := tab.Model.Exact(s, mu)
				assert.InDelta(t, exact.LL, node.LL, tol(exact.LL))
			}
		}
	}
}

func TestGridsAgreeAtBoundary(t *testing.T) {
	tab := testTable(t)
	last := tab.Small.Signal.N - 1
	for j := 0; j < tab.Small.LogMu.N; j++ {
		small, large := tab.Small.At(last, j), tab.Large.At(0, j)
		assert.InDelta(t, small.LL, large.LL, 1e-9*(1+math.Abs(small.LL)))
		assert.InDelta(t, small.DLL, large.DLL, 1e-7*(1+math.Abs(small.DLL)))
	}
}

func TestLookupOutsideGridsIsExact(t *testing.T) {
	tab := testTable(t)
	for _, tt := range []struct{ s, mu float64 }{
		{-10, 1},   // below the small grid
		{500, 10},  // above the large grid
		{5, 1e-4},  // below the µ axis
		{5, 300},   // above the µ axis
		{3, 0},     // no light
		{-1, -0.5}, // unphysical expectation
	} {
		assert.Equal(t, tab.Model.Exact(tt.s, tt.mu), tab.Lookup(tt.s, tt.mu), "s=%v mu=%v", tt.s, tt.mu)
	}
}

func TestExpectedLL(t *testing.T) {
	tab := testTable(t)
	e := tab.Expectation

	assert.Equal(t, e.Values[0], tab.ExpectedLL(0))
	assert.Equal(t, e.Values[0], tab.ExpectedLL(1e-9))
	assert.Equal(t, GaussianExpectation(1e4, tab.PedestalVariance(), tab.Kappa()), tab.ExpectedLL(1e4))

	top := math.Pow(10, e.LogMu.High)
	assert.InDelta(t, GaussianExpectation(top, tab.PedestalVariance(), tab.Kappa()), tab.ExpectedLL(top), 0.05)

	prev := tab.ExpectedLL(1)
	for mu := 1.5; mu < top; mu *= 1.5 {
		cur := tab.ExpectedLL(mu)
		assert.Less(t, cur, prev, "expected ll should fall as the signal broadens, mu=%v", mu)
		prev = cur
	}
}

func TestBuildTableRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *TableSpec)
	}{
		{"no noise", func(s *TableSpec) { s.PixelVariance, s.NSB = 0, 0 }},
		{"negative spe", func(s *TableSpec) { s.SPEWidth = -1 }},
		{"single node", func(s *TableSpec) { s.SmallSignal.N = 1 }},
		{"inverted mu", func(s *TableSpec) { s.LogMu = Axis{Low: 1, High: -1, N: 10} }},
		{"large below small", func(s *TableSpec) { s.LargeSignalHigh = 10 }},
		{"small ends below zero", func(s *TableSpec) { s.SmallSignal = Axis{Low: -5, High: -1, N: 10} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec()
			tt.mutate(&spec)
			_, err := BuildTable(context.Background(), spec)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestBuildTableCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildTable(ctx, testSpec())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultTableSpecIsValid(t *testing.T) {
	assert.NoError(t, DefaultTableSpec(0.3, 0.2).Validate())
}
