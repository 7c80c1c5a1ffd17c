package events

import (
	"bytes"
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrissnell/model3d/internal/geometry"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

func testGeometry(t *testing.T) *types.Geometry {
	t.Helper()
	cam := config.CameraData{Columns: 31, Rows: 31, PixelSpacing: 0.1}
	var tels []config.TelescopeData
	for i, pos := range [][2]float64{{-80, -80}, {80, -80}, {80, 80}, {-80, 80}} {
		tels = append(tels, config.TelescopeData{
			ID: i + 1, X: pos[0], Y: pos[1], MirrorArea: 100,
			PointingElevation: 70, Camera: cam,
		})
	}
	g, err := geometry.Build(config.ArrayData{Telescopes: tels})
	require.NoError(t, err)
	return g
}

func testParams() types.ParameterVector {
	return types.ParameterVector{70, 0, 20, -10, 7, 3, 20, 14}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	sim := NewSimulator(testGeometry(t), Noise{PixelVariance: 0.3, NSB: 0.2, SPEWidth: 0.4}, 1)
	var want []*types.Event
	for i := 0; i < 3; i++ {
		want = append(want, sim.Simulate(uint64(i+1), 42, testParams()))
	}

	var buf bytes.Buffer
	w, err := NewWriter(&buf, 42)
	require.NoError(t, err)
	for _, ev := range want {
		require.NoError(t, w.Write(ev))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, 3, w.Count())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 42, r.Run())

	for _, ev := range want {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.events")
	w, err := Create(path, 7)
	require.NoError(t, err)
	require.NoError(t, w.Write(&types.Event{ID: 9, Run: 7}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), ev.ID)
}

func TestReaderRejectsForeignStreams(t *testing.T) {
	b, err := msgpack.Marshal(map[string]any{"magic": "something-else", "version": 1})
	require.NoError(t, err)
	_, err = NewReader(bytes.NewReader(b))
	assert.True(t, errors.Is(err, ErrBadHeader))

	_, err = NewReader(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestSimulateDeterministic(t *testing.T) {
	g := testGeometry(t)
	noise := Noise{PixelVariance: 0.3, NSB: 0.2, SPEWidth: 0.4}
	a := NewSimulator(g, noise, 5).Simulate(1, 1, testParams())
	b := NewSimulator(g, noise, 5).Simulate(1, 1, testParams())
	assert.Equal(t, a, b)
	assert.Len(t, a.Images, 4)
	assert.Equal(t, testParams()[types.ParElevation], a.Seed.Elevation)
}

func TestSimulateChargesFollowExpectation(t *testing.T) {
	g := testGeometry(t)
	noise := Noise{PixelVariance: 0.3, NSB: 0.2, SPEWidth: 0.4}
	sim := NewSimulator(g, noise, 11)
	expected := sim.Expected(testParams())

	// Residuals normalised by the model variance have zero mean and unit
	// variance.
	const n = 200
	var sum, sumsq float64
	var count int
	kappa := 1 + noise.SPEWidth*noise.SPEWidth
	for i := 0; i < n; i++ {
		ev := sim.Simulate(uint64(i), 1, testParams())
		for _, px := range ev.Images[0].Pixels {
			mu := expected[0][px.Pixel]
			z := (px.Charge - mu) / math.Sqrt(noise.PedestalVariance()+mu*kappa)
			sum += z
			sumsq += z * z
			count++
		}
	}
	assert.InDelta(t, 0, sum/float64(count), 0.02)
	assert.InDelta(t, 1, sumsq/float64(count), 0.03)
}

func TestSimulateThreshold(t *testing.T) {
	sim := NewSimulator(testGeometry(t), Noise{PixelVariance: 0.3, NSB: 0.2, SPEWidth: 0.4}, 3)
	sim.SelectAll = false
	sim.Threshold = 5
	ev := sim.Simulate(1, 1, testParams())
	require.NotEmpty(t, ev.Images)
	for _, im := range ev.Images {
		for _, px := range im.Pixels {
			assert.Equal(t, px.Charge >= 5, px.Selected)
		}
		assert.Greater(t, im.Size, 0.0)
	}
}

func TestSimulateSeedSmear(t *testing.T) {
	sim := NewSimulator(testGeometry(t), Noise{PixelVariance: 0.3, SPEWidth: 0.4}, 3)
	sim.DirectionSmear, sim.CoreSmear = 0.5, 10
	var de, dc float64
	const n = 400
	for i := 0; i < n; i++ {
		s := sim.seed(testParams())
		de += math.Pow(s.Elevation-70, 2)
		dc += math.Pow(s.CoreX-20, 2)
	}
	assert.InEpsilon(t, 0.5, math.Sqrt(de/n), 0.15)
	assert.InEpsilon(t, 10, math.Sqrt(dc/n), 0.15)
}

func TestMoments(t *testing.T) {
	g := testGeometry(t)
	tg := &g.Telescopes[0]

	// A line of pixels along one camera row has no width.
	var row []types.PixelData
	for col := 5; col < 20; col++ {
		row = append(row, types.PixelData{Pixel: 15*31 + col, Charge: 10, Selected: true})
	}
	size, width := Moments(tg, row)
	assert.InDelta(t, 150, size, 1e-9)
	assert.InDelta(t, 0, width, 1e-6)

	// Two equal columns one pixel apart have a width of half a pixel.
	var block []types.PixelData
	for r := 5; r < 25; r++ {
		block = append(block,
			types.PixelData{Pixel: r*31 + 10, Charge: 4, Selected: true},
			types.PixelData{Pixel: r*31 + 11, Charge: 4, Selected: true},
			types.PixelData{Pixel: r*31 + 12, Charge: 4, Selected: false},
		)
	}
	size, width = Moments(tg, block)
	assert.InDelta(t, 160, size, 1e-9)
	assert.InDelta(t, 0.05, width, 1e-3)

	size, width = Moments(tg, nil)
	assert.Zero(t, size)
	assert.Zero(t, width)
}
