package geometry

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chrissnell/model3d/pkg/config"
)

func testArray() config.ArrayData {
	cam := config.CameraData{Columns: 5, Rows: 3, PixelSpacing: 0.2}
	return config.ArrayData{
		ObservatoryAltitude: 1800,
		Telescopes: []config.TelescopeData{
			{ID: 3, Name: "T3", X: -50, Y: 10, MirrorArea: 100, PointingElevation: 90, Camera: cam},
			{ID: 4, Name: "T4", X: 50, Y: -10, Z: 2, MirrorArea: 100, PointingElevation: 60, PointingAzimuth: 45, Camera: cam},
		},
	}
}

func TestBuild(t *testing.T) {
	g, err := Build(testArray())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(g.Telescopes) != 2 || g.ObservatoryAltitude != 1800 {
		t.Fatalf("unexpected geometry %+v", g)
	}
	tg, ok := g.Telescope(4)
	if !ok {
		t.Fatal("telescope 4 missing")
	}
	if tg.Position != (r3.Vec{X: 50, Y: -10, Z: 2}) {
		t.Errorf("position = %v", tg.Position)
	}
	if len(tg.Pixels) != 15 {
		t.Errorf("got %d pixels, want 15", len(tg.Pixels))
	}
	want := math.Pow(0.2*math.Pi/180, 2)
	if math.Abs(tg.PixelSolidAngle-want) > 1e-15 {
		t.Errorf("solid angle = %g, want %g", tg.PixelSolidAngle, want)
	}
}

func TestLinesOfSight(t *testing.T) {
	for _, tel := range testArray().Telescopes {
		tg, err := Telescope(tel)
		if err != nil {
			t.Fatalf("Telescope: %v", err)
		}
		for i, u := range tg.Pixels {
			if math.Abs(r3.Norm(u)-1) > 1e-12 {
				t.Errorf("telescope %d pixel %d not unit: %v", tel.ID, i, u)
			}
		}

		// The centre pixel of an odd camera looks along the optical axis.
		centre := tg.Pixels[7]
		if d := r3.Norm(r3.Sub(centre, tg.OpticalAxis)); d > 1e-12 {
			t.Errorf("telescope %d centre pixel off axis by %g", tel.ID, d)
		}

		// Neighbours are one pixel spacing apart.
		ang := math.Acos(math.Min(1, r3.Dot(tg.Pixels[7], tg.Pixels[8]))) / deg2rad
		if math.Abs(ang-0.2) > 1e-6 {
			t.Errorf("telescope %d neighbour separation %g deg", tel.ID, ang)
		}
		ang = math.Acos(math.Min(1, r3.Dot(tg.Pixels[7], tg.Pixels[12]))) / deg2rad
		if math.Abs(ang-0.2) > 1e-6 {
			t.Errorf("telescope %d row separation %g deg", tel.ID, ang)
		}
	}
}

func TestBasisOrthonormal(t *testing.T) {
	for _, axis := range []r3.Vec{{Z: 1}, {X: 1}, r3.Unit(r3.Vec{X: 1, Y: 2, Z: 3})} {
		e1, e2 := Basis(axis)
		if math.Abs(r3.Dot(e1, axis)) > 1e-12 || math.Abs(r3.Dot(e2, axis)) > 1e-12 || math.Abs(r3.Dot(e1, e2)) > 1e-12 {
			t.Errorf("basis for %v not orthogonal: %v %v", axis, e1, e2)
		}
		if math.Abs(r3.Norm(e1)-1) > 1e-12 || math.Abs(r3.Norm(e2)-1) > 1e-12 {
			t.Errorf("basis for %v not unit", axis)
		}
	}
}

func TestBuildRejectsBadTelescopes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *config.ArrayData)
	}{
		{"duplicate", func(a *config.ArrayData) { a.Telescopes[1].ID = 3 }},
		{"no mirror", func(a *config.ArrayData) { a.Telescopes[0].MirrorArea = 0 }},
		{"no pixels", func(a *config.ArrayData) { a.Telescopes[0].Camera.Columns = 0 }},
		{"no spacing", func(a *config.ArrayData) { a.Telescopes[1].Camera.PixelSpacing = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArray()
			tt.mutate(&a)
			if _, err := Build(a); !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

type arraySource struct {
	config.YAMLProvider
	array config.ArrayData
}

func (s *arraySource) GetArray() (*config.ArrayData, error) { return &s.array, nil }

func TestConfigProvider(t *testing.T) {
	g, err := NewProvider(&arraySource{array: testArray()}).Geometry()
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	if len(g.Telescopes) != 2 {
		t.Errorf("got %d telescopes", len(g.Telescopes))
	}
}

func TestObliquity(t *testing.T) {
	tests := []struct {
		los, axis r3.Vec
		want      float64
	}{
		{r3.Vec{Z: 1}, r3.Vec{Z: 1}, 1},
		{r3.Vec{X: 1}, r3.Vec{Z: 1}, 0},
		{r3.Vec{Z: -1}, r3.Vec{Z: 1}, 0},
		{r3.Unit(r3.Vec{X: 1, Z: 1}), r3.Vec{Z: 2}, math.Sqrt2 / 2},
		{r3.Vec{Z: 1}, r3.Vec{}, 1},
	}
	for _, tt := range tests {
		if got := Obliquity(tt.los, tt.axis); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Obliquity(%v, %v) = %g, want %g", tt.los, tt.axis, got, tt.want)
		}
	}
}
