package shower

import (
	"math"
	"testing"
)

func TestAtmosphereDepth(t *testing.T) {
	atm := DefaultAtmosphere()

	if got := atm.VerticalDepth(0); math.Abs(got-1029) > 0.01 {
		t.Errorf("sea-level depth = %g g/cm², want 1029", got)
	}
	if got := atm.Density(atm.ScaleHeight); math.Abs(got-atm.SeaLevelDensity/math.E) > 1e-15 {
		t.Errorf("density one scale height up = %g", got)
	}

	for _, z := range []float64{0, 1800, 5000, 12000} {
		if got := atm.AltitudeOfVerticalDepth(atm.VerticalDepth(z)); math.Abs(got-z) > 1e-6 {
			t.Errorf("altitude round trip %g -> %g", z, got)
		}
	}
	if !math.IsInf(atm.AltitudeOfVerticalDepth(0), 1) {
		t.Error("zero depth should be at infinite altitude")
	}
}

func TestSlantDepth(t *testing.T) {
	atm := DefaultAtmosphere()
	atm.ObservatoryAltitude = 1800

	vertical := atm.SlantDepth(7, 90)
	if want := atm.VerticalDepth(8800); math.Abs(vertical-want) > 1e-9 {
		t.Errorf("vertical slant depth = %g, want %g", vertical, want)
	}
	if got := atm.SlantDepth(7, 30); math.Abs(got-2*vertical) > 1e-9 {
		t.Errorf("slant depth at 30° = %g, want %g", got, 2*vertical)
	}
	if !math.IsInf(atm.SlantDepth(7, 0), 1) {
		t.Error("horizontal shower should have infinite depth")
	}

	for _, elev := range []float64{35, 60, 85} {
		h := atm.HeightOfSlantDepth(300, elev)
		if got := atm.SlantDepth(h, elev); math.Abs(got-300) > 1e-9 {
			t.Errorf("elevation %g: depth round trip 300 -> %g", elev, got)
		}
	}
}

func TestReducedWidth(t *testing.T) {
	atm := DefaultAtmosphere()
	if got := atm.ReducedWidth(20, 0); got != 20 {
		t.Errorf("sea-level reduced width = %g", got)
	}
	if got := atm.ReducedWidth(20, atm.ScaleHeight/1000); math.Abs(got-20/math.E) > 1e-12 {
		t.Errorf("reduced width one scale height up = %g", got)
	}
}

func TestNormalizeAzimuth(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, 180},
		{-180, 180},
		{190, -170},
		{-190, 170},
		{540, 180},
		{725, 5},
		{-725, -5},
	}
	for _, tt := range tests {
		if got := NormalizeAzimuth(tt.in); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("NormalizeAzimuth(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}

func TestAngularDistance(t *testing.T) {
	if got := AngularDistance(90, 0, 80, 123); math.Abs(got-10) > 1e-9 {
		t.Errorf("distance from zenith = %g", got)
	}
	if got := AngularDistance(45, 10, 45, 10); got > 1e-5 {
		t.Errorf("self distance = %g", got)
	}
}
