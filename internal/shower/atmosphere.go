package shower

import "math"

// Atmosphere is an isothermal exponential atmosphere, ρ(z) = ρ0·exp(−z/h0).
type Atmosphere struct {
	SeaLevelDensity     float64 `yaml:"sea_level_density" json:"sea_level_density"` // g/cm³
	ScaleHeight         float64 `yaml:"scale_height" json:"scale_height"`           // m
	ObservatoryAltitude float64 `yaml:"observatory_altitude" json:"observatory_altitude"`
}

// DefaultAtmosphere returns a standard sea-level density and an 8.4 km scale
// height with the ground plane at sea level.
func DefaultAtmosphere() Atmosphere {
	return Atmosphere{
		SeaLevelDensity: 1.225e-3,
		ScaleHeight:     8400,
	}
}

// Density returns the air density in g/cm³ at the absolute altitude z, metres.
func (a Atmosphere) Density(z float64) float64 {
	return a.SeaLevelDensity * math.Exp(-z/a.ScaleHeight)
}

// VerticalDepth returns the overburden above the absolute altitude z in g/cm².
func (a Atmosphere) VerticalDepth(z float64) float64 {
	return a.SeaLevelDensity * a.ScaleHeight * 100 * math.Exp(-z/a.ScaleHeight)
}

// AltitudeOfVerticalDepth inverts VerticalDepth.
func (a Atmosphere) AltitudeOfVerticalDepth(x float64) float64 {
	if x <= 0 {
		return math.Inf(1)
	}
	return -a.ScaleHeight * math.Log(x/(a.SeaLevelDensity*a.ScaleHeight*100))
}

// SlantDepth returns the depth traversed along a shower axis of the given
// elevation (degrees) down to heightKm above the ground plane.
func (a Atmosphere) SlantDepth(heightKm, elevation float64) float64 {
	sinE := math.Sin(elevation * deg2rad)
	if sinE < minSinElevation {
		return math.Inf(1)
	}
	return a.VerticalDepth(a.ObservatoryAltitude+heightKm*kmToM) / sinE
}

// HeightOfSlantDepth returns the height above ground, km, at which a shower of
// the given elevation has traversed depth g/cm².
func (a Atmosphere) HeightOfSlantDepth(depth, elevation float64) float64 {
	sinE := math.Sin(elevation * deg2rad)
	z := a.AltitudeOfVerticalDepth(depth * sinE)
	return (z - a.ObservatoryAltitude) / kmToM
}

// ReducedWidth scales a transverse width (m) at heightKm above ground to the
// sea-level density. The Molière radius goes as 1/ρ, so the product is
// independent of where the shower develops.
func (a Atmosphere) ReducedWidth(widthT, heightKm float64) float64 {
	z := a.ObservatoryAltitude + heightKm*kmToM
	return widthT * a.Density(z) / a.SeaLevelDensity
}

// NormalizeAzimuth maps degrees into (−180, 180].
func NormalizeAzimuth(az float64) float64 {
	az = math.Mod(az, 360)
	if az > 180 {
		az -= 360
	} else if az <= -180 {
		az += 360
	}
	return az
}

// AngularDistance returns the angle in degrees between two (elevation,
// azimuth) directions.
func AngularDistance(e1, a1, e2, a2 float64) float64 {
	u, v := Axis(e1, a1), Axis(e2, a2)
	c := u.X*v.X + u.Y*v.Y + u.Z*v.Z
	return math.Acos(math.Max(-1, math.Min(1, c))) * rad2deg
}
