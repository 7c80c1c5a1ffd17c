// Package geometry turns the configured telescope array into the detector
// geometry the fit reads: ground positions, mirror areas and one unit line
// of sight per camera pixel.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chrissnell/model3d/internal/shower"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

const deg2rad = math.Pi / 180

// Provider supplies the detector geometry, loaded once per run.
type Provider interface {
	Geometry() (*types.Geometry, error)
}

// ConfigProvider builds the geometry from a configuration source.
type ConfigProvider struct {
	source config.ConfigProvider
}

// NewProvider returns a Provider reading the array from source.
func NewProvider(source config.ConfigProvider) *ConfigProvider {
	return &ConfigProvider{source: source}
}

// Geometry implements Provider.
func (p *ConfigProvider) Geometry() (*types.Geometry, error) {
	array, err := p.source.GetArray()
	if err != nil {
		return nil, fmt.Errorf("loading telescope array: %w", err)
	}
	return Build(*array)
}

// Build expands every telescope's camera into pixel lines of sight.
func Build(array config.ArrayData) (*types.Geometry, error) {
	g := &types.Geometry{ObservatoryAltitude: array.ObservatoryAltitude}
	seen := make(map[int]bool, len(array.Telescopes))
	for _, t := range array.Telescopes {
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate telescope id %d: %w", t.ID, config.ErrInvalidConfig)
		}
		seen[t.ID] = true
		tg, err := Telescope(t)
		if err != nil {
			return nil, err
		}
		g.Telescopes = append(g.Telescopes, tg)
	}
	return g, nil
}

// Telescope builds the geometry of a single telescope.
func Telescope(t config.TelescopeData) (types.TelescopeGeometry, error) {
	c := t.Camera
	if t.MirrorArea <= 0 || c.Columns <= 0 || c.Rows <= 0 || c.PixelSpacing <= 0 {
		return types.TelescopeGeometry{}, fmt.Errorf("telescope %d: %w", t.ID, config.ErrInvalidConfig)
	}
	axis := shower.Axis(t.PointingElevation, t.PointingAzimuth)
	return types.TelescopeGeometry{
		ID:              t.ID,
		Name:            t.Name,
		Position:        r3.Vec{X: t.X, Y: t.Y, Z: t.Z},
		MirrorArea:      t.MirrorArea,
		PixelSolidAngle: PixelSolidAngle(c),
		OpticalAxis:     axis,
		Pixels:          LinesOfSight(c, axis),
	}, nil
}

// PixelSolidAngle is the solid angle of one square pixel in steradians.
func PixelSolidAngle(c config.CameraData) float64 {
	s := c.PixelSpacing * deg2rad
	return s * s
}

// LinesOfSight returns the unit line of sight of every pixel, row-major from
// the lower-left corner of the camera. Pixel offsets are laid out on the
// tangent plane at the optical axis.
func LinesOfSight(c config.CameraData, axis r3.Vec) []r3.Vec {
	e1, e2 := Basis(axis)
	out := make([]r3.Vec, 0, c.Columns*c.Rows)
	for row := 0; row < c.Rows; row++ {
		y := math.Tan((float64(row) - float64(c.Rows-1)/2) * c.PixelSpacing * deg2rad)
		for col := 0; col < c.Columns; col++ {
			x := math.Tan((float64(col) - float64(c.Columns-1)/2) * c.PixelSpacing * deg2rad)
			v := r3.Add(axis, r3.Add(r3.Scale(x, e1), r3.Scale(y, e2)))
			out = append(out, r3.Unit(v))
		}
	}
	return out
}

// Basis returns two unit vectors completing axis to a right-handed frame.
// e1 is horizontal unless axis is vertical.
func Basis(axis r3.Vec) (e1, e2 r3.Vec) {
	up := r3.Vec{Z: 1}
	e1 = r3.Cross(up, axis)
	if r3.Norm(e1) < 1e-9 {
		e1 = r3.Vec{X: 0, Y: 1}
		e1 = r3.Cross(e1, axis)
	}
	e1 = r3.Unit(e1)
	e2 = r3.Unit(r3.Cross(axis, e1))
	return e1, e2
}

// Static is a Provider over a geometry built elsewhere.
type Static struct{ G *types.Geometry }

// Geometry implements Provider.
func (s Static) Geometry() (*types.Geometry, error) { return s.G, nil }

// Obliquity is the cosine between a pixel's line of sight and the optical
// axis, floored at zero.
func Obliquity(los, axis r3.Vec) float64 {
	n := r3.Norm(axis) * r3.Norm(los)
	if n == 0 {
		return 1
	}
	return math.Max(r3.Dot(los, axis)/n, 0)
}
