package types

import "gonum.org/v1/gonum/spatial/r3"

// TelescopeGeometry describes one telescope in the ground frame (x east,
// y north, z up, metres). It is loaded once per run and shared read-only.
type TelescopeGeometry struct {
	ID              int
	Name            string
	Position        r3.Vec
	MirrorArea      float64 // m²
	PixelSolidAngle float64 // sr, per pixel
	OpticalAxis     r3.Vec  // unit vector the telescope points along

	// Pixels are unit lines of sight indexed by pixel id.
	Pixels []r3.Vec
}

// Geometry is the whole array.
type Geometry struct {
	// ObservatoryAltitude is the altitude of the ground plane, metres a.s.l.
	ObservatoryAltitude float64
	Telescopes          []TelescopeGeometry
}

// Telescope returns the telescope with the given id.
func (g *Geometry) Telescope(id int) (*TelescopeGeometry, bool) {
	for i := range g.Telescopes {
		if g.Telescopes[i].ID == id {
			return &g.Telescopes[i], true
		}
	}
	return nil, false
}

// Positions returns the telescope ground positions in array order.
func (g *Geometry) Positions() []r3.Vec {
	out := make([]r3.Vec, len(g.Telescopes))
	for i, t := range g.Telescopes {
		out[i] = t.Position
	}
	return out
}
