package likelihood

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chrissnell/model3d/internal/geometry"
	"github.com/chrissnell/model3d/internal/types"
)

// ErrUnknownPixel is returned when event data refers to a telescope or pixel
// the geometry does not describe.
var ErrUnknownPixel = errors.New("pixel not in detector geometry")

// TelescopeContext is one telescope taking part in a fit. Its pixels are
// Pixels[First : First+Count] of the owning FitContext.
type TelescopeContext struct {
	ID          int
	Position    r3.Vec
	Scale       float64 // mirror area × pixel solid angle
	OpticalAxis r3.Vec
	First       int
	Count       int
}

// FitContext holds everything a likelihood evaluation reads for one event,
// as flat slices indexed by telescope and pixel position.
type FitContext struct {
	Telescopes []TelescopeContext
	Pixels     []types.PixelRecord
	// Obliquity is the cosine between each pixel's line of sight and its
	// telescope's optical axis, aligned with Pixels.
	Obliquity []float64
}

// NewFitContext resolves the selected pixels of images against geom.
// Telescopes without selected pixels are left out.
func NewFitContext(geom *types.Geometry, images []types.Image) (*FitContext, error) {
	c := &FitContext{}
	for _, im := range images {
		if im.SelectedPixels() == 0 {
			continue
		}
		tg, ok := geom.Telescope(im.Telescope)
		if !ok {
			return nil, fmt.Errorf("telescope %d: %w", im.Telescope, ErrUnknownPixel)
		}

		tc := TelescopeContext{
			ID:          tg.ID,
			Position:    tg.Position,
			Scale:       tg.MirrorArea * tg.PixelSolidAngle,
			OpticalAxis: tg.OpticalAxis,
			First:       len(c.Pixels),
		}
		idx := len(c.Telescopes)
		for _, px := range im.Pixels {
			if !px.Selected {
				continue
			}
			if px.Pixel < 0 || px.Pixel >= len(tg.Pixels) {
				return nil, fmt.Errorf("telescope %d pixel %d: %w", tg.ID, px.Pixel, ErrUnknownPixel)
			}
			los := tg.Pixels[px.Pixel]
			c.Pixels = append(c.Pixels, types.PixelRecord{
				Telescope:   idx,
				LineOfSight: los,
				Charge:      px.Charge,
				Variance:    px.Variance,
				Selected:    true,
			})
			c.Obliquity = append(c.Obliquity, geometry.Obliquity(los, tg.OpticalAxis))
		}
		tc.Count = len(c.Pixels) - tc.First
		c.Telescopes = append(c.Telescopes, tc)
	}
	return c, nil
}

// Positions returns the ground positions of the context's telescopes.
func (c *FitContext) Positions() []r3.Vec {
	out := make([]r3.Vec, len(c.Telescopes))
	for i, t := range c.Telescopes {
		out[i] = t.Position
	}
	return out
}

// ImagesWithAtLeast counts telescopes contributing at least n pixels.
func (c *FitContext) ImagesWithAtLeast(n int) int {
	k := 0
	for _, t := range c.Telescopes {
		if t.Count >= n {
			k++
		}
	}
	return k
}

// TotalCharge sums the measured charge of every pixel.
func (c *FitContext) TotalCharge() float64 {
	var sum float64
	for _, p := range c.Pixels {
		sum += p.Charge
	}
	return sum
}
