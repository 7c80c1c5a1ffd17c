package fit

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chrissnell/model3d/internal/likelihood"
	"github.com/chrissnell/model3d/internal/shower"
	"github.com/chrissnell/model3d/internal/types"
)

// Seed builds the starting parameters of ev from its reconstruction. The
// direction and core are copied. The height of maximum is where the slant
// depth reaches the configured depth of maximum, the transverse width comes
// from the image widths seen from that point, and the photon count is
// scaled so the predicted charge matches the measured charge.
//
// A seed that cannot be built comes back with NaN entries, which the quality
// gate rejects. The error is reserved for events that do not match geom.
func (d *Driver) Seed(geom *types.Geometry, ev *types.Event) (types.ParameterVector, error) {
	var p types.ParameterVector
	r := ev.Seed
	p[types.ParElevation] = r.Elevation
	p[types.ParAzimuth] = shower.NormalizeAzimuth(r.Azimuth)
	p[types.ParCoreX] = r.CoreX
	p[types.ParCoreY] = r.CoreY

	h := d.atm.HeightOfSlantDepth(d.cfg.DepthOfMaximum, r.Elevation)
	p[types.ParHeightMax] = d.cfg.Height.Clamp(h)
	p[types.ParWidthL] = d.cfg.WidthL.Clamp(d.cfg.SeedWidthL)
	p[types.ParWidthT] = d.cfg.WidthT.Clamp(seedWidthT(geom, ev.Images, shower.MaxPoint(p)))

	fc, err := likelihood.NewFitContext(geom, ev.Images)
	if err != nil {
		return p, err
	}

	p[types.ParLogPhotons] = 0
	pl := likelihood.NewPixelLikelihood(fc, d.table, likelihood.Options{MaxResidual: math.Inf(1)}, d.logger)
	pl.Configure(p)
	var predicted float64
	for i := range fc.Pixels {
		mu, _ := pl.Expected(i)
		predicted += mu
	}
	measured := fc.TotalCharge()
	if predicted > 0 && measured > 0 {
		p[types.ParLogPhotons] = math.Log(measured / predicted)
	} else {
		d.logger.Debugw("cannot seed photon count", "predicted", predicted, "measured", measured)
		p[types.ParLogPhotons] = math.NaN()
	}
	return p, nil
}

// seedWidthT converts the size-weighted image width into metres at the
// distance between each telescope and maxPoint.
func seedWidthT(geom *types.Geometry, images []types.Image, maxPoint r3.Vec) float64 {
	var sum, wsum float64
	for _, im := range images {
		if im.Width <= 0 || im.Size <= 0 {
			continue
		}
		tg, ok := geom.Telescope(im.Telescope)
		if !ok {
			continue
		}
		dist := r3.Norm(r3.Sub(tg.Position, maxPoint))
		sum += im.Size * math.Tan(im.Width*deg2rad) * dist
		wsum += im.Size
	}
	if wsum <= 0 || math.IsNaN(sum) {
		return defaultSeedWidthT
	}
	return sum / wsum
}
