package events

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/chrissnell/model3d/internal/geometry"
	"github.com/chrissnell/model3d/internal/shower"
	"github.com/chrissnell/model3d/internal/types"
)

// Noise is the pixel response the simulator draws charges from.
type Noise struct {
	PixelVariance float64 `yaml:"pixel_variance"`
	NSB           float64 `yaml:"nsb"`
	SPEWidth      float64 `yaml:"spe_width"`
}

// PedestalVariance includes the NSB fluctuations.
func (n Noise) PedestalVariance() float64 {
	return n.PixelVariance + n.NSB*(1+n.SPEWidth*n.SPEWidth)
}

// Simulator draws synthetic events from the emission model: Poisson
// photoelectron counts smeared by the single photoelectron and pedestal
// response.
type Simulator struct {
	Geometry *types.Geometry
	Noise    Noise

	// SelectAll marks every pixel selected. Otherwise pixels at or above
	// Threshold p.e. are.
	SelectAll bool
	Threshold float64

	// Gaussian smearing applied to the true direction (degrees) and core
	// (metres) to produce the reconstruction seed.
	DirectionSmear float64
	CoreSmear      float64

	src   rand.Source
	model *shower.Model
}

// NewSimulator returns a simulator with a deterministic random stream.
func NewSimulator(g *types.Geometry, noise Noise, seed uint64) *Simulator {
	return &Simulator{
		Geometry:  g,
		Noise:     noise,
		SelectAll: true,
		src:       rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		model:     shower.NewModel(),
	}
}

// Expected returns the noiseless amplitude of every pixel of every
// telescope, in photoelectrons.
func (s *Simulator) Expected(p types.ParameterVector) [][]float64 {
	s.model.Configure(s.Geometry.Positions(), p)
	out := make([][]float64, len(s.Geometry.Telescopes))
	for ti, tg := range s.Geometry.Telescopes {
		scale := tg.MirrorArea * tg.PixelSolidAngle
		out[ti] = make([]float64, len(tg.Pixels))
		for pi, los := range tg.Pixels {
			mu, _ := s.model.Evaluate(ti, los)
			out[ti][pi] = mu * scale * geometry.Obliquity(los, tg.OpticalAxis)
		}
	}
	return out
}

// Simulate draws one event from parameters p. Telescopes without a selected
// pixel are left out of the event.
func (s *Simulator) Simulate(id uint64, run int, p types.ParameterVector) *types.Event {
	ev := &types.Event{ID: id, Run: run, Seed: s.seed(p)}
	pedestal := s.Noise.PedestalVariance()
	sg2 := s.Noise.SPEWidth * s.Noise.SPEWidth

	for ti, expected := range s.Expected(p) {
		tg := &s.Geometry.Telescopes[ti]
		im := types.Image{Telescope: tg.ID}
		hasSelected := false
		for pi, mu := range expected {
			n := 0.0
			if mu > 0 {
				n = distuv.Poisson{Lambda: mu, Src: s.src}.Rand()
			}
			charge := distuv.Normal{Mu: n, Sigma: math.Sqrt(pedestal + n*sg2), Src: s.src}.Rand()
			sel := s.SelectAll || charge >= s.Threshold
			hasSelected = hasSelected || sel
			im.Pixels = append(im.Pixels, types.PixelData{
				Pixel:    pi,
				Charge:   charge,
				Variance: pedestal,
				Selected: sel,
			})
		}
		if !hasSelected {
			continue
		}
		im.Size, im.Width = Moments(tg, im.Pixels)
		ev.Images = append(ev.Images, im)
	}
	return ev
}

func (s *Simulator) seed(p types.ParameterVector) types.Reconstruction {
	smear := func(v, sigma float64) float64 {
		if sigma <= 0 {
			return v
		}
		return v + distuv.Normal{Mu: 0, Sigma: sigma, Src: s.src}.Rand()
	}
	return types.Reconstruction{
		Elevation: smear(p[types.ParElevation], s.DirectionSmear),
		Azimuth:   smear(p[types.ParAzimuth], s.DirectionSmear),
		CoreX:     smear(p[types.ParCoreX], s.CoreSmear),
		CoreY:     smear(p[types.ParCoreY], s.CoreSmear),
	}
}

// Moments returns the size (summed selected charge, p.e.) and the Hillas
// width (RMS along the minor axis, degrees) of an image. Negative charges
// carry no weight in the width.
func Moments(tg *types.TelescopeGeometry, pixels []types.PixelData) (size, width float64) {
	e1, e2 := geometry.Basis(tg.OpticalAxis)
	var xs, ys, ws []float64
	for _, px := range pixels {
		if !px.Selected || px.Pixel < 0 || px.Pixel >= len(tg.Pixels) {
			continue
		}
		size += px.Charge
		u := tg.Pixels[px.Pixel]
		c := r3.Dot(u, tg.OpticalAxis)
		if c <= 0 {
			continue
		}
		xs = append(xs, math.Atan(r3.Dot(u, e1)/c)*180/math.Pi)
		ys = append(ys, math.Atan(r3.Dot(u, e2)/c)*180/math.Pi)
		ws = append(ws, math.Max(px.Charge, 0))
	}

	var wsum float64
	for _, w := range ws {
		wsum += w
	}
	if len(ws) < 2 || wsum <= 0 {
		return size, 0
	}

	// stat.Variance and stat.Covariance use the unbiased weighted estimate;
	// rescale to the population moment the Hillas width is defined by.
	f := (wsum - 1) / wsum
	if f <= 0 {
		return size, 0
	}
	sxx := stat.Variance(xs, ws) * f
	syy := stat.Variance(ys, ws) * f
	sxy := stat.Covariance(xs, ys, ws) * f
	half := (sxx + syy) / 2
	minor := half - math.Sqrt((sxx-syy)*(sxx-syy)/4+sxy*sxy)
	return size, math.Sqrt(math.Max(minor, 0))
}
