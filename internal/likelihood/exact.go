// Package likelihood scores shower-model predictions against measured pixel
// charges. It provides the exact single-pixel likelihood, interpolation
// tables that accelerate it, and PixelLikelihood, the objective the shower
// fit minimizes.
package likelihood

import "math"

const (
	// DefaultSPEWidth is the relative width of the single photoelectron
	// response.
	DefaultSPEWidth = 0.4

	// DefaultGaussianAbove is the expected amplitude above which the
	// Gaussian limit replaces the Poisson sum.
	DefaultGaussianAbove = 316.0

	minVariance = 1e-6
	zeroMu      = 1e-100

	// Terms of the Poisson sum further than this many widths from the
	// signal and the expectation are dropped.
	sumWidths = 10.0
)

var ln2Pi = math.Log(2 * math.Pi)

// Value is a log-likelihood with its first and second derivatives with
// respect to the expected amplitude.
type Value struct {
	LL   float64 `msgpack:"ll"`
	DLL  float64 `msgpack:"dll"`
	D2LL float64 `msgpack:"d2ll"`
}

// Finite reports whether all three numbers are finite.
func (v Value) Finite() bool {
	for _, x := range []float64{v.LL, v.DLL, v.D2LL} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// PixelModel is the response of one pixel: a Poisson number of
// photoelectrons, each smeared by the single photoelectron resolution, on
// top of a Gaussian pedestal.
type PixelModel struct {
	PedestalVariance float64 `msgpack:"pedestal_variance"`
	SPEWidth         float64 `msgpack:"spe_width"`
	GaussianAbove    float64 `msgpack:"gaussian_above"`
}

// NewPixelModel folds the night-sky background level (p.e. per integration
// window) into the pedestal: its Poisson fluctuations add nsb·(1+σγ²).
func NewPixelModel(pixelVariance, nsb, speWidth float64) PixelModel {
	return PixelModel{
		PedestalVariance: pixelVariance + nsb*(1+speWidth*speWidth),
		SPEWidth:         speWidth,
		GaussianAbove:    DefaultGaussianAbove,
	}
}

// Kappa is the excess noise factor 1+σγ².
func (pm PixelModel) Kappa() float64 { return 1 + pm.SPEWidth*pm.SPEWidth }

// Exact returns ln P(s|µ) for P = Σₙ Poisson(n|µ)·N(s | n, σp²+n·σγ²) and its
// µ-derivatives. Above GaussianAbove the Gaussian limit is returned.
func (pm PixelModel) Exact(s, mu float64) Value {
	if pm.GaussianAbove > 0 && mu > pm.GaussianAbove {
		return Gaussian(s, mu, pm.PedestalVariance, pm.Kappa())
	}
	if mu < zeroMu {
		return pm.atZero(s)
	}

	sg2 := pm.SPEWidth * pm.SPEWidth
	hi, lo := math.Max(mu, s), math.Min(mu, s)
	spread := sumWidths * (math.Sqrt(math.Max(hi, 1)) + math.Sqrt(pm.PedestalVariance) + 1)
	nlo := int(math.Max(0, math.Floor(lo-spread)))
	nhi := int(math.Max(float64(nlo), math.Ceil(hi+spread)))
	lnMu := math.Log(mu)

	// Streaming log-sum-exp: sums are kept relative to the largest term.
	m := math.Inf(-1)
	var p0, p1, p2 float64
	for n := nlo; n <= nhi; n++ {
		fn := float64(n)
		l := fn*lnMu - mu - lgamma(fn+1) + pm.logNormal(s, fn, sg2)
		if l > m {
			scale := math.Exp(m - l)
			p0, p1, p2 = p0*scale, p1*scale, p2*scale
			m = l
		}
		e := math.Exp(l - m)
		f := fn/mu - 1
		p0 += e
		p1 += e * f
		p2 += e * (f*f - fn/(mu*mu))
	}

	d1 := p1 / p0
	return Value{
		LL:   m + math.Log(p0),
		DLL:  d1,
		D2LL: p2/p0 - d1*d1,
	}
}

// atZero is the µ → 0 limit: only the 0, 1 and 2 photoelectron terms carry
// derivatives there.
func (pm PixelModel) atZero(s float64) Value {
	sg2 := pm.SPEWidth * pm.SPEWidth
	g0 := pm.logNormal(s, 0, sg2)
	g1 := pm.logNormal(s, 1, sg2)
	g2 := pm.logNormal(s, 2, sg2) - math.Ln2
	m := math.Max(g0, math.Max(g1, g2))
	e0, e1, e2 := math.Exp(g0-m), math.Exp(g1-m), math.Exp(g2-m)

	d1 := (e1 - e0) / e0
	return Value{
		LL:   g0,
		DLL:  d1,
		D2LL: (e0-2*e1+2*e2)/e0 - d1*d1,
	}
}

func (pm PixelModel) logNormal(s, n, sg2 float64) float64 {
	v := math.Max(pm.PedestalVariance+n*sg2, minVariance)
	r := s - n
	return -0.5*(ln2Pi+math.Log(v)) - r*r/(2*v)
}

// Gaussian is the closed-form likelihood of s for a Gaussian of mean µ and
// variance variance+κ·µ, with its µ-derivatives.
func Gaussian(s, mu, variance, kappa float64) Value {
	v := math.Max(variance+mu*kappa, minVariance)
	r := s - mu
	v2 := v * v
	return Value{
		LL:   -0.5*(ln2Pi+math.Log(v)) - r*r/(2*v),
		DLL:  -kappa/(2*v) + r/v + kappa*r*r/(2*v2),
		D2LL: kappa*kappa/(2*v2) - 1/v - 2*kappa*r/v2 - kappa*kappa*r*r/(v2*v),
	}
}

// GaussianExpectation is E[ln P] under the Gaussian limit: −½·ln(2πv) − ½.
func GaussianExpectation(mu, variance, kappa float64) float64 {
	v := math.Max(variance+mu*kappa, minVariance)
	return -0.5*(ln2Pi+math.Log(v)) - 0.5
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
