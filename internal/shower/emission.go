// Package shower implements the 3D Cherenkov emission model of an air shower
// and the exponential atmosphere used to derive depth and width observables.
package shower

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/chrissnell/model3d/internal/types"
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi

	// kmToM converts the height of maximum and longitudinal width.
	kmToM = 1000.0

	// coreAngleScale is η at zenith: the half-angle of the flat part of the
	// angular emission profile, radians.
	coreAngleScale = 0.015

	minSinElevation = 1e-6
	minDenominator  = 1e-300
	maxLogAmplitude = 700.0
	minLogAmplitude = -700.0
)

var (
	ln2Pi     = math.Log(2 * math.Pi)
	lnProfile = math.Log(5 * math.Pi)
)

// Axis returns the unit vector pointing from the ground up along a shower
// coming from (elevation, azimuth), in degrees.
func Axis(elevation, azimuth float64) r3.Vec {
	e, a := elevation*deg2rad, azimuth*deg2rad
	return r3.Vec{X: math.Cos(e) * math.Cos(a), Y: math.Cos(e) * math.Sin(a), Z: math.Sin(e)}
}

// CoreHalfAngle returns η = 0.015·sqrt(cos zenith) in radians.
func CoreHalfAngle(elevation float64) float64 {
	s := math.Sin(elevation * deg2rad)
	if s <= 0 {
		return 0
	}
	return coreAngleScale * math.Sqrt(s)
}

// MaxPoint returns the point of maximum emission: on the axis through the
// core, at the height of maximum above the ground plane.
func MaxPoint(p types.ParameterVector) r3.Vec {
	s := Axis(p[types.ParElevation], p[types.ParAzimuth])
	core := r3.Vec{X: p[types.ParCoreX], Y: p[types.ParCoreY]}
	if s.Z < minSinElevation {
		return core
	}
	return r3.Add(core, r3.Scale(p[types.ParHeightMax]*kmToM/s.Z, s))
}

// Model evaluates the expected Cherenkov light in a pixel. Configure it once
// per parameter vector, then call Evaluate for every pixel.
//
// The photon density is a Gaussian centred on the maximum with width σL along
// the axis and σT across it. Its integral along a line of sight is closed
// form; the angular emission profile is flat out to η and decays as
// exp(−(ψ−η)/η) beyond, normalised to unit integral over solid angle.
type Model struct {
	degenerate bool

	logPhotons     float64
	sigmaL, sigmaT float64
	heightM        float64
	sinE, cosE     float64

	axis     r3.Vec
	maxPoint r3.Vec
	toTel    []r3.Vec // telescope position minus maxPoint

	eta, detaDe float64

	dAxisDe, dAxisDa r3.Vec // per radian
	dMaxDe, dMaxDa   r3.Vec // per radian
	dMaxDh           r3.Vec // per metre of height
}

// NewModel returns an unconfigured model.
func NewModel() *Model { return &Model{degenerate: true} }

// Configure precomputes the axis, the maximum and the maximum-to-telescope
// vectors for params.
func (m *Model) Configure(positions []r3.Vec, p types.ParameterVector) {
	m.degenerate = false
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m.degenerate = true
		}
	}

	e := p[types.ParElevation] * deg2rad
	a := p[types.ParAzimuth] * deg2rad
	m.sinE, m.cosE = math.Sin(e), math.Cos(e)
	sinA, cosA := math.Sin(a), math.Cos(a)

	m.logPhotons = p[types.ParLogPhotons]
	m.heightM = p[types.ParHeightMax] * kmToM
	m.sigmaL = p[types.ParWidthL] * kmToM
	m.sigmaT = p[types.ParWidthT]
	if m.sinE < minSinElevation || m.sigmaL <= 0 || m.sigmaT <= 0 {
		m.degenerate = true
	}

	m.axis = r3.Vec{X: m.cosE * cosA, Y: m.cosE * sinA, Z: m.sinE}
	m.dAxisDe = r3.Vec{X: -m.sinE * cosA, Y: -m.sinE * sinA, Z: m.cosE}
	m.dAxisDa = r3.Vec{X: -m.cosE * sinA, Y: m.cosE * cosA}

	m.toTel = m.toTel[:0]
	if m.degenerate {
		return
	}

	// X0 = C + L·s with L = H / sin e.
	l := m.heightM / m.sinE
	dlDe := -m.heightM * m.cosE / (m.sinE * m.sinE)
	core := r3.Vec{X: p[types.ParCoreX], Y: p[types.ParCoreY]}
	m.maxPoint = r3.Add(core, r3.Scale(l, m.axis))
	m.dMaxDe = r3.Add(r3.Scale(dlDe, m.axis), r3.Scale(l, m.dAxisDe))
	m.dMaxDa = r3.Scale(l, m.dAxisDa)
	m.dMaxDh = r3.Scale(1/m.sinE, m.axis)

	sq := math.Sqrt(m.sinE)
	m.eta = coreAngleScale * sq
	m.detaDe = coreAngleScale * m.cosE / (2 * sq)

	for _, t := range positions {
		m.toTel = append(m.toTel, r3.Sub(t, m.maxPoint))
	}
}

// Axis returns the configured shower axis.
func (m *Model) Axis() r3.Vec { return m.axis }

// MaxPoint returns the configured point of maximum.
func (m *Model) MaxPoint() r3.Vec { return m.maxPoint }

// Degenerate reports whether the configured parameters cannot produce light.
func (m *Model) Degenerate() bool { return m.degenerate }

// Evaluate returns the photon density per unit solid angle and mirror area
// seen by telescope tel along the unit line of sight u, and its gradient
// with respect to the parameter vector. A degenerate configuration, an
// unknown telescope or an amplitude outside the representable range yields
// zero with a zero gradient.
func (m *Model) Evaluate(tel int, u r3.Vec) (float64, types.ParameterVector) {
	var grad types.ParameterVector
	if m.degenerate || tel < 0 || tel >= len(m.toTel) {
		return 0, grad
	}

	s := m.axis
	d := m.toTel[tel]
	w := 1 / (m.sigmaT * m.sigmaT)
	kl := 1 / (m.sigmaL * m.sigmaL)
	k := kl - w

	us := r3.Dot(u, s)
	a := w + k*us*us
	if !(a > minDenominator) {
		return 0, grad
	}
	b := w*r3.Dot(d, u) + k*r3.Dot(d, s)*us

	// Closest approach of the line of sight to the maximum in the metric of
	// the Gaussian; the exponent E is the quadratic form evaluated there.
	rs := r3.Add(d, r3.Scale(-b/a, u))
	rss := r3.Dot(rs, s)
	rr := r3.Dot(rs, rs)
	exponent := w*rr + k*rss*rss
	if exponent < 0 {
		exponent = 0
	}

	psi := math.Acos(math.Max(-1, math.Min(1, us)))
	eta := m.eta
	lnF := -lnProfile - 2*math.Log(eta)
	dlnFdPsi := 0.0
	dlnFdEta := -2 / eta
	if psi > eta {
		lnF -= (psi - eta) / eta
		dlnFdPsi = -1 / eta
		dlnFdEta += psi / (eta * eta)
	}

	lnMu := m.logPhotons + lnF - ln2Pi - math.Log(m.sigmaL) - 2*math.Log(m.sigmaT) - 0.5*math.Log(a) - 0.5*exponent
	if lnMu < minLogAmplitude || lnMu > maxLogAmplitude || math.IsNaN(lnMu) {
		return 0, grad
	}
	mu := math.Exp(lnMu)

	dlnFdUs := 0.0
	if dlnFdPsi != 0 {
		if sin2 := 1 - us*us; sin2 > 0 {
			dlnFdUs = -dlnFdPsi / math.Sqrt(sin2)
		}
	}

	// Sensitivity of ln µ to the axis direction (holding the maximum fixed)
	// and to the maximum-to-telescope vector. By the envelope theorem the
	// exponent's derivatives are the partials of the quadratic form at the
	// closest approach.
	gS := r3.Add(
		r3.Scale(-k*us/a, u),
		r3.Add(r3.Scale(-k*rss, rs), r3.Scale(dlnFdUs, u)),
	)
	gD := r3.Add(r3.Scale(-w, rs), r3.Scale(-k*rss, s))

	// D = T − X0, so dD/dθ = −dX0/dθ.
	dLnE := r3.Dot(gS, m.dAxisDe) - r3.Dot(gD, m.dMaxDe) + dlnFdEta*m.detaDe
	dLnA := r3.Dot(gS, m.dAxisDa) - r3.Dot(gD, m.dMaxDa)
	dLnX := -gD.X
	dLnY := -gD.Y
	dLnH := -r3.Dot(gD, m.dMaxDh)

	dEdW := rr - rss*rss
	dEdKl := rss * rss
	dLnSigmaT := -2/m.sigmaT + (-0.5*(1-us*us)/a-0.5*dEdW)*(-2*w/m.sigmaT)
	dLnSigmaL := -1/m.sigmaL + (-0.5*us*us/a-0.5*dEdKl)*(-2*kl/m.sigmaL)

	grad[types.ParElevation] = mu * dLnE * deg2rad
	grad[types.ParAzimuth] = mu * dLnA * deg2rad
	grad[types.ParCoreX] = mu * dLnX
	grad[types.ParCoreY] = mu * dLnY
	grad[types.ParHeightMax] = mu * dLnH * kmToM
	grad[types.ParWidthL] = mu * dLnSigmaL * kmToM
	grad[types.ParWidthT] = mu * dLnSigmaT
	grad[types.ParLogPhotons] = mu
	return mu, grad
}

// AngleToAxis returns the angle in radians between u and the configured axis.
func (m *Model) AngleToAxis(u r3.Vec) float64 {
	return math.Acos(math.Max(-1, math.Min(1, r3.Dot(u, m.axis))))
}
