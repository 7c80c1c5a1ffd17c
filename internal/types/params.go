// Package types holds the records shared by the fitting pipeline: the shower
// parameter vector, detector geometry, event pixel data and fit results.
package types

import "fmt"

// Indices into a ParameterVector. The order is fixed and shared by every
// component.
const (
	ParElevation  = iota // shower axis elevation, degrees
	ParAzimuth           // shower axis azimuth, degrees
	ParCoreX             // ground impact point, metres
	ParCoreY             // ground impact point, metres
	ParHeightMax         // height of maximum above ground, kilometres
	ParWidthL            // longitudinal width, kilometres
	ParWidthT            // transverse width, metres
	ParLogPhotons        // ln of the total Cherenkov photon count

	NumParams
)

// ParameterNames labels the entries of a ParameterVector.
var ParameterNames = [NumParams]string{
	"elevation",
	"azimuth",
	"core_x",
	"core_y",
	"height_max",
	"width_long",
	"width_trans",
	"log_photons",
}

// ParameterVector is the eight-parameter 3D shower description.
type ParameterVector [NumParams]float64

// FromSlice copies s into a ParameterVector.
func FromSlice(s []float64) (ParameterVector, error) {
	var p ParameterVector
	if len(s) != NumParams {
		return p, fmt.Errorf("parameter vector needs %d values, got %d", NumParams, len(s))
	}
	copy(p[:], s)
	return p, nil
}

// Slice returns the parameters as a new slice.
func (p ParameterVector) Slice() []float64 {
	out := make([]float64, NumParams)
	copy(out, p[:])
	return out
}
