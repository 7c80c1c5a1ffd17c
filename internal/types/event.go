package types

import "gonum.org/v1/gonum/spatial/r3"

// PixelData is one measured pixel of an image.
type PixelData struct {
	Pixel    int     `msgpack:"pixel" json:"pixel"`
	Charge   float64 `msgpack:"charge" json:"charge"`
	Variance float64 `msgpack:"variance" json:"variance"`
	Selected bool    `msgpack:"selected" json:"selected"`
}

// Image is the cleaned camera image of one telescope together with its
// Hillas-style moments.
type Image struct {
	Telescope int         `msgpack:"telescope" json:"telescope"`
	Size      float64     `msgpack:"size" json:"size"`   // total selected charge, p.e.
	Width     float64     `msgpack:"width" json:"width"` // RMS width, degrees
	Pixels    []PixelData `msgpack:"pixels" json:"pixels"`
}

// SelectedPixels counts the pixels that survived cleaning.
func (im *Image) SelectedPixels() int {
	n := 0
	for _, p := range im.Pixels {
		if p.Selected {
			n++
		}
	}
	return n
}

// Reconstruction is the simpler stereo reconstruction the fit is seeded from.
type Reconstruction struct {
	Elevation float64 `msgpack:"elevation" json:"elevation"` // degrees
	Azimuth   float64 `msgpack:"azimuth" json:"azimuth"`     // degrees
	CoreX     float64 `msgpack:"core_x" json:"core_x"`       // metres
	CoreY     float64 `msgpack:"core_y" json:"core_y"`       // metres
}

// Event is one array trigger.
type Event struct {
	ID     uint64         `msgpack:"id" json:"id"`
	Run    int            `msgpack:"run" json:"run"`
	Seed   Reconstruction `msgpack:"seed" json:"seed"`
	Images []Image        `msgpack:"images" json:"images"`
}

// PixelRecord is a selected pixel resolved against the geometry. Telescope is
// an index into the fit's telescope slice, not a telescope id.
type PixelRecord struct {
	Telescope   int
	LineOfSight r3.Vec
	Charge      float64
	Variance    float64
	Selected    bool
}
