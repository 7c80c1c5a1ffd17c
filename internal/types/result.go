package types

import "time"

// FitStatus summarises how a fit ended.
type FitStatus string

const (
	StatusConverged    FitStatus = "converged"
	StatusNotConverged FitStatus = "not-converged"
	StatusRejected     FitStatus = "rejected"
	StatusFailed       FitStatus = "failed"
)

// FitResult is produced once per event by the fit driver and owned by the
// caller.
type FitResult struct {
	RunID   string `msgpack:"run_id" json:"run_id"`
	EventID uint64 `msgpack:"event_id" json:"event_id"`

	Status       FitStatus `msgpack:"status" json:"status"`
	Converged    bool      `msgpack:"converged" json:"converged"`
	RejectReason string    `msgpack:"reject_reason,omitempty" json:"reject_reason,omitempty"`

	Seed       ParameterVector               `msgpack:"seed" json:"seed"`
	Params     ParameterVector               `msgpack:"params" json:"params"`
	Errors     ParameterVector               `msgpack:"errors" json:"errors"`
	Covariance [NumParams][NumParams]float64 `msgpack:"covariance" json:"covariance"`

	Cost          float64 `msgpack:"cost" json:"cost"`
	NDF           int     `msgpack:"ndf" json:"ndf"`
	GOF           float64 `msgpack:"gof" json:"gof"`
	LikelihoodGOF float64 `msgpack:"likelihood_gof" json:"likelihood_gof"`
	Iterations    int     `msgpack:"iterations" json:"iterations"`
	Images        int     `msgpack:"images" json:"images"`
	Pixels        int     `msgpack:"pixels" json:"pixels"`

	// Derived from the fitted parameters.
	SlantDepth   float64 `msgpack:"slant_depth" json:"slant_depth"`     // g/cm²
	ReducedWidth float64 `msgpack:"reduced_width" json:"reduced_width"` // m at sea-level density
}

// Fitted reports whether the minimizer ran on the event.
func (r *FitResult) Fitted() bool {
	return r.Status == StatusConverged || r.Status == StatusNotConverged
}

// RunSummary describes one pass of the fitter over an event source.
type RunSummary struct {
	RunID      string    `msgpack:"run_id" json:"run_id"`
	Run        int       `msgpack:"run" json:"run"`
	Source     string    `msgpack:"source" json:"source"`
	StartedAt  time.Time `msgpack:"started_at" json:"started_at"`
	FinishedAt time.Time `msgpack:"finished_at" json:"finished_at"`

	Events       int `msgpack:"events" json:"events"`
	Converged    int `msgpack:"converged" json:"converged"`
	NotConverged int `msgpack:"not_converged" json:"not_converged"`
	Rejected     int `msgpack:"rejected" json:"rejected"`
	Failed       int `msgpack:"failed" json:"failed"`

	// Over the events that reached the minimizer.
	MeanIterations float64 `msgpack:"mean_iterations" json:"mean_iterations"`
	MeanGOF        float64 `msgpack:"mean_gof" json:"mean_gof"`

	// Over converged events.
	MeanSlantDepth   float64 `msgpack:"mean_slant_depth" json:"mean_slant_depth"`
	StdDevSlantDepth float64 `msgpack:"stddev_slant_depth" json:"stddev_slant_depth"`
}
