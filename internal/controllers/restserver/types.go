package restserver

import "time"

// Non-finite values are sent as null: JSON cannot carry NaN or infinities.

// RunResponse is a run summary for JSON or MessagePack output
type RunResponse struct {
	RunID      string    `json:"run_id"`
	Run        int       `json:"run"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Events       int `json:"events"`
	Converged    int `json:"converged"`
	NotConverged int `json:"not_converged"`
	Rejected     int `json:"rejected"`
	Failed       int `json:"failed"`

	MeanIterations   *float64 `json:"mean_iterations"`
	MeanGOF          *float64 `json:"mean_gof"`
	MeanSlantDepth   *float64 `json:"mean_slant_depth"`
	StdDevSlantDepth *float64 `json:"stddev_slant_depth"`
}

// ParamsResponse maps parameter names to values.
type ParamsResponse map[string]*float64

// FitResponse is one event's fit
type FitResponse struct {
	RunID        string `json:"run_id"`
	EventID      uint64 `json:"event_id"`
	Status       string `json:"status"`
	Converged    bool   `json:"converged"`
	RejectReason string `json:"reject_reason,omitempty"`

	Seed   ParamsResponse `json:"seed"`
	Params ParamsResponse `json:"params,omitempty"`
	Errors ParamsResponse `json:"errors,omitempty"`

	// Only on the single event endpoint.
	Covariance [][]*float64 `json:"covariance,omitempty"`

	Cost          *float64 `json:"cost"`
	NDF           int      `json:"ndf"`
	GOF           *float64 `json:"gof"`
	LikelihoodGOF *float64 `json:"likelihood_gof"`
	Iterations    int      `json:"iterations"`
	Images        int      `json:"images"`
	Pixels        int      `json:"pixels"`

	SlantDepth   *float64 `json:"slant_depth"`
	ReducedWidth *float64 `json:"reduced_width"`
}

// EventsResponse is a page of a run's results
type EventsResponse struct {
	RunID  string         `json:"run_id"`
	Count  int            `json:"count"`
	Offset int            `json:"offset"`
	Events []*FitResponse `json:"events"`
}

// HealthResponse is returned by /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
