package database

import (
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chrissnell/model3d/internal/types"
)

// FitResultRow is one fitted event. The whole result is kept in Detail; the
// other columns exist for querying.
type FitResultRow struct {
	FittedAt time.Time `gorm:"column:fitted_at;primaryKey"`
	RunID    string    `gorm:"column:run_id;primaryKey"`
	EventID  int64     `gorm:"column:event_id;primaryKey"`

	Status    string `gorm:"column:status"`
	Converged bool   `gorm:"column:converged"`

	Elevation  *float64 `gorm:"column:elevation"`
	Azimuth    *float64 `gorm:"column:azimuth"`
	CoreX      *float64 `gorm:"column:core_x"`
	CoreY      *float64 `gorm:"column:core_y"`
	HeightMax  *float64 `gorm:"column:height_max"`
	WidthL     *float64 `gorm:"column:width_long"`
	WidthT     *float64 `gorm:"column:width_trans"`
	LogPhotons *float64 `gorm:"column:log_photons"`

	GOF          *float64 `gorm:"column:gof"`
	SlantDepth   *float64 `gorm:"column:slant_depth"`
	ReducedWidth *float64 `gorm:"column:reduced_width"`

	Detail []byte `gorm:"column:detail"`
}

// TableName implements the gorm Tabler interface
func (FitResultRow) TableName() string {
	return "fit_results"
}

// RunRow is one run summary.
type RunRow struct {
	RunID     string    `gorm:"column:run_id;primaryKey"`
	Run       int       `gorm:"column:run"`
	Source    string    `gorm:"column:source"`
	StartedAt time.Time `gorm:"column:started_at"`
	Events    int       `gorm:"column:events"`
	Converged int       `gorm:"column:converged"`
	Summary   []byte    `gorm:"column:summary"`
}

// TableName implements the gorm Tabler interface
func (RunRow) TableName() string {
	return "runs"
}

// finite returns nil for values PostgreSQL columns should hold as NULL.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NewFitResultRow flattens r for storage.
func NewFitResultRow(r *types.FitResult, fittedAt time.Time) (*FitResultRow, error) {
	detail, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding result of event %d: %w", r.EventID, err)
	}
	p := r.Params
	return &FitResultRow{
		FittedAt:     fittedAt,
		RunID:        r.RunID,
		EventID:      int64(r.EventID),
		Status:       string(r.Status),
		Converged:    r.Converged,
		Elevation:    finite(p[types.ParElevation]),
		Azimuth:      finite(p[types.ParAzimuth]),
		CoreX:        finite(p[types.ParCoreX]),
		CoreY:        finite(p[types.ParCoreY]),
		HeightMax:    finite(p[types.ParHeightMax]),
		WidthL:       finite(p[types.ParWidthL]),
		WidthT:       finite(p[types.ParWidthT]),
		LogPhotons:   finite(p[types.ParLogPhotons]),
		GOF:          finite(r.GOF),
		SlantDepth:   finite(r.SlantDepth),
		ReducedWidth: finite(r.ReducedWidth),
		Detail:       detail,
	}, nil
}

// Result decodes the stored result.
func (row *FitResultRow) Result() (*types.FitResult, error) {
	var r types.FitResult
	if err := msgpack.Unmarshal(row.Detail, &r); err != nil {
		return nil, fmt.Errorf("decoding result of event %d: %w", row.EventID, err)
	}
	return &r, nil
}

// NewRunRow flattens s for storage.
func NewRunRow(s *types.RunSummary) (*RunRow, error) {
	blob, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding run %s: %w", s.RunID, err)
	}
	return &RunRow{
		RunID:     s.RunID,
		Run:       s.Run,
		Source:    s.Source,
		StartedAt: s.StartedAt,
		Events:    s.Events,
		Converged: s.Converged,
		Summary:   blob,
	}, nil
}

// RunSummary decodes the stored run summary.
func (row *RunRow) RunSummary() (*types.RunSummary, error) {
	var s types.RunSummary
	if err := msgpack.Unmarshal(row.Summary, &s); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", row.RunID, err)
	}
	return &s, nil
}
