package database

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/model3d/internal/types"
)

func TestFitResultRow(t *testing.T) {
	r := &types.FitResult{
		RunID:      "run",
		EventID:    12,
		Status:     types.StatusConverged,
		Converged:  true,
		Params:     types.ParameterVector{70, 1, 2, 3, 7, 3, 20, 14},
		GOF:        1.2,
		SlantDepth: math.Inf(1),
	}
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	row, err := NewFitResultRow(r, now)
	require.NoError(t, err)
	assert.Equal(t, "fit_results", row.TableName())
	assert.Equal(t, int64(12), row.EventID)
	assert.Equal(t, "converged", row.Status)
	require.NotNil(t, row.HeightMax)
	assert.Equal(t, 7.0, *row.HeightMax)
	assert.Nil(t, row.SlantDepth)

	back, err := row.Result()
	require.NoError(t, err)
	assert.Equal(t, r.Params, back.Params)
	assert.True(t, math.IsInf(back.SlantDepth, 1))
}

func TestRunRow(t *testing.T) {
	s := &types.RunSummary{RunID: "run", Run: 3, Events: 20, Converged: 17, MeanGOF: 0.98}
	row, err := NewRunRow(s)
	require.NoError(t, err)
	assert.Equal(t, "runs", row.TableName())
	assert.Equal(t, 17, row.Converged)

	back, err := row.RunSummary()
	require.NoError(t, err)
	assert.Equal(t, 20, back.Events)
	assert.InDelta(t, 0.98, back.MeanGOF, 1e-12)
}

func TestResultRejectsDamagedDetail(t *testing.T) {
	row := &FitResultRow{Detail: []byte{0xc1}}
	_, err := row.Result()
	assert.Error(t, err)
}
