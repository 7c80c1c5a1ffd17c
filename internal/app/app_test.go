package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/model3d/internal/events"
	"github.com/chrissnell/model3d/internal/likelihood"
	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/internal/storage/sqlite"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

const appYAML = `
array:
  telescopes:
    - {id: 1, x: -80, y: -80, mirror_area: 100, pointing_elevation: 70, camera: {columns: 25, rows: 25, pixel_spacing: 0.1}}
    - {id: 2, x: 80, y: -80, mirror_area: 100, pointing_elevation: 70, camera: {columns: 25, rows: 25, pixel_spacing: 0.1}}
    - {id: 3, x: 80, y: 80, mirror_area: 100, pointing_elevation: 70, camera: {columns: 25, rows: 25, pixel_spacing: 0.1}}
fit:
  depth_of_maximum: 400
likelihood:
  pixel_variance: 0.3
  nsb: 0.2
  spe_width: 0.4
  table_dir: %s
storage:
  sqlite:
    path: %s
`

func TestAppRun(t *testing.T) {
	dir := t.TempDir()
	tables := filepath.Join(dir, "tables")
	dbPath := filepath.Join(dir, "results.db")

	// A saved table with the configured key is loaded instead of built.
	_, err := likelihood.SaveTable(tables, testTable(t))
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(appYAML, tables, dbPath)), 0o644))

	g := testGeometry(t)
	evs := testEvents(t, g)
	eventPath := filepath.Join(dir, "events.msgpack")
	w, err := events.Create(eventPath, 5)
	require.NoError(t, err)
	require.NoError(t, w.Write(evs[0]))
	require.NoError(t, w.Write(evs[2]))
	require.NoError(t, w.Close())

	a := New(config.NewYAMLProvider(cfgPath), nil)
	sum, err := a.Run(context.Background(), eventPath)
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Run)
	assert.Equal(t, eventPath, sum.Source)
	assert.Equal(t, 2, sum.Events)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.Converged+sum.NotConverged)
	assert.NotEmpty(t, sum.RunID)

	s, err := sqlite.New(dbPath, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	run, err := s.Run(ctx, sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Events)

	results, err := s.Results(ctx, sum.RunID, storage.Query{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Fitted())
	assert.InDelta(t, truth()[types.ParElevation], results[0].Params[types.ParElevation], 0.5)
	assert.Equal(t, types.StatusRejected, results[1].Status)
}

func TestAppRunMissingEventFile(t *testing.T) {
	dir := t.TempDir()
	tables := filepath.Join(dir, "tables")
	_, err := likelihood.SaveTable(tables, testTable(t))
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(appYAML, tables, filepath.Join(dir, "results.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	_, err = New(config.NewYAMLProvider(cfgPath), nil).Run(context.Background(), filepath.Join(dir, "nope"))
	assert.Error(t, err)
}

func TestTableSpec(t *testing.T) {
	spec := TableSpec(config.LikelihoodData{PixelVariance: 0.3, NSB: 0.2, SPEWidth: 0.5})
	assert.Equal(t, likelihood.TableKey{PixelVariance: 0.3, NSB: 0.2}, spec.Key())
	assert.Equal(t, 0.5, spec.SPEWidth)

	spec = TableSpec(config.LikelihoodData{PixelVariance: 0.3, NSB: 0.2})
	assert.Equal(t, likelihood.DefaultSPEWidth, spec.SPEWidth)
}

func TestNewDriverRejectsUnknownMethod(t *testing.T) {
	cfg := &config.ConfigData{Array: testArray()}
	cfg.ApplyDefaults()
	cfg.Fit.Method = "simplex"
	_, err := NewDriver(cfg, testGeometry(t), testTable(t), nil)
	assert.Error(t, err)
}
