// Package app wires configuration, geometry, the likelihood table, the
// minimizer and the result sinks into a fitting run over an event file.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/events"
	"github.com/chrissnell/model3d/internal/fit"
	"github.com/chrissnell/model3d/internal/geometry"
	"github.com/chrissnell/model3d/internal/likelihood"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/managers"
	"github.com/chrissnell/model3d/internal/minimizer"
	"github.com/chrissnell/model3d/internal/shower"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         log.Or(logger),
	}
}

// Run fits every event in eventFile and returns the run summary. SIGINT and
// SIGTERM stop the run after the current event.
func (a *App) Run(ctx context.Context, eventFile string) (*types.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			a.logger.Info("shutdown signal received, stopping after the current event...")
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	geom, err := geometry.NewProvider(a.configProvider).Geometry()
	if err != nil {
		return nil, err
	}

	table, err := likelihood.LoadOrBuild(ctx, cfg.Likelihood.TableDir, TableSpec(cfg.Likelihood), a.logger)
	if err != nil {
		return nil, fmt.Errorf("preparing likelihood table: %w", err)
	}

	driver, err := NewDriver(cfg, geom, table, a.logger)
	if err != nil {
		return nil, err
	}

	sm, err := managers.NewStorageManager(ctx, cfg.Storage, a.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sm.Close(); err != nil {
			a.logger.Errorw("error closing storage", "error", err)
		}
	}()
	if len(sm.Engines) == 0 {
		a.logger.Warn("no storage backends configured; results are only summarised")
	}

	reader, err := events.Open(eventFile)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	info := RunInfo{RunID: uuid.NewString(), Run: reader.Run(), Source: eventFile}
	a.logger.Infow("starting run", "run_id", info.RunID, "run", info.Run, "source", eventFile,
		"telescopes", len(geom.Telescopes), "method", cfg.Fit.Method)

	return NewPipeline(driver, geom, sm, a.logger).Process(ctx, reader, info)
}

// TableSpec returns the production table grids for the configured noise.
func TableSpec(l config.LikelihoodData) likelihood.TableSpec {
	spec := likelihood.DefaultTableSpec(l.PixelVariance, l.NSB)
	if l.SPEWidth > 0 {
		spec.SPEWidth = l.SPEWidth
	}
	return spec
}

// Atmosphere returns the configured atmosphere with the ground plane at the
// array altitude.
func Atmosphere(cfg *config.ConfigData, geom *types.Geometry) shower.Atmosphere {
	return shower.Atmosphere{
		SeaLevelDensity:     cfg.Atmosphere.SeaLevelDensity,
		ScaleHeight:         cfg.Atmosphere.ScaleHeight,
		ObservatoryAltitude: geom.ObservatoryAltitude,
	}
}

// NewDriver builds the minimizer and fit driver described by cfg.
func NewDriver(cfg *config.ConfigData, geom *types.Geometry, table *likelihood.Table, logger *zap.SugaredLogger) (*fit.Driver, error) {
	m, err := minimizer.New(minimizer.Settings{
		Method:        cfg.Fit.Method,
		MaxIterations: cfg.Fit.MaxIterations,
		Tolerance:     cfg.Fit.Tolerance,
	}, logger)
	if err != nil {
		return nil, err
	}
	fc, err := fit.ConfigFromData(cfg.Fit, cfg.Likelihood)
	if err != nil {
		return nil, err
	}
	return fit.NewDriver(fc, m, table, Atmosphere(cfg, geom), logger)
}
