package managers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/internal/storage/file"
	"github.com/chrissnell/model3d/internal/storage/sqlite"
	"github.com/chrissnell/model3d/internal/storage/timescaledb"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/config"
)

// StorageManager holds our active storage backends and fans every result
// out to all of them. It is itself a storage.ResultSink.
type StorageManager struct {
	Engines []StorageEngine
	logger  *zap.SugaredLogger
}

// StorageEngine is a named backend.
type StorageEngine struct {
	Name   string
	Engine storage.ResultSink
}

// NewStorageManager creates a StorageManager populated with every configured
// backend. On error the backends opened so far are closed.
func NewStorageManager(ctx context.Context, c config.StorageData, logger *zap.SugaredLogger) (*StorageManager, error) {
	s := &StorageManager{logger: log.Or(logger)}

	if c.SQLite != nil && c.SQLite.Path != "" {
		if err := s.AddEngine(ctx, "sqlite", c); err != nil {
			s.Close()
			return nil, fmt.Errorf("could not add SQLite storage backend: %w", err)
		}
	}
	if c.TimescaleDB != nil && c.TimescaleDB.ConnectionString != "" {
		if err := s.AddEngine(ctx, "timescaledb", c); err != nil {
			s.Close()
			return nil, fmt.Errorf("could not add TimescaleDB storage backend: %w", err)
		}
	}
	if c.File != nil && c.File.Path != "" {
		if err := s.AddEngine(ctx, "file", c); err != nil {
			s.Close()
			return nil, fmt.Errorf("could not add file storage backend: %w", err)
		}
	}
	return s, nil
}

// AddEngine opens the backend engineName from c.
func (s *StorageManager) AddEngine(ctx context.Context, engineName string, c config.StorageData) error {
	var (
		engine storage.ResultSink
		err    error
	)
	switch engineName {
	case "sqlite":
		engine, err = sqlite.New(c.SQLite.Path, s.logger)
	case "timescaledb":
		engine, err = timescaledb.New(ctx, c.TimescaleDB.ConnectionString, s.logger)
	case "file":
		engine, err = file.New(c.File.Path, s.logger)
	default:
		return fmt.Errorf("unknown storage backend %q", engineName)
	}
	if err != nil {
		return err
	}
	s.Add(engineName, engine)
	return nil
}

// Add registers an already opened backend.
func (s *StorageManager) Add(name string, engine storage.ResultSink) {
	s.Engines = append(s.Engines, StorageEngine{Name: name, Engine: engine})
}

// Reader returns the first backend that can also be queried.
func (s *StorageManager) Reader() (storage.ResultReader, bool) {
	for _, e := range s.Engines {
		if r, ok := e.Engine.(storage.ResultReader); ok {
			return r, true
		}
	}
	return nil, false
}

// StoreResult sends r to every backend. A failing backend does not stop the
// others; their errors are joined.
func (s *StorageManager) StoreResult(ctx context.Context, r *types.FitResult) error {
	var errs []error
	for _, e := range s.Engines {
		if err := e.Engine.StoreResult(ctx, r); err != nil {
			s.logger.Errorw("storage backend failed to store result", "backend", e.Name, "event", r.EventID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StoreRun sends sum to every backend.
func (s *StorageManager) StoreRun(ctx context.Context, sum *types.RunSummary) error {
	var errs []error
	for _, e := range s.Engines {
		if err := e.Engine.StoreRun(ctx, sum); err != nil {
			s.logger.Errorw("storage backend failed to store run", "backend", e.Name, "run", sum.RunID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every backend.
func (s *StorageManager) Close() error {
	var errs []error
	for _, e := range s.Engines {
		if err := e.Engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}
	s.Engines = nil
	return errors.Join(errs...)
}
