// Package timescaledb stores fit results in a TimescaleDB hypertable keyed on
// the time each event was fit.
package timescaledb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chrissnell/model3d/internal/database"
	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/internal/types"
)

// Storage holds the connection of a TimescaleDB storage backend
type Storage struct {
	TimescaleDBConn *gorm.DB
	logger          *zap.SugaredLogger

	// now stamps stored results.
	now func() time.Time
}

// New connects and creates the schema.
func New(ctx context.Context, connectionString string, logger *zap.SugaredLogger) (*Storage, error) {
	logger = log.Or(logger)
	db, err := database.CreateConnection(connectionString, logger)
	if err != nil {
		return nil, err
	}
	t := &Storage{TimescaleDBConn: db, logger: logger, now: time.Now}

	steps := []struct {
		what string
		sql  string
	}{
		{"fit_results table", createTableSQL},
		{"runs table", createRunsTableSQL},
		{"TimescaleDB extension", createExtensionSQL},
		{"hypertable", createHypertableSQL},
		{"run index", createRunIndexSQL},
	}
	for _, s := range steps {
		logger.Infof("creating %s...", s.what)
		if err := db.WithContext(ctx).Exec(s.sql).Error; err != nil {
			logger.Warnf("could not create %s", s.what)
			return nil, fmt.Errorf("creating %s: %w", s.what, err)
		}
	}

	logger.Info("TimescaleDB result storage ready")
	return t, nil
}

// StoreResult implements storage.ResultSink.
func (t *Storage) StoreResult(ctx context.Context, r *types.FitResult) error {
	row, err := database.NewFitResultRow(r, t.now())
	if err != nil {
		return err
	}
	if err := t.TimescaleDBConn.WithContext(ctx).Create(row).Error; err != nil {
		t.logger.Errorw("could not store result", "event", r.EventID, "error", err)
		return err
	}
	return nil
}

// StoreRun implements storage.ResultSink. A run stored again is replaced.
func (t *Storage) StoreRun(ctx context.Context, s *types.RunSummary) error {
	row, err := database.NewRunRow(s)
	if err != nil {
		return err
	}
	if err := t.TimescaleDBConn.WithContext(ctx).Save(row).Error; err != nil {
		t.logger.Errorw("could not store run", "run", s.RunID, "error", err)
		return err
	}
	return nil
}

// Runs implements storage.ResultReader, newest first.
func (t *Storage) Runs(ctx context.Context) ([]types.RunSummary, error) {
	var rows []database.RunRow
	if err := t.TimescaleDBConn.WithContext(ctx).Order("started_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	out := make([]types.RunSummary, 0, len(rows))
	for i := range rows {
		s, err := rows[i].RunSummary()
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// Run implements storage.ResultReader.
func (t *Storage) Run(ctx context.Context, runID string) (*types.RunSummary, error) {
	var row database.RunRow
	err := t.TimescaleDBConn.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return row.RunSummary()
}

// latest restricts a query to the most recent fit of each event.
func (t *Storage) latest(ctx context.Context, runID string) *gorm.DB {
	return t.TimescaleDBConn.WithContext(ctx).
		Table("fit_results").
		Select("DISTINCT ON (event_id) *").
		Where("run_id = ?", runID).
		Order("event_id, fitted_at DESC")
}

// resultsQuery filters the latest fits, so a refit event is matched on the
// status of its newest fit only.
func (t *Storage) resultsQuery(ctx context.Context, runID string, q storage.Query) *gorm.DB {
	tx := t.TimescaleDBConn.WithContext(ctx).Table("(?) AS latest", t.latest(ctx, runID))
	if q.Status != "" {
		tx = tx.Where("status = ?", string(q.Status))
	}
	tx = tx.Order("event_id")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	return tx
}

// Results implements storage.ResultReader. Refits of an event report the
// most recent one.
func (t *Storage) Results(ctx context.Context, runID string, q storage.Query) ([]types.FitResult, error) {
	tx := t.resultsQuery(ctx, runID, q)

	var rows []database.FitResultRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying results of run %s: %w", runID, err)
	}
	out := make([]types.FitResult, 0, len(rows))
	for i := range rows {
		r, err := rows[i].Result()
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Result implements storage.ResultReader.
func (t *Storage) Result(ctx context.Context, runID string, eventID uint64) (*types.FitResult, error) {
	var row database.FitResultRow
	err := t.TimescaleDBConn.WithContext(ctx).
		Where("run_id = ? AND event_id = ?", runID, int64(eventID)).
		Order("fitted_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s event %d: %w", runID, eventID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s event %d: %w", runID, eventID, err)
	}
	return row.Result()
}

// Ping implements storage.Pinger.
func (t *Storage) Ping(ctx context.Context) error {
	sqlDB, err := t.TimescaleDBConn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements storage.ResultSink.
func (t *Storage) Close() error {
	sqlDB, err := t.TimescaleDBConn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
