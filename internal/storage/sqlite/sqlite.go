// Package sqlite stores fit results in a SQLite database. Each result is kept
// whole as a MessagePack document next to indexed summary columns.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/internal/types"
	"github.com/chrissnell/model3d/pkg/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Storage is a SQLite ResultSink and ResultReader.
type Storage struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// New opens the database at path, creating it if needed, and migrates it.
func New(path string, logger *zap.SugaredLogger) (*Storage, error) {
	logger = log.Or(logger)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	provider := migrate.NewFSProvider(migrations, "migrations", "schema_migrations")
	if err := migrate.NewMigrator(db, provider, logger).MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate SQLite results database: %w", err)
	}

	logger.Infow("SQLite result storage ready", "path", path)
	return &Storage{db: db, path: path, logger: logger}, nil
}

// StoreResult implements storage.ResultSink. A result for the same run and
// event replaces the earlier one.
func (s *Storage) StoreResult(ctx context.Context, r *types.FitResult) error {
	detail, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result of event %d: %w", r.EventID, err)
	}

	p := r.Params
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fit_results (
			run_id, event_id, status, converged,
			elevation, azimuth, core_x, core_y, height_max, width_long, width_trans, log_photons,
			gof, likelihood_gof, slant_depth, reduced_width, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, int64(r.EventID), string(r.Status), r.Converged,
		nullFloat(p[types.ParElevation]), nullFloat(p[types.ParAzimuth]), nullFloat(p[types.ParCoreX]), nullFloat(p[types.ParCoreY]),
		nullFloat(p[types.ParHeightMax]), nullFloat(p[types.ParWidthL]), nullFloat(p[types.ParWidthT]), nullFloat(p[types.ParLogPhotons]),
		nullFloat(r.GOF), nullFloat(r.LikelihoodGOF), nullFloat(r.SlantDepth), nullFloat(r.ReducedWidth), detail,
	)
	if err != nil {
		return fmt.Errorf("storing result of event %d: %w", r.EventID, err)
	}
	return nil
}

// nullFloat maps values SQLite cannot hold in a REAL column to NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// StoreRun implements storage.ResultSink.
func (s *Storage) StoreRun(ctx context.Context, sum *types.RunSummary) error {
	blob, err := msgpack.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encoding run summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, run, source, started_at, events, converged, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Run, sum.Source, sum.StartedAt.UnixNano(), sum.Events, sum.Converged, blob,
	)
	if err != nil {
		return fmt.Errorf("storing run %s: %w", sum.RunID, err)
	}
	return nil
}

// Runs implements storage.ResultReader, newest first.
func (s *Storage) Runs(ctx context.Context) ([]types.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT summary FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	out := []types.RunSummary{}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		var sum types.RunSummary
		if err := msgpack.Unmarshal(blob, &sum); err != nil {
			return nil, fmt.Errorf("decoding run: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Run implements storage.ResultReader.
func (s *Storage) Run(ctx context.Context, runID string) (*types.RunSummary, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM runs WHERE run_id = ?`, runID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	var sum types.RunSummary
	if err := msgpack.Unmarshal(blob, &sum); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &sum, nil
}

// Results implements storage.ResultReader.
func (s *Storage) Results(ctx context.Context, runID string, q storage.Query) ([]types.FitResult, error) {
	query := `SELECT detail FROM fit_results WHERE run_id = ?`
	args := []any{runID}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY event_id LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying results of run %s: %w", runID, err)
	}
	defer rows.Close()

	out := []types.FitResult{}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		var r types.FitResult
		if err := msgpack.Unmarshal(blob, &r); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Result implements storage.ResultReader.
func (s *Storage) Result(ctx context.Context, runID string, eventID uint64) (*types.FitResult, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT detail FROM fit_results WHERE run_id = ? AND event_id = ?`, runID, int64(eventID)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s event %d: %w", runID, eventID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s event %d: %w", runID, eventID, err)
	}
	var r types.FitResult
	if err := msgpack.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("decoding run %s event %d: %w", runID, eventID, err)
	}
	return &r, nil
}

// Ping implements storage.Pinger.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements storage.ResultSink.
func (s *Storage) Close() error {
	return s.db.Close()
}
