// Package migrate brings a SQLite schema up to date from numbered SQL files.
package migrate

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/log"
)

// Migration is one numbered schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Source lists the migrations of a schema and names the table that records
// which of them were applied.
type Source interface {
	Migrations() ([]Migration, error)
	VersionTable() string
}

// Migrator applies pending migrations, each in its own transaction.
type Migrator struct {
	db     *sql.DB
	source Source
	logger *zap.SugaredLogger
}

// NewMigrator creates a migrator. A nil logger uses the package logger.
func NewMigrator(db *sql.DB, source Source, logger *zap.SugaredLogger) *Migrator {
	return &Migrator{db: db, source: source, logger: log.Or(logger)}
}

// MigrateUp applies every migration newer than the recorded version.
func (m *Migrator) MigrateUp() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	migrations, err := m.source.Migrations()
	if err != nil {
		return fmt.Errorf("failed to get migrations: %w", err)
	}
	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(mig); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
		}
	}
	return nil
}

// CurrentVersion returns the highest applied version, 0 for a fresh database.
func (m *Migrator) CurrentVersion() (int, error) {
	table := m.source.VersionTable()
	_, err := m.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`, table))
	if err != nil {
		return 0, fmt.Errorf("failed to create migration table: %w", err)
	}

	var version int
	if err := m.db.QueryRow(fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s`, table)).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func (m *Migrator) apply(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (version) VALUES (?)`, m.source.VersionTable()), mig.Version); err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	m.logger.Infow("applied migration", "version", mig.Version, "name", mig.Name)
	return nil
}
