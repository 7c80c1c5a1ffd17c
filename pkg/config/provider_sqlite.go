package config

import (
	"database/sql"
	"embed"
	"fmt"

	"gopkg.in/yaml.v2"
	_ "modernc.org/sqlite"

	"github.com/chrissnell/model3d/pkg/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultConfigName = "default"

// SQLiteProvider implements ConfigProvider for SQLite database configuration.
// The telescope array is stored relationally so it can double as the
// detector geometry database; the remaining sections are YAML documents.
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider opens dbPath and brings its schema up to date
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	provider := migrate.NewFSProvider(migrations, "migrations", "config_schema_migrations")
	if err := migrate.NewMigrator(db, provider, nil).MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate SQLite config database: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	array, err := s.GetArray()
	if err != nil {
		return nil, fmt.Errorf("failed to load array: %w", err)
	}
	config.Array = *array

	sections := map[string]any{
		"fit":        &config.Fit,
		"likelihood": &config.Likelihood,
		"atmosphere": &config.Atmosphere,
	}
	for name, dst := range sections {
		if _, err := s.loadSection(name, dst); err != nil {
			return nil, err
		}
	}

	var server ServerData
	found, err := s.loadSection("server", &server)
	if err != nil {
		return nil, err
	}
	if found {
		config.Server = &server
	}

	storage, err := s.GetStorageConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}
	config.Storage = *storage

	return load(config)
}

func (s *SQLiteProvider) loadSection(name string, dst any) (bool, error) {
	var body string
	err := s.db.QueryRow(`
		SELECT body FROM config_sections
		WHERE config_id = (SELECT id FROM configs WHERE name = ?) AND section = ?
	`, defaultConfigName, name).Scan(&body)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query %s section: %w", name, err)
	}
	if err := yaml.UnmarshalStrict([]byte(body), dst); err != nil {
		return false, fmt.Errorf("failed to decode %s section: %w", name, err)
	}
	return true, nil
}

// GetArray returns the telescope array from the database
func (s *SQLiteProvider) GetArray() (*ArrayData, error) {
	array := &ArrayData{}
	err := s.db.QueryRow(`SELECT observatory_altitude FROM configs WHERE name = ?`, defaultConfigName).
		Scan(&array.ObservatoryAltitude)
	if err == sql.ErrNoRows {
		return array, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query array: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT telescope_id, name, x, y, z, mirror_area,
		       pointing_elevation, pointing_azimuth,
		       camera_columns, camera_rows, pixel_spacing
		FROM telescopes
		WHERE config_id = (SELECT id FROM configs WHERE name = ?)
		ORDER BY telescope_id
	`, defaultConfigName)
	if err != nil {
		return nil, fmt.Errorf("failed to query telescopes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t TelescopeData
		var name sql.NullString
		err := rows.Scan(
			&t.ID, &name, &t.X, &t.Y, &t.Z, &t.MirrorArea,
			&t.PointingElevation, &t.PointingAzimuth,
			&t.Camera.Columns, &t.Camera.Rows, &t.Camera.PixelSpacing,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telescope row: %w", err)
		}
		if name.Valid {
			t.Name = name.String
		}
		array.Telescopes = append(array.Telescopes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read telescopes: %w", err)
	}
	return array, nil
}

// GetStorageConfig returns the enabled result sinks from the database
func (s *SQLiteProvider) GetStorageConfig() (*StorageData, error) {
	rows, err := s.db.Query(`
		SELECT backend_type, path, connection_string
		FROM storage_configs
		WHERE config_id = (SELECT id FROM configs WHERE name = ?) AND enabled = 1
	`, defaultConfigName)
	if err != nil {
		return nil, fmt.Errorf("failed to query storage configs: %w", err)
	}
	defer rows.Close()

	storage := &StorageData{}
	for rows.Next() {
		var backendType string
		var path, connectionString sql.NullString
		if err := rows.Scan(&backendType, &path, &connectionString); err != nil {
			return nil, fmt.Errorf("failed to scan storage config row: %w", err)
		}

		switch backendType {
		case "sqlite":
			storage.SQLite = &SQLiteData{Path: path.String}
		case "timescaledb":
			storage.TimescaleDB = &TimescaleDBData{ConnectionString: connectionString.String}
		case "file":
			storage.File = &FileData{Path: path.String}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read storage configs: %w", err)
	}
	return storage, nil
}

// SaveConfig replaces the stored configuration with cfg
func (s *SQLiteProvider) SaveConfig(cfg *ConfigData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO configs (name, observatory_altitude) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET observatory_altitude = excluded.observatory_altitude,
		                                updated_at = CURRENT_TIMESTAMP
	`, defaultConfigName, cfg.Array.ObservatoryAltitude)
	if err != nil {
		return fmt.Errorf("failed to store config: %w", err)
	}

	var configID int64
	if err := tx.QueryRow(`SELECT id FROM configs WHERE name = ?`, defaultConfigName).Scan(&configID); err != nil {
		return fmt.Errorf("failed to look up config id: %w", err)
	}
	for _, table := range []string{"telescopes", "config_sections", "storage_configs"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE config_id = ?`, configID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, t := range cfg.Array.Telescopes {
		_, err := tx.Exec(`
			INSERT INTO telescopes (config_id, telescope_id, name, x, y, z, mirror_area,
			                        pointing_elevation, pointing_azimuth,
			                        camera_columns, camera_rows, pixel_spacing)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, configID, t.ID, t.Name, t.X, t.Y, t.Z, t.MirrorArea,
			t.PointingElevation, t.PointingAzimuth,
			t.Camera.Columns, t.Camera.Rows, t.Camera.PixelSpacing)
		if err != nil {
			return fmt.Errorf("failed to store telescope %d: %w", t.ID, err)
		}
	}

	sections := map[string]any{
		"fit":        cfg.Fit,
		"likelihood": cfg.Likelihood,
		"atmosphere": cfg.Atmosphere,
	}
	if cfg.Server != nil {
		sections["server"] = cfg.Server
	}
	for name, v := range sections {
		body, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s section: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO config_sections (config_id, section, body) VALUES (?, ?, ?)`,
			configID, name, string(body)); err != nil {
			return fmt.Errorf("failed to store %s section: %w", name, err)
		}
	}

	backends := []struct {
		kind, path, conn string
		enabled          bool
	}{
		{"sqlite", pathOf(cfg.Storage.SQLite), "", cfg.Storage.SQLite != nil},
		{"file", filePathOf(cfg.Storage.File), "", cfg.Storage.File != nil},
		{"timescaledb", "", connOf(cfg.Storage.TimescaleDB), cfg.Storage.TimescaleDB != nil},
	}
	for _, b := range backends {
		if !b.enabled {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO storage_configs (config_id, backend_type, enabled, path, connection_string)
			VALUES (?, ?, 1, ?, ?)
		`, configID, b.kind, b.path, b.conn); err != nil {
			return fmt.Errorf("failed to store %s storage config: %w", b.kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit configuration: %w", err)
	}
	return nil
}

func pathOf(d *SQLiteData) string {
	if d == nil {
		return ""
	}
	return d.Path
}

func filePathOf(d *FileData) string {
	if d == nil {
		return ""
	}
	return d.Path
}

func connOf(d *TimescaleDBData) string {
	if d == nil {
		return ""
	}
	return d.ConnectionString
}

// IsReadOnly returns false as SQLite supports writes
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}
