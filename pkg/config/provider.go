package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration, with defaults applied and validated
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetArray() (*ArrayData, error)
	GetStorageConfig() (*StorageData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration of a fitting run
type ConfigData struct {
	Array      ArrayData      `json:"array" yaml:"array"`
	Fit        FitData        `json:"fit" yaml:"fit"`
	Likelihood LikelihoodData `json:"likelihood" yaml:"likelihood"`
	Atmosphere AtmosphereData `json:"atmosphere" yaml:"atmosphere"`
	Storage    StorageData    `json:"storage,omitempty" yaml:"storage,omitempty"`
	Server     *ServerData    `json:"server,omitempty" yaml:"server,omitempty"`
}

// ArrayData describes the telescope array
type ArrayData struct {
	// ObservatoryAltitude is the ground plane altitude in metres a.s.l.
	ObservatoryAltitude float64         `json:"observatory_altitude" yaml:"observatory_altitude"`
	Telescopes          []TelescopeData `json:"telescopes" yaml:"telescopes"`
}

// TelescopeData holds one telescope. Positions are metres in the ground
// frame (x east, y north, z up); pointing is in degrees.
type TelescopeData struct {
	ID                int        `json:"id" yaml:"id"`
	Name              string     `json:"name,omitempty" yaml:"name,omitempty"`
	X                 float64    `json:"x" yaml:"x"`
	Y                 float64    `json:"y" yaml:"y"`
	Z                 float64    `json:"z" yaml:"z"`
	MirrorArea        float64    `json:"mirror_area" yaml:"mirror_area"`
	PointingElevation float64    `json:"pointing_elevation" yaml:"pointing_elevation"`
	PointingAzimuth   float64    `json:"pointing_azimuth" yaml:"pointing_azimuth"`
	Camera            CameraData `json:"camera" yaml:"camera"`
}

// CameraData is a rectangular grid of square pixels centred on the optical
// axis.
type CameraData struct {
	Columns      int     `json:"columns" yaml:"columns"`
	Rows         int     `json:"rows" yaml:"rows"`
	PixelSpacing float64 `json:"pixel_spacing" yaml:"pixel_spacing"` // degrees
}

// RangeData is a closed interval
type RangeData struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// FitData configures the minimizer, the quality gate and the parameter
// bounds. Zero values are replaced by defaults.
type FitData struct {
	Method          string    `json:"method,omitempty" yaml:"method,omitempty"`
	MaxIterations   int       `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Tolerance       float64   `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	MinImages       int       `json:"min_images,omitempty" yaml:"min_images,omitempty"`
	MinImagePixels  int       `json:"min_image_pixels,omitempty" yaml:"min_image_pixels,omitempty"`
	DirectionOffset float64   `json:"direction_offset,omitempty" yaml:"direction_offset,omitempty"` // degrees
	CoreOffset      float64   `json:"core_offset,omitempty" yaml:"core_offset,omitempty"`           // metres
	HeightRange     RangeData `json:"height_range,omitempty" yaml:"height_range,omitempty"`         // km
	WidthLRange     RangeData `json:"width_long_range,omitempty" yaml:"width_long_range,omitempty"` // km
	WidthTRange     RangeData `json:"width_trans_range,omitempty" yaml:"width_trans_range,omitempty"`
	LogPhotonsRange RangeData `json:"log_photons_range,omitempty" yaml:"log_photons_range,omitempty"`
	DepthOfMaximum  float64   `json:"depth_of_maximum,omitempty" yaml:"depth_of_maximum,omitempty"` // g/cm²
	SeedWidthL      float64   `json:"seed_width_long,omitempty" yaml:"seed_width_long,omitempty"`   // km
	Freeze          []string  `json:"freeze,omitempty" yaml:"freeze,omitempty"`
}

// LikelihoodData configures the pixel noise model and its table cache
type LikelihoodData struct {
	PixelVariance float64 `json:"pixel_variance" yaml:"pixel_variance"`
	NSB           float64 `json:"nsb" yaml:"nsb"`
	SPEWidth      float64 `json:"spe_width,omitempty" yaml:"spe_width,omitempty"`
	TableDir      string  `json:"table_dir,omitempty" yaml:"table_dir,omitempty"`
	MinAmplitude  float64 `json:"min_amplitude,omitempty" yaml:"min_amplitude,omitempty"`
	MaxResidual   float64 `json:"max_residual,omitempty" yaml:"max_residual,omitempty"`
}

// AtmosphereData is an exponential atmosphere
type AtmosphereData struct {
	SeaLevelDensity float64 `json:"sea_level_density,omitempty" yaml:"sea_level_density,omitempty"` // g/cm³
	ScaleHeight     float64 `json:"scale_height,omitempty" yaml:"scale_height,omitempty"`           // m
}

// StorageData holds the configuration for the result sinks
type StorageData struct {
	SQLite      *SQLiteData      `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	TimescaleDB *TimescaleDBData `json:"timescaledb,omitempty" yaml:"timescaledb,omitempty"`
	File        *FileData        `json:"file,omitempty" yaml:"file,omitempty"`
}

// Storage backend configuration structs
type SQLiteData struct {
	Path string `json:"path" yaml:"path"`
}

type TimescaleDBData struct {
	ConnectionString string `json:"connection_string" yaml:"connection_string"`
}

type FileData struct {
	Path string `json:"path" yaml:"path"`
}

// ServerData configures the results REST server
type ServerData struct {
	Cert       string `json:"cert,omitempty" yaml:"cert,omitempty"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
}

// ApplyDefaults fills the zero-valued settings that have a sensible default.
func (c *ConfigData) ApplyDefaults() {
	f := &c.Fit
	if f.Method == "" {
		f.Method = "lm"
	}
	if f.MaxIterations == 0 {
		f.MaxIterations = 100
	}
	if f.Tolerance == 0 {
		f.Tolerance = 1e-3
	}
	if f.MinImages == 0 {
		f.MinImages = 2
	}
	if f.MinImagePixels == 0 {
		f.MinImagePixels = 3
	}
	if f.DirectionOffset == 0 {
		f.DirectionOffset = 2
	}
	if f.CoreOffset == 0 {
		f.CoreOffset = 100
	}
	if f.HeightRange == (RangeData{}) {
		f.HeightRange = RangeData{Min: 1, Max: 30}
	}
	if f.WidthLRange == (RangeData{}) {
		f.WidthLRange = RangeData{Min: 0.1, Max: 20}
	}
	if f.WidthTRange == (RangeData{}) {
		f.WidthTRange = RangeData{Min: 0.5, Max: 200}
	}
	if f.LogPhotonsRange == (RangeData{}) {
		f.LogPhotonsRange = RangeData{Min: 0, Max: 40}
	}
	if f.DepthOfMaximum == 0 {
		f.DepthOfMaximum = 300
	}
	if f.SeedWidthL == 0 {
		f.SeedWidthL = 3
	}

	l := &c.Likelihood
	if l.SPEWidth == 0 {
		l.SPEWidth = 0.4
	}
	if l.TableDir == "" {
		l.TableDir = "tables"
	}
	if l.MinAmplitude == 0 {
		l.MinAmplitude = 1e-6
	}
	if l.MaxResidual == 0 {
		l.MaxResidual = 1e6
	}

	if c.Atmosphere.SeaLevelDensity == 0 {
		c.Atmosphere.SeaLevelDensity = 1.225e-3
	}
	if c.Atmosphere.ScaleHeight == 0 {
		c.Atmosphere.ScaleHeight = 8400
	}

	if c.Server != nil {
		if c.Server.Port == 0 {
			c.Server.Port = 8080
		}
	}
}

// Validate reports the first inconsistency in c.
func (c *ConfigData) Validate() error {
	if len(c.Array.Telescopes) == 0 {
		return fmt.Errorf("no telescopes configured: %w", ErrInvalidConfig)
	}
	seen := make(map[int]bool)
	for _, t := range c.Array.Telescopes {
		if seen[t.ID] {
			return fmt.Errorf("duplicate telescope id %d: %w", t.ID, ErrInvalidConfig)
		}
		seen[t.ID] = true
		if t.MirrorArea <= 0 {
			return fmt.Errorf("telescope %d: mirror area must be positive: %w", t.ID, ErrInvalidConfig)
		}
		if t.Camera.Columns <= 0 || t.Camera.Rows <= 0 || t.Camera.PixelSpacing <= 0 {
			return fmt.Errorf("telescope %d: camera needs positive columns, rows and pixel spacing: %w", t.ID, ErrInvalidConfig)
		}
	}

	for _, r := range []struct {
		name string
		RangeData
	}{
		{"height_range", c.Fit.HeightRange},
		{"width_long_range", c.Fit.WidthLRange},
		{"width_trans_range", c.Fit.WidthTRange},
		{"log_photons_range", c.Fit.LogPhotonsRange},
	} {
		if r.Min > r.Max {
			return fmt.Errorf("fit %s: min %v above max %v: %w", r.name, r.Min, r.Max, ErrInvalidConfig)
		}
	}
	if c.Fit.MinImages < 1 || c.Fit.MinImagePixels < 1 {
		return fmt.Errorf("fit quality gate needs positive image and pixel counts: %w", ErrInvalidConfig)
	}

	l := c.Likelihood
	if l.PixelVariance < 0 || l.NSB < 0 || l.PixelVariance+l.NSB <= 0 {
		return fmt.Errorf("likelihood pixel_variance and nsb must be non-negative with a positive sum: %w", ErrInvalidConfig)
	}
	if c.Atmosphere.SeaLevelDensity <= 0 || c.Atmosphere.ScaleHeight <= 0 {
		return fmt.Errorf("atmosphere density and scale height must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

// load applies defaults and validates, the last step of every provider.
func load(c *ConfigData) (*ConfigData, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewProvider opens the configuration at path with the named backend,
// "yaml" or "sqlite".
func NewProvider(path, backend string) (ConfigProvider, error) {
	switch backend {
	case "yaml", "":
		return NewYAMLProvider(path), nil
	case "sqlite":
		p, err := NewSQLiteProvider(path)
		if err != nil {
			return nil, fmt.Errorf("error creating SQLite provider: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unsupported configuration backend: %s. Use 'yaml' or 'sqlite'", backend)
}
