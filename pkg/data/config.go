// Package data provides configuration management and match ingestion for the
// elohistory application. It handles layered configuration (defaults, YAML
// file, environment) and CSV parsing of match lists.
package data

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/pashagolub/elohistory/pkg/elo"
)

// EnvPrefix is the prefix of environment overrides, e.g. ELOHISTORY_ELO_K=32
const EnvPrefix = "ELOHISTORY_"

// Error types for configuration validation
var (
	ErrInvalidEloConfig         = errors.New("invalid Elo configuration")
	ErrInvalidCSVConfig         = errors.New("invalid CSV configuration")
	ErrInvalidExportConfig      = errors.New("invalid export configuration")
	ErrInvalidCalibrationConfig = errors.New("invalid calibration configuration")
	ErrInvalidStoreConfig       = errors.New("invalid store configuration")
	ErrInvalidMetricsConfig     = errors.New("invalid metrics configuration")
	ErrConfigParseError         = errors.New("failed to parse configuration")
)

// Config is the top-level configuration of the application
type Config struct {
	Elo         EloConfig         `koanf:"elo" yaml:"elo"`
	CSV         CSVConfig         `koanf:"csv" yaml:"csv"`
	Export      ExportConfig      `koanf:"export" yaml:"export"`
	Calibration CalibrationConfig `koanf:"calibration" yaml:"calibration"`
	Store       StoreConfig       `koanf:"store" yaml:"store"`
	Metrics     MetricsConfig     `koanf:"metrics" yaml:"metrics"`
	Log         LogConfig         `koanf:"log" yaml:"log"`
}

// EloConfig holds the rating engine parameters
type EloConfig struct {
	K                     int     `koanf:"k" yaml:"k"`                                             // Step size (default 20)
	EloInit               int     `koanf:"elo_init" yaml:"elo_init"`                               // Starting rating (default 1500)
	EloDiff               int     `koanf:"elo_diff" yaml:"elo_diff"`                               // Probability scale (default 400)
	SeasonalMeanReversion float64 `koanf:"seasonal_mean_reversion" yaml:"seasonal_mean_reversion"` // Reversion at year boundaries (default 0)
}

// CSVConfig defines how to read a match list
type CSVConfig struct {
	WinnerColumn    string `koanf:"winner_column" yaml:"winner_column"`       // Column with the winner (required)
	LoserColumn     string `koanf:"loser_column" yaml:"loser_column"`         // Column with the loser (required)
	IDColumn        string `koanf:"id_column" yaml:"id_column"`               // Column with the match id (optional)
	TimestampColumn string `koanf:"timestamp_column" yaml:"timestamp_column"` // Column with the match date (optional)
	PartitionColumn string `koanf:"partition_column" yaml:"partition_column"` // Column splitting the file into independent pools (optional)
	HasHeader       bool   `koanf:"has_header" yaml:"has_header"`             // Whether the file has a header row
	Delimiter       string `koanf:"delimiter" yaml:"delimiter"`               // Field separator
}

// ExportConfig holds output settings
type ExportConfig struct {
	Format        string `koanf:"format" yaml:"format"`                 // csv, json or text
	RoundDecimals int    `koanf:"round_decimals" yaml:"round_decimals"` // Decimal places of ratings and probabilities
	Since         string `koanf:"since" yaml:"since"`                   // Only export rows at or after this date
}

// CalibrationConfig holds calibration curve settings
type CalibrationConfig struct {
	Bins      int     `koanf:"bins" yaml:"bins"`             // Number of uniform bins
	StartYear int     `koanf:"start_year" yaml:"start_year"` // First season included
	A         float64 `koanf:"a" yaml:"a"`                   // Inverse sigmoid steepness
	B         float64 `koanf:"b" yaml:"b"`                   // Inverse sigmoid offset
	Seed      int64   `koanf:"seed" yaml:"seed"`             // Seed of the outcome split
}

// StoreConfig selects the run database
type StoreConfig struct {
	Driver string `koanf:"driver" yaml:"driver"` // sqlite or postgres
	DSN    string `koanf:"dsn" yaml:"dsn"`
}

// MetricsConfig shapes the Prometheus metrics of a fit
type MetricsConfig struct {
	Enabled         bool      `koanf:"enabled" yaml:"enabled"`
	Namespace       string    `koanf:"namespace" yaml:"namespace"`
	Subsystem       string    `koanf:"subsystem" yaml:"subsystem"`
	DurationBuckets []float64 `koanf:"duration_buckets" yaml:"duration_buckets,omitempty"` // Fit duration histogram, seconds
}

// LogConfig controls verbosity
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	d := elo.DefaultConfig()
	return Config{
		Elo: EloConfig{
			K:                     d.K,
			EloInit:               d.InitialRating,
			EloDiff:               d.Scale,
			SeasonalMeanReversion: d.SeasonalMeanReversion,
		},
		CSV: CSVConfig{
			WinnerColumn:    "winner",
			LoserColumn:     "loser",
			IDColumn:        "id",
			TimestampColumn: "timestamp",
			HasHeader:       true,
			Delimiter:       ",",
		},
		Export: ExportConfig{
			Format:        "csv",
			RoundDecimals: 4,
		},
		Calibration: CalibrationConfig{
			Bins:      20,
			StartYear: 2018,
			A:         5,
			B:         0.2,
			Seed:      1,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "elohistory.db",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "elohistory",
			Subsystem: "fit",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// EngineConfig converts the section into the rating engine configuration
func (e EloConfig) EngineConfig() elo.Config {
	return elo.Config{
		K:                     e.K,
		InitialRating:         e.EloInit,
		Scale:                 e.EloDiff,
		SeasonalMeanReversion: e.SeasonalMeanReversion,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := c.Elo.Validate(); err != nil {
		return fmt.Errorf("Elo config validation failed: %w", err)
	}
	if err := c.CSV.Validate(); err != nil {
		return fmt.Errorf("CSV config validation failed: %w", err)
	}
	if err := c.Export.Validate(); err != nil {
		return fmt.Errorf("export config validation failed: %w", err)
	}
	if err := c.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration config validation failed: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config validation failed: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config validation failed: %w", err)
	}
	return nil
}

// Validate checks the rating parameters
func (e *EloConfig) Validate() error {
	if err := e.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEloConfig, err)
	}
	return nil
}

// Validate checks that CSV configuration is valid
func (c *CSVConfig) Validate() error {
	if strings.TrimSpace(c.WinnerColumn) == "" {
		return fmt.Errorf("%w: winner_column is required", ErrInvalidCSVConfig)
	}
	if strings.TrimSpace(c.LoserColumn) == "" {
		return fmt.Errorf("%w: loser_column is required", ErrInvalidCSVConfig)
	}

	columns := make(map[string]string)
	for _, col := range []struct{ name, field string }{
		{c.WinnerColumn, "winner_column"},
		{c.LoserColumn, "loser_column"},
		{c.IDColumn, "id_column"},
		{c.TimestampColumn, "timestamp_column"},
		{c.PartitionColumn, "partition_column"},
	} {
		if col.name == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(col.name))
		if other, ok := columns[key]; ok {
			return fmt.Errorf("%w: column '%s' is used by both %s and %s", ErrInvalidCSVConfig, col.name, other, col.field)
		}
		columns[key] = col.field
	}

	validDelimiters := map[string]bool{",": true, ";": true, "\t": true, "|": true}
	if !validDelimiters[c.Delimiter] {
		return fmt.Errorf("%w: delimiter '%s' is not a common CSV separator", ErrInvalidCSVConfig, c.Delimiter)
	}
	return nil
}

// Validate checks that export configuration is valid
func (e *ExportConfig) Validate() error {
	validFormats := map[string]bool{"csv": true, "json": true, "text": true}
	if !validFormats[e.Format] {
		return fmt.Errorf("%w: format '%s' must be one of: csv, json, text", ErrInvalidExportConfig, e.Format)
	}
	if e.RoundDecimals < 0 || e.RoundDecimals > 15 {
		return fmt.Errorf("%w: round_decimals %d must be between 0 and 15", ErrInvalidExportConfig, e.RoundDecimals)
	}
	if e.Since != "" {
		if _, err := elo.ParseTimestamp(e.Since); err != nil {
			return fmt.Errorf("%w: since '%s' is not a date: %v", ErrInvalidExportConfig, e.Since, err)
		}
	}
	return nil
}

// Validate checks that calibration configuration is valid
func (c *CalibrationConfig) Validate() error {
	if c.Bins <= 0 {
		return fmt.Errorf("%w: bins must be positive, got %d", ErrInvalidCalibrationConfig, c.Bins)
	}
	if c.A == 0 {
		return fmt.Errorf("%w: a must not be zero", ErrInvalidCalibrationConfig)
	}
	return nil
}

var metricName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks that metric names are valid Prometheus names and the
// buckets are increasing
func (m *MetricsConfig) Validate() error {
	if !metricName.MatchString(m.Namespace) {
		return fmt.Errorf("%w: namespace '%s' is not a metric name", ErrInvalidMetricsConfig, m.Namespace)
	}
	if !metricName.MatchString(m.Subsystem) {
		return fmt.Errorf("%w: subsystem '%s' is not a metric name", ErrInvalidMetricsConfig, m.Subsystem)
	}
	for i := 1; i < len(m.DurationBuckets); i++ {
		if m.DurationBuckets[i] <= m.DurationBuckets[i-1] {
			return fmt.Errorf("%w: duration_buckets must be increasing", ErrInvalidMetricsConfig)
		}
	}
	return nil
}

// Validate checks that store configuration is valid
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: driver '%s' must be sqlite or postgres", ErrInvalidStoreConfig, s.Driver)
	}
	if strings.TrimSpace(s.DSN) == "" {
		return fmt.Errorf("%w: dsn is required", ErrInvalidStoreConfig)
	}
	return nil
}

// Load builds a Config by layering defaults, an optional YAML file and
// environment variables (low -> high). A missing file is not an error.
// The result is not validated: callers apply command-line overrides first
// and call Validate on the final configuration.
func Load(filename string) (*Config, error) {
	k := koanf.New(".")

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			if err := k.Load(file.Provider(filename), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrConfigParseError, filename, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", ErrConfigParseError, err)
	}

	cfg := DefaultConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
	}
	return &cfg, nil
}

var sections = []string{"elo", "csv", "export", "calibration", "store", "metrics", "log"}

// envKey maps ELOHISTORY_ELO_ELO_INIT -> elo.elo_init
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return s
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	err = WriteFileAtomic(filename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return nil
}
