package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Storage selects and addresses the registry backend.
type Storage struct {
	Driver         string `toml:"driver"`
	SQLitePath     string `toml:"sqlite_path"`
	DatabaseURL    string `toml:"database_url"`
	MaxOpenConns   int    `toml:"max_open_conns"`
	BusyTimeoutMS  int    `toml:"busy_timeout_ms"`
	ConnectTimeout int    `toml:"connect_timeout"`
}

// Matching tunes the identity matcher.
type Matching struct {
	NameWeight       float64 `toml:"name_weight"`
	GeoWeight        float64 `toml:"geo_weight"`
	Threshold        float64 `toml:"threshold"`
	MaxGridDistance  int     `toml:"max_grid_distance"`
	DecayFactor      float64 `toml:"decay_factor"`
	FarPenalty       float64 `toml:"far_penalty"`
	CountryPrefilter bool    `toml:"country_prefilter"`
}

// Spatial contains hex grid settings.
type Spatial struct {
	Resolution  int `toml:"resolution"`
	NearestRing int `toml:"nearest_ring"`
}

// MergeRule is the TOML form of a per-attribute merge rule.
type MergeRule struct {
	Method string `toml:"method"`
	Round  string `toml:"round"`
}

// Merge contains the rule table and its evaluation options.
type Merge struct {
	WeightAttribute string               `toml:"weight_attribute"`
	CurrentYear     int                  `toml:"current_year"`
	Rules           map[string]MergeRule `toml:"rules"`
}

// Workflow contains configuration for worker timing and concurrency.
type Workflow struct {
	Workers      int    `toml:"workers"`
	PollInterval int    `toml:"poll_interval"`
	LockPath     string `toml:"lock_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics controls the Prometheus endpoint exposed by the worker.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	Path    string `toml:"path"`
}

// Config encapsulates all configuration values for Pyxis.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Storage: registry backend (sqlite or postgres)
//   - Matching: identity matcher weights and thresholds
//   - Spatial: hex grid resolution and nearest-field search radius
//   - Merge: per-attribute merge rules
//   - Workflow: worker concurrency and polling
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus endpoint
type Config struct {
	Paths    Paths    `toml:"paths"`
	Storage  Storage  `toml:"storage"`
	Matching Matching `toml:"matching"`
	Spatial  Spatial  `toml:"spatial"`
	Merge    Merge    `toml:"merge"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := Decode(file, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Decode parses TOML over cfg. A [merge.rules] table in the file replaces the
// default rule table instead of merging into it.
func Decode(r io.Reader, cfg *Config) error {
	defaults := cfg.Merge.Rules
	cfg.Merge.Rules = nil
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("parse config: %s", strict.String())
		}
		return fmt.Errorf("parse config: %w", err)
	}
	if cfg.Merge.Rules == nil {
		cfg.Merge.Rules = defaults
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories, plus the parent of
// the SQLite database file.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Storage.Driver == DriverSQLite && strings.TrimSpace(c.Storage.SQLitePath) != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.SQLitePath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.Storage.Driver == DriverPostgres {
		return c.Storage.DatabaseURL
	}
	return c.Storage.SQLitePath
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
