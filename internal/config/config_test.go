package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"pyxis/internal/config"
	"pyxis/internal/services"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("PYXIS_DATABASE_URL", "")
	t.Setenv("PYXIS_LOG_LEVEL", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "pyxis")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Storage.Driver != config.DriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.SQLitePath != filepath.Join(wantData, "pyxis.db") {
		t.Fatalf("unexpected sqlite path: %q", cfg.Storage.SQLitePath)
	}
	if cfg.Workflow.LockPath != filepath.Join(wantData, "pyxis.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.Workflow.LockPath)
	}
	if cfg.Matching.Threshold != 60 || cfg.Matching.NameWeight != 0.7 || cfg.Matching.GeoWeight != 0.3 {
		t.Fatalf("unexpected matching defaults: %+v", cfg.Matching)
	}
	if !cfg.Matching.CountryPrefilter {
		t.Fatal("expected country prefilter enabled by default")
	}
	if cfg.Spatial.Resolution != 9 {
		t.Fatalf("unexpected resolution: %d", cfg.Spatial.Resolution)
	}
	if cfg.Merge.Rules["age"].Method != "avg_age" {
		t.Fatalf("expected default age rule, got %+v", cfg.Merge.Rules["age"])
	}
	if cfg.Merge.WeightAttribute != "oil_prod" {
		t.Fatalf("unexpected weight attribute: %q", cfg.Merge.WeightAttribute)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics disabled by default")
	}
}

func TestLoadProjectConfigReplacesRules(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("PYXIS_DATABASE_URL", "")
	t.Setenv("PYXIS_LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "pyxis.toml")
	content := `
[matching]
threshold = 75.0
far_penalty = 30.0
country_prefilter = false

[merge.rules.depth]
method = " Median "
round = "INT"

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Matching.Threshold != 75 {
		t.Fatalf("unexpected threshold %v", cfg.Matching.Threshold)
	}
	if cfg.Matching.FarPenalty != -30 {
		t.Fatalf("expected far penalty to be negated, got %v", cfg.Matching.FarPenalty)
	}
	if cfg.Matching.CountryPrefilter {
		t.Fatal("expected country prefilter disabled")
	}
	if len(cfg.Merge.Rules) != 1 {
		t.Fatalf("expected file rules to replace defaults, got %v", cfg.Merge.Rules)
	}
	if rule := cfg.Merge.Rules["depth"]; rule.Method != "median" || rule.Round != "int" {
		t.Fatalf("unexpected normalized rule %+v", rule)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PYXIS_DATABASE_URL", "postgres://pyxis@localhost/pyxis?sslmode=disable")
	t.Setenv("PYXIS_LOG_LEVEL", "DEBUG")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		t.Fatalf("expected postgres driver from URL, got %q", cfg.Storage.Driver)
	}
	if cfg.DSN() != "postgres://pyxis@localhost/pyxis?sslmode=disable" {
		t.Fatalf("unexpected DSN %q", cfg.DSN())
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "pyxis.toml")
	if err := os.WriteFile(path, []byte("[matching]\nthreshhold = 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "threshhold") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"driver", func(c *config.Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"postgres url", func(c *config.Config) { c.Storage.Driver = config.DriverPostgres }, "storage.database_url"},
		{"threshold", func(c *config.Config) { c.Matching.Threshold = 120 }, "matching.threshold"},
		{"resolution", func(c *config.Config) { c.Spatial.Resolution = 16 }, "spatial.resolution"},
		{"rule method", func(c *config.Config) { c.Merge.Rules = map[string]config.MergeRule{"depth": {}} }, "merge.rules.depth.method"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"workers", func(c *config.Config) { c.Workflow.Workers = 0 }, "workflow.workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "pyxis.db")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			var cfgErr *services.ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tc.field {
				t.Fatalf("expected field %s, got %v", tc.field, err)
			}
		})
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var cfg config.Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if len(cfg.Merge.Rules) != len(config.DefaultRules()) {
		t.Fatalf("sample rules drifted from defaults: %d vs %d", len(cfg.Merge.Rules), len(config.DefaultRules()))
	}
	for name, rule := range config.DefaultRules() {
		if cfg.Merge.Rules[name] != rule {
			t.Fatalf("sample rule %s = %+v, want %+v", name, cfg.Merge.Rules[name], rule)
		}
	}
}
