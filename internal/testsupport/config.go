package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pyxis/internal/config"
)

// PostgresEnv names the variable that points registry tests at a live
// PostgreSQL database.
const PostgresEnv = "PYXIS_TEST_DATABASE_URL"

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Storage.SQLitePath = filepath.Join(base, "data", "pyxis.db")
	cfgVal.Workflow.LockPath = filepath.Join(base, "data", "pyxis.lock")
	cfgVal.Workflow.Workers = 1
	cfgVal.Workflow.PollInterval = 1
	cfgVal.Merge.CurrentYear = 2024
	cfgVal.Metrics.Listen = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPostgres points the config at the database named by PostgresEnv and
// skips the test when it is unset.
func WithPostgres() ConfigOption {
	return func(b *configBuilder) {
		url := strings.TrimSpace(os.Getenv(PostgresEnv))
		if url == "" {
			b.t.Skipf("%s not set", PostgresEnv)
		}
		b.cfg.Storage.Driver = config.DriverPostgres
		b.cfg.Storage.DatabaseURL = url
	}
}

// WithCurrentYear pins the avg_age reference year.
func WithCurrentYear(year int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Merge.CurrentYear = year
	}
}

// WithRule overrides or adds a merge rule.
func WithRule(attribute, method, round string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Merge.Rules[attribute] = config.MergeRule{Method: method, Round: round}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
