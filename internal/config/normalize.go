package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeMatching()
	c.normalizeSpatial()
	c.normalizeMerge()
	if err := c.normalizeWorkflow(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeMetrics()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	if value, ok := os.LookupEnv("PYXIS_DATABASE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Storage.DatabaseURL = strings.TrimSpace(value)
		if strings.TrimSpace(c.Storage.Driver) == "" || strings.EqualFold(c.Storage.Driver, DriverSQLite) {
			if strings.HasPrefix(c.Storage.DatabaseURL, "postgres://") || strings.HasPrefix(c.Storage.DatabaseURL, "postgresql://") {
				c.Storage.Driver = DriverPostgres
			}
		}
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "", "sqlite3":
		c.Storage.Driver = DriverSQLite
	case "postgresql", "pq":
		c.Storage.Driver = DriverPostgres
	}
	c.Storage.DatabaseURL = strings.TrimSpace(c.Storage.DatabaseURL)
	if c.Storage.Driver == DriverSQLite {
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			c.Storage.SQLitePath = filepath.Join(c.Paths.DataDir, defaultSQLiteName)
		}
		var err error
		if c.Storage.SQLitePath, err = expandPath(c.Storage.SQLitePath); err != nil {
			return fmt.Errorf("storage.sqlite_path: %w", err)
		}
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = defaultMaxOpenConns
	}
	if c.Storage.BusyTimeoutMS <= 0 {
		c.Storage.BusyTimeoutMS = defaultBusyTimeoutMS
	}
	if c.Storage.ConnectTimeout <= 0 {
		c.Storage.ConnectTimeout = defaultConnectTimeout
	}
	return nil
}

func (c *Config) normalizeMatching() {
	if c.Matching.NameWeight == 0 && c.Matching.GeoWeight == 0 {
		c.Matching.NameWeight = defaultNameWeight
		c.Matching.GeoWeight = defaultGeoWeight
	}
	if c.Matching.MaxGridDistance <= 0 {
		c.Matching.MaxGridDistance = defaultMaxGridDistance
	}
	if c.Matching.DecayFactor <= 0 {
		c.Matching.DecayFactor = defaultDecayFactor
	}
	if c.Matching.FarPenalty > 0 {
		c.Matching.FarPenalty = -c.Matching.FarPenalty
	}
}

func (c *Config) normalizeSpatial() {
	if c.Spatial.Resolution == 0 {
		c.Spatial.Resolution = defaultResolution
	}
	if c.Spatial.NearestRing <= 0 {
		c.Spatial.NearestRing = defaultNearestRing
	}
}

func (c *Config) normalizeMerge() {
	c.Merge.WeightAttribute = strings.TrimSpace(c.Merge.WeightAttribute)
	if c.Merge.WeightAttribute == "" {
		c.Merge.WeightAttribute = defaultWeightAttribute
	}
	if c.Merge.Rules == nil {
		c.Merge.Rules = DefaultRules()
	}
	normalized := make(map[string]MergeRule, len(c.Merge.Rules))
	for name, rule := range c.Merge.Rules {
		normalized[strings.TrimSpace(name)] = MergeRule{
			Method: strings.ToLower(strings.TrimSpace(rule.Method)),
			Round:  strings.ToLower(strings.TrimSpace(rule.Round)),
		}
	}
	c.Merge.Rules = normalized
}

func (c *Config) normalizeWorkflow() error {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.PollInterval <= 0 {
		c.Workflow.PollInterval = defaultPollInterval
	}
	if strings.TrimSpace(c.Workflow.LockPath) == "" {
		c.Workflow.LockPath = filepath.Join(c.Paths.DataDir, defaultLockName)
	}
	var err error
	if c.Workflow.LockPath, err = expandPath(c.Workflow.LockPath); err != nil {
		return fmt.Errorf("workflow.lock_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("PYXIS_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = defaultMetricsListen
	}
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}
}
