package config

import (
	"fmt"
	"strings"

	"pyxis/internal/services"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateSpatial(); err != nil {
		return err
	}
	if err := c.validateMerge(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return invalid("storage.sqlite_path", "must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return invalid("storage.database_url", fmt.Sprintf("is required for the postgres driver. Set PYXIS_DATABASE_URL or edit %s (create with 'pyxis config init')", defaultPath))
		}
	default:
		return invalid("storage.driver", fmt.Sprintf("unsupported value %q (use sqlite or postgres)", c.Storage.Driver))
	}
	return nil
}

func (c *Config) validateMatching() error {
	m := c.Matching
	if m.NameWeight < 0 || m.GeoWeight < 0 {
		return invalid("matching", "weights must be >= 0")
	}
	if m.Threshold < 0 || m.Threshold > 100 {
		return invalid("matching.threshold", "must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateSpatial() error {
	if c.Spatial.Resolution < 0 || c.Spatial.Resolution > 15 {
		return invalid("spatial.resolution", "must be between 0 and 15")
	}
	return nil
}

func (c *Config) validateMerge() error {
	for name, rule := range c.Merge.Rules {
		if name == "" {
			return invalid("merge.rules", "attribute names must not be empty")
		}
		if rule.Method == "" {
			return invalid("merge.rules."+name+".method", "must be set")
		}
	}
	if c.Merge.CurrentYear < 0 {
		return invalid("merge.current_year", "must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.workers":       c.Workflow.Workers,
		"workflow.poll_interval": c.Workflow.PollInterval,
		"storage.max_open_conns": c.Storage.MaxOpenConns,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return invalid("logging.format", fmt.Sprintf("unsupported value %q (use console or json)", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", fmt.Sprintf("unsupported value %q", c.Logging.Level))
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return invalid(key, "must be positive")
		}
	}
	return nil
}

func invalid(field, reason string) error {
	return &services.ConfigError{Field: field, Reason: reason}
}
