package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pyxis/internal/config"
	"pyxis/internal/ingest"
	"pyxis/internal/logging"
	"pyxis/internal/registry"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	store   *registry.Store
	service *ingest.Service
	logger  *slog.Logger
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// ensureService opens the registry and builds the ingest service once per
// invocation.
func (c *commandContext) ensureService(ctx context.Context) (*ingest.Service, error) {
	if c.service != nil {
		return c.service, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := registry.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	svc, err := ingest.NewFromConfig(cfg, store, nil, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	c.logger = logger
	c.store = store
	c.service = svc
	return svc, nil
}

func (c *commandContext) ensureStore(ctx context.Context) (*registry.Store, error) {
	if _, err := c.ensureService(ctx); err != nil {
		return nil, err
	}
	return c.store, nil
}

func (c *commandContext) close() {
	if c.store != nil {
		c.store.Close()
		c.store = nil
		c.service = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// loadEnvFiles exports variables from the given dotenv files. Missing files
// are ignored and variables already set in the environment win.
func loadEnvFiles(paths []string) {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to load %s: %v\n", path, err)
		}
	}
}
