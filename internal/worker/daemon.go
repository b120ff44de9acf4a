package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"pyxis/internal/config"
	"pyxis/internal/ingest"
	"pyxis/internal/logging"
	"pyxis/internal/metrics"
	"pyxis/internal/registry"
)

const metricsShutdownTimeout = 5 * time.Second

// Daemon owns the worker manager, enforces single-instance execution, and
// serves the metrics endpoint while running.
type Daemon struct {
	cfg     *config.Config
	store   *registry.Store
	service *ingest.Service
	manager *Manager
	logger  *slog.Logger

	lockPath string
	lock     *flock.Flock

	server      *http.Server
	metricsAddr string

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Worker       StatusSummary
	Batches      map[registry.Status]int
	LockFilePath string
	MetricsAddr  string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *registry.Store, service *ingest.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || service == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, service, and logger")
	}
	poll := time.Duration(cfg.Workflow.PollInterval) * time.Second
	return &Daemon{
		cfg:      cfg,
		store:    store,
		service:  service,
		manager:  NewManager(service, cfg.Workflow.Workers, poll, logger),
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.Workflow.LockPath,
		lock:     flock.New(cfg.Workflow.LockPath),
	}, nil
}

// Start acquires the instance lock, returns interrupted batches to failed,
// launches the worker loops, and starts the metrics endpoint when enabled.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another pyxis worker instance is already running")
	}

	reset, err := d.store.ResetStuckProcessing(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset interrupted batches: %w", err)
	}
	if reset > 0 {
		logging.WarnWithContext(d.logger, "interrupted batches marked failed", "batches_reset",
			logging.Int64("count", reset),
			logging.String(logging.FieldErrorHint, "run pyxis batch retry to reprocess them"),
		)
	}

	if d.cfg.Metrics.Enabled {
		if err := d.startMetrics(); err != nil {
			_ = d.lock.Unlock()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		d.stopMetrics()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workers: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("pyxis worker started",
		logging.String("lock", d.lockPath),
		logging.String("metrics", d.metricsAddr),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	d.stopMetrics()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release worker lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("pyxis worker stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the registry.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports runtime state and batch counts by status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		Worker:       d.manager.Status(),
		Batches:      stats,
		LockFilePath: d.lockPath,
		MetricsAddr:  d.metricsAddr,
	}, nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (d *Daemon) MetricsAddr() string {
	return d.metricsAddr
}

// Reload re-reads the merge rules from the configuration file at path and
// swaps them into the running engine. Other settings need a restart.
func (d *Daemon) Reload(path string) error {
	cfg, _, _, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	rules, err := ingest.RulesFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("reload merge rules: %w", err)
	}
	d.service.Engine().Reload(rules)
	return nil
}

// WatchReload reloads rules from path whenever a signal arrives, until ctx
// ends. Reload failures keep the previous rules.
func (d *Daemon) WatchReload(ctx context.Context, signals <-chan os.Signal, path string) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			if err := d.Reload(path); err != nil {
				logging.ErrorWithContext(d.logger, "merge rule reload failed", "rules_reload_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "fix the [merge] section; previous rules remain active"),
				)
			}
		}
	}
}

func (d *Daemon) startMetrics() error {
	listener, err := net.Listen("tcp", d.cfg.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", d.cfg.Metrics.Listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle(d.cfg.Metrics.Path, metrics.Handler())
	d.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.metricsAddr = listener.Addr().String()
	server := d.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics endpoint stopped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "metrics_server_failed"),
			)
		}
	}()
	return nil
}

func (d *Daemon) stopMetrics() {
	if d.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn("metrics endpoint shutdown failed", logging.Error(err))
	}
	d.server = nil
	d.metricsAddr = ""
}
