package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pyxis/internal/logging"
	"pyxis/internal/services"
	"pyxis/internal/worker"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the batch worker in the foreground",
		Long: "Run the batch worker until interrupted. Pending batches are claimed and\n" +
			"processed by workflow.workers loops. Send SIGHUP to reload [merge.rules].\n" +
			"On SIGINT or SIGTERM no new batches are claimed and batches already\n" +
			"running finish before the worker exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			svc, err := ctx.ensureService(signalCtx)
			if err != nil {
				return err
			}
			sessionCtx := services.WithRequestID(signalCtx, uuid.NewString())
			logger := logging.WithContext(sessionCtx, ctx.logger)

			d, err := worker.New(cfg, ctx.store, svc, logger)
			if err != nil {
				return err
			}
			if err := d.Start(sessionCtx); err != nil {
				return err
			}
			defer d.Stop()

			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			defer signal.Stop(reload)
			go d.WatchReload(sessionCtx, reload, ctx.configPath)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Worker running with %d loops (Ctrl+C to stop)\n", cfg.Workflow.Workers)
			if addr := d.MetricsAddr(); addr != "" {
				fmt.Fprintf(out, "Metrics at http://%s%s\n", addr, cfg.Metrics.Path)
			}
			<-signalCtx.Done()
			logger.Info("shutdown requested; waiting for running batches",
				logging.String(logging.FieldEventType, "shutdown_requested"))
			return nil
		},
	}
}
