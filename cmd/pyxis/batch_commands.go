package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pyxis/internal/ingest"
	"pyxis/internal/registry"
	"pyxis/internal/worker"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit and inspect ingestion batches",
	}

	batchCmd.AddCommand(newBatchAddCommand(ctx))
	batchCmd.AddCommand(newBatchProcessCommand(ctx))
	batchCmd.AddCommand(newBatchStatusCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchRetryCommand(ctx))

	return batchCmd
}

func newBatchAddCommand(ctx *commandContext) *cobra.Command {
	var mappingPath string
	var sub ingest.Submission

	cmd := &cobra.Command{
		Use:   "add <data.csv>",
		Short: "Submit a data file with its mapping as a pending batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(mappingPath) == "" {
				return errors.New("--mapping is required")
			}
			mapping, err := os.ReadFile(mappingPath)
			if err != nil {
				return fmt.Errorf("read mapping: %w", err)
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read data file: %w", err)
			}
			svc, err := ctx.ensureService(cmd.Context())
			if err != nil {
				return err
			}
			sub.FileName = filepath.Base(args[0])
			sub.Mapping = mapping
			sub.Payload = payload
			res, err := svc.Submit(cmd.Context(), sub)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{
					"batch":      newBatchView(res.Batch),
					"duplicates": batchIDs(res.Duplicates),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted batch %d (%s)\n", res.Batch.ID, res.Batch.FileName)
			if len(res.Duplicates) > 0 {
				fmt.Fprintf(out, "Warning: identical content already submitted as batch %s\n", joinIDs(batchIDs(res.Duplicates)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mappingPath, "mapping", "m", "", "Mapping document (JSON)")
	cmd.Flags().StringVar(&sub.SourceName, "source", "", "Source name (defaults to the mapping's data name)")
	cmd.Flags().StringVar(&sub.RecordID, "record-id", "", "Upstream record identifier")
	cmd.Flags().StringVar(&sub.Version, "version", "", "Source version (defaults to the mapping's data version)")
	cmd.Flags().StringVar(&sub.Alias, "alias", "", "Short alias for the source")
	return cmd
}

func newBatchProcessCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "process [batch-id]",
		Short: "Process one pending batch, or all of them with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass a batch id or --all")
			}
			svc, err := ctx.ensureService(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if all {
				cfg, _ := ctx.ensureConfig()
				m := worker.NewManager(svc, 1, time.Duration(cfg.Workflow.PollInterval)*time.Second, ctx.logger)
				completed, failed, err := m.Drain(cmd.Context())
				fmt.Fprintf(out, "Processed %d batches (%d completed, %d failed)\n", completed+failed, completed, failed)
				if err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d batches failed; inspect them with pyxis batch status", failed)
				}
				return nil
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := svc.Process(cmd.Context(), id); err != nil {
				return fmt.Errorf("batch %d failed: %w", id, err)
			}
			fmt.Fprintf(out, "Batch %d completed\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Process every pending batch")
	return cmd
}

func newBatchStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show a batch with its diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.ensureService(cmd.Context())
			if err != nil {
				return err
			}
			status, err := svc.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			view := batchStatusView{
				batchView:    newBatchView(status.Batch),
				Observations: status.Observations,
				Diagnostics:  make([]diagnosticView, 0, len(status.Diagnostics)),
			}
			for _, d := range status.Diagnostics {
				view.Diagnostics = append(view.Diagnostics, diagnosticView{Row: d.Row, Kind: d.Kind, Attribute: d.Attribute, Message: d.Message})
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch %d: %s\n", view.ID, view.Status)
			fmt.Fprintf(out, "File: %s\n", view.FileName)
			if view.Source != "" {
				fmt.Fprintf(out, "Source: %s %s\n", view.Source, view.Version)
			}
			fmt.Fprintf(out, "Rows: %d  Observations: %d  Identities touched: %d\n", view.Rows, view.Observations, view.Touched)
			if view.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", view.Error)
			}
			if len(view.Diagnostics) > 0 {
				rows := make([][]string, 0, len(view.Diagnostics))
				for _, d := range view.Diagnostics {
					row := ""
					if d.Row > 0 {
						row = strconv.Itoa(d.Row)
					}
					rows = append(rows, []string{row, d.Kind, d.Attribute, d.Message})
				}
				fmt.Fprintln(out, renderTable(out, []string{"Row", "Kind", "Attribute", "Message"}, rows, []columnAlignment{alignRight}))
			}
			return nil
		},
	}
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest last",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]registry.Status, 0, len(statusFlags))
			for _, value := range statusFlags {
				s, err := registry.ParseStatus(value)
				if err != nil {
					return err
				}
				statuses = append(statuses, s)
			}
			store, err := ctx.ensureStore(cmd.Context())
			if err != nil {
				return err
			}
			batches, err := store.ListBatches(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			views := make([]batchView, 0, len(batches))
			for _, b := range batches {
				views = append(views, newBatchView(b))
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No batches")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{
					strconv.FormatInt(v.ID, 10),
					string(v.Status),
					v.FileName,
					strconv.Itoa(v.Rows),
					strconv.Itoa(v.Touched),
					v.Created.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"ID", "Status", "File", "Rows", "Touched", "Submitted"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (pending, processing, completed, failed)")
	return cmd
}

func newBatchRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <batch-id>...",
		Short: "Return failed batches to pending",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				if _, err := store.Retry(cmd.Context(), id); err != nil {
					return fmt.Errorf("retry batch %d: %w", id, err)
				}
				fmt.Fprintf(out, "Batch %d returned to pending\n", id)
			}
			return nil
		},
	}
}

type batchView struct {
	ID       int64           `json:"id"`
	Status   registry.Status `json:"status"`
	FileName string          `json:"file_name"`
	Source   string          `json:"source,omitempty"`
	Version  string          `json:"version,omitempty"`
	Rows     int             `json:"rows"`
	Touched  int             `json:"touched_identities"`
	Error    string          `json:"error,omitempty"`
	Created  time.Time       `json:"created_at"`
	Finished *time.Time      `json:"finished_at,omitempty"`
}

type diagnosticView struct {
	Row       int    `json:"row,omitempty"`
	Kind      string `json:"kind"`
	Attribute string `json:"attribute,omitempty"`
	Message   string `json:"message"`
}

type batchStatusView struct {
	batchView
	Observations int              `json:"observations"`
	Diagnostics  []diagnosticView `json:"diagnostics"`
}

func newBatchView(b *registry.Batch) batchView {
	return batchView{
		ID:       b.ID,
		Status:   b.Status,
		FileName: b.FileName,
		Source:   b.SourceName,
		Version:  b.Version,
		Rows:     b.Rows,
		Touched:  b.TouchedIdentities,
		Error:    b.ErrorMessage,
		Created:  b.CreatedAt,
		Finished: b.FinishedAt,
	}
}

func batchIDs(batches []*registry.Batch) []int64 {
	ids := make([]int64, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	return ids
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}
