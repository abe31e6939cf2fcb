package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"capflow/internal/catalog"
	"capflow/internal/config"
)

func newStatusCommand(configFlag *string) *cobra.Command {
	var asJSON bool
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the catalog of processed capture files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return err
			}
			if !cfg.Catalog.Enabled {
				return fmt.Errorf("the catalog is disabled in the configuration")
			}
			store, err := catalog.Open(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var filter []catalog.Status
			if statusFilter != "" {
				status := catalog.Status(statusFilter)
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
				filter = append(filter, status)
			}
			items, err := store.List(ctx, filter...)
			if err != nil {
				return err
			}
			summary, err := store.Summarize(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(statusReport{Summary: summary, Items: items})
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					item.Base,
					item.Status.Label(),
					fmt.Sprintf("%d/%d", item.ChunksUploaded, item.ChunksTotal),
					item.UpdatedAt.Format(time.RFC3339),
					item.ErrorMessage,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Base", "Status", "Chunks", "Updated", "Error"},
				rows,
				0, 3,
			))
			fmt.Fprintf(out, "Total %d, pending %d, processing %d, completed %d, failed %d\n",
				summary.Total, summary.Pending, summary.Processing, summary.Completed, summary.Failed)
			if !stdoutIsTerminal() {
				return nil
			}
			if summary.Failed > 0 {
				fmt.Fprintf(out, "\x1b[33mRun with --status failed to inspect failures\x1b[0m\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable output")
	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter rows by status")
	return cmd
}

type statusReport struct {
	Summary catalog.Summary `json:"summary"`
	Items   []*catalog.Item `json:"items"`
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
