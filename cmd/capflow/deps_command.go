package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"capflow/internal/config"
	"capflow/internal/deps"
)

func newDepsCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check availability of required external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return err
			}

			results := deps.CheckBinaries(deps.ForConfig(cfg))
			rows := make([][]string, 0, len(results))
			missing := 0
			for _, status := range results {
				state := "ok"
				if !status.Available {
					state = status.Detail
					if !status.Optional {
						missing++
					}
				}
				rows = append(rows, []string{status.Name, status.Command, state})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Dependency", "Command", "Status"},
				rows,
			))
			if missing > 0 {
				return fmt.Errorf("%d required dependency missing", missing)
			}
			return nil
		},
	}
}
