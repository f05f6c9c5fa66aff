package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholloway/pipewright/internal/report"
	"github.com/jholloway/pipewright/internal/run"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the last known state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := run.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		rec, err := store.Get(args[0])
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			data, err := report.JSON(rec)
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(data)
			return nil
		}

		report.Summary(cmd.OutOrStdout(), rec)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print the structured run report")
}
