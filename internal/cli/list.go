package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholloway/pipewright/internal/run"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := run.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		statusFilter, _ := cmd.Flags().GetString("status")
		runs, err := store.List(statusFilter)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-18s %-20s %-12s %-8s %s\n", "RUN", "PIPELINE", "STATUS", "STAGES", "STARTED")
		fmt.Fprintf(w, "%-18s %-20s %-12s %-8s %s\n",
			strings.Repeat("-", 18),
			strings.Repeat("-", 20),
			strings.Repeat("-", 12),
			strings.Repeat("-", 8),
			strings.Repeat("-", 7))
		for _, r := range runs {
			status := r.Status
			if r.Degraded {
				status += "*"
			}
			fmt.Fprintf(w, "%-18s %-20s %-12s %-8d %s\n",
				r.ID, r.Pipeline, status, len(r.Stages), r.StartedAt)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", "", "Filter by status (pending, running, succeeded, failed, aborted)")
}
