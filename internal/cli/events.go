package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Show the audit log for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openEventLog()
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer log.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		evts, err := log.ListRunEvents(args[0], limit)
		if err != nil {
			return err
		}
		if len(evts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, e := range evts {
			line := fmt.Sprintf("%s  %-16s", e.Timestamp, e.Event)
			if e.Stage != "" {
				line += "  " + e.Stage
			}
			if e.Detail != "" {
				line += "  (" + e.Detail + ")"
			}
			fmt.Fprintln(w, line)
		}

		if showSteps, _ := cmd.Flags().GetBool("steps"); showSteps {
			steps, err := log.ListStepRuns(args[0])
			if err != nil {
				return err
			}
			if len(steps) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintf(w, "%-20s %-20s %-8s %-10s %-6s %s\n", "STAGE", "STEP", "ATTEMPT", "STATUS", "EXIT", "DURATION")
				for _, s := range steps {
					fmt.Fprintf(w, "%-20s %-20s %-8d %-10s %-6d %dms\n",
						s.Stage, s.Step, s.Attempt, s.Status, s.ExitCode, s.DurationMs)
				}
			}
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 0, "Maximum number of events to show (0 = all)")
	eventsCmd.Flags().Bool("steps", false, "Also show per-step attempt records")
}
