package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholloway/pipewright/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query pipeline performance statistics from the audit log",
}

var statsStagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Average and percentile step durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openEventLog()
		if err != nil {
			return err
		}
		defer log.Close()

		since, _ := cmd.Flags().GetString("since")
		results, err := analytics.QueryStageDurations(log, since)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(cmd, results)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-8s %-10s %-10s %s\n", "STAGE", "COUNT", "AVG", "P50", "P95")
		for _, r := range results {
			fmt.Fprintf(w, "%-20s %-8d %-10.0f %-10.0f %.0f\n", r.Stage, r.Count, r.AvgMs, r.P50Ms, r.P95Ms)
		}
		return nil
	},
}

var statsStepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Failure and retry rates per step",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openEventLog()
		if err != nil {
			return err
		}
		defer log.Close()

		since, _ := cmd.Flags().GetString("since")
		results, err := analytics.QueryStepReliability(log, since)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(cmd, results)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-20s %-8s %-10s %s\n", "STAGE", "STEP", "TOTAL", "FAIL%", "RETRY%")
		for _, r := range results {
			fmt.Fprintf(w, "%-20s %-20s %-8d %-10.1f %.1f\n", r.Stage, r.Step, r.Total, r.FailRate, r.RetryRate)
		}
		return nil
	},
}

var statsThroughputCmd = &cobra.Command{
	Use:   "throughput",
	Short: "Run outcomes per week",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openEventLog()
		if err != nil {
			return err
		}
		defer log.Close()

		since, _ := cmd.Flags().GetString("since")
		results, err := analytics.QueryRunThroughput(log, since)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			return printJSON(cmd, results)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-12s %-10s %-12s %-10s %s\n", "WEEK", "STARTED", "SUCCEEDED", "FAILED", "ABORTED")
		for _, r := range results {
			fmt.Fprintf(w, "%-12s %-10d %-12d %-10d %d\n", r.Period, r.Started, r.Succeeded, r.Failed, r.Aborted)
		}
		return nil
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	statsCmd.PersistentFlags().String("since", "", "Only include rows at or after this timestamp (YYYY-MM-DD)")
	statsCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	statsCmd.AddCommand(statsStagesCmd)
	statsCmd.AddCommand(statsStepsCmd)
	statsCmd.AddCommand(statsThroughputCmd)
}
