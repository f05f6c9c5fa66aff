// Package report renders pipeline run records: structured JSON for archival
// and a human-readable summary for terminals.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jholloway/pipewright/internal/run"
)

// JSON renders a run record as indented JSON.
func JSON(rec *run.Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal run record: %w", err)
	}
	return append(data, '\n'), nil
}

// Summary writes a human-readable report for a run: overall status and
// duration, a per-stage table, and detail for the first failed step.
func Summary(w io.Writer, rec *run.Record) {
	status := rec.Status
	if rec.Degraded {
		status += " (degraded)"
	}
	fmt.Fprintf(w, "Run %s: %s\n", rec.ID, rec.Pipeline)
	fmt.Fprintf(w, "  Status:   %s\n", status)
	fmt.Fprintf(w, "  Started:  %s\n", rec.StartedAt)
	if rec.FinishedAt != "" {
		fmt.Fprintf(w, "  Finished: %s\n", rec.FinishedAt)
		if d, ok := duration(rec); ok {
			fmt.Fprintf(w, "  Duration: %s\n", d)
		}
	}

	if len(rec.Stages) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %-20s %-10s %-8s %s\n", "STAGE", "STATUS", "STEPS", "DURATION")
		for _, sr := range rec.Stages {
			fmt.Fprintf(w, "  %-20s %-10s %-8s %s\n",
				sr.Name, sr.Status, stepTally(sr), formatMs(sr.DurationMs))
		}
	}

	if name, step := firstFailure(rec); step != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Failed step: %s/%s (%s, exit %d, %d attempts)\n",
			name, step.Name, step.Status, step.ExitCode, step.Attempts)
		if out := tail(step.Output, 20); out != "" {
			fmt.Fprintf(w, "%s\n", indent(out, "    "))
		}
	}

	for _, sr := range rec.Stages {
		if sr.Reason != "" && sr.Status == run.StageFailed {
			fmt.Fprintf(w, "  Stage %s failed: %s\n", sr.Name, sr.Reason)
		}
	}
}

// firstFailure returns the first failed or timed-out step in the record.
func firstFailure(rec *run.Record) (string, *run.StepResult) {
	for i := range rec.Stages {
		sr := &rec.Stages[i]
		for j := range sr.Steps {
			switch sr.Steps[j].Status {
			case run.StepFailure, run.StepTimedOut:
				return sr.Name, &sr.Steps[j]
			}
		}
	}
	return "", nil
}

func stepTally(sr run.StageResult) string {
	if len(sr.Steps) == 0 {
		return "-"
	}
	ok := 0
	for _, st := range sr.Steps {
		if st.Status == run.StepSuccess {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d", ok, len(sr.Steps))
}

func duration(rec *run.Record) (time.Duration, bool) {
	start, err1 := time.Parse(time.RFC3339, rec.StartedAt)
	end, err2 := time.Parse(time.RFC3339, rec.FinishedAt)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return end.Sub(start), true
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

// tail returns the last maxLines lines of input.
func tail(input string, maxLines int) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(input, "\n"), "\n")
	if len(lines) <= maxLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}
