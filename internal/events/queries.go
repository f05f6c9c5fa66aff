package events

import (
	"database/sql"
	"fmt"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int    `json:"id"`
	RunID     string `json:"run_id"`
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StepRun represents a row in the step_runs table: one executed step attempt.
type StepRun struct {
	ID         int    `json:"id"`
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Step       string `json:"step"`
	Attempt    int    `json:"attempt"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// LogRunEvent inserts a run lifecycle event.
func (l *Log) LogRunEvent(runID, event, stage, detail string) error {
	_, err := l.conn.Exec(
		`INSERT INTO run_events (run_id, event, stage, detail) VALUES (?, ?, ?, ?)`,
		runID, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// LogStepRun inserts one step execution attempt.
func (l *Log) LogStepRun(runID, stage, step string, attempt int, status string, exitCode int, durationMs int64) error {
	_, err := l.conn.Exec(
		`INSERT INTO step_runs (run_id, stage, step, attempt, status, exit_code, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, stage, step, attempt, status, exitCode, durationMs,
	)
	if err != nil {
		return fmt.Errorf("log step run: %w", err)
	}
	return nil
}

// ListRunEvents returns the events for a run, oldest first, up to limit
// (0 = no limit).
func (l *Log) ListRunEvents(runID string, limit int) ([]RunEvent, error) {
	query := `SELECT id, run_id, event, stage, detail, timestamp
	          FROM run_events WHERE run_id = ? ORDER BY id ASC`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &stage, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Stage = stage.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListStepRuns returns all step attempts recorded for a run, oldest first.
func (l *Log) ListStepRuns(runID string) ([]StepRun, error) {
	rows, err := l.conn.Query(
		`SELECT id, run_id, stage, step, attempt, status, exit_code, duration_ms, timestamp
		 FROM step_runs WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list step runs: %w", err)
	}
	defer rows.Close()

	var steps []StepRun
	for rows.Next() {
		var s StepRun
		var exitCode sql.NullInt64
		var durationMs sql.NullInt64
		if err := rows.Scan(&s.ID, &s.RunID, &s.Stage, &s.Step, &s.Attempt, &s.Status, &exitCode, &durationMs, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("scan step run: %w", err)
		}
		s.ExitCode = int(exitCode.Int64)
		s.DurationMs = durationMs.Int64
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
