// Package analytics computes performance and reliability statistics over
// the audit log: stage durations, step failure rates, and run throughput.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a stage across recorded runs.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// QueryStageDurations returns average and percentile step durations per
// stage, computed from successful final attempts. since filters on the row
// timestamp ("" = all time).
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT stage, duration_ms
		FROM step_runs
		WHERE status = 'success' AND duration_ms IS NOT NULL`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var ms sql.NullInt64
		if err := rows.Scan(&stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if ms.Valid {
			durations[stage] = append(durations[stage], float64(ms.Int64))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, ds := range durations {
		sort.Float64s(ds)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(ds),
			AvgMs: avg(ds),
			P50Ms: percentile(ds, 50),
			P95Ms: percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// StepReliability holds failure and retry stats for one step.
type StepReliability struct {
	Stage     string  `json:"stage"`
	Step      string  `json:"step"`
	Total     int     `json:"total"`
	Failures  int     `json:"failures"`
	Timeouts  int     `json:"timeouts"`
	Retried   int     `json:"retried"`
	FailRate  float64 `json:"fail_rate_pct"`
	RetryRate float64 `json:"retry_rate_pct"`
}

// QueryStepReliability returns per-step attempt counts, failure rates, and
// how often a step needed more than one attempt. Steps with the most
// failures sort first.
func QueryStepReliability(database DB, since string) ([]StepReliability, error) {
	query := `
		SELECT stage, step,
			COUNT(*) as total,
			SUM(CASE WHEN status = 'failure' THEN 1 ELSE 0 END) as failures,
			SUM(CASE WHEN status = 'timed_out' THEN 1 ELSE 0 END) as timeouts,
			SUM(CASE WHEN attempt > 1 THEN 1 ELSE 0 END) as retried
		FROM step_runs`

	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage, step ORDER BY failures + timeouts DESC, stage, step`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query step reliability: %w", err)
	}
	defer rows.Close()

	var results []StepReliability
	for rows.Next() {
		var r StepReliability
		if err := rows.Scan(&r.Stage, &r.Step, &r.Total, &r.Failures, &r.Timeouts, &r.Retried); err != nil {
			return nil, fmt.Errorf("scan step reliability: %w", err)
		}
		r.FailRate = pct(r.Failures+r.Timeouts, r.Total)
		r.RetryRate = pct(r.Retried, r.Total)
		results = append(results, r)
	}
	return results, rows.Err()
}

// RunThroughput holds run counts for one calendar week.
type RunThroughput struct {
	Period    string `json:"period"`
	Started   int    `json:"started"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Aborted   int    `json:"aborted"`
}

// QueryRunThroughput returns run outcome counts grouped by week, most
// recent first, capped at ten weeks.
func QueryRunThroughput(database DB, since string) ([]RunThroughput, error) {
	query := `
		SELECT
			strftime('%Y-W%W', timestamp) as period,
			SUM(CASE WHEN event = 'started' THEN 1 ELSE 0 END) as started,
			SUM(CASE WHEN event = 'succeeded' THEN 1 ELSE 0 END) as succeeded,
			SUM(CASE WHEN event = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN event = 'aborted' THEN 1 ELSE 0 END) as aborted
		FROM run_events
		WHERE event IN ('started', 'succeeded', 'failed', 'aborted')`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query run throughput: %w", err)
	}
	defer rows.Close()

	var results []RunThroughput
	for rows.Next() {
		var rt RunThroughput
		if err := rows.Scan(&rt.Period, &rt.Started, &rt.Succeeded, &rt.Failed, &rt.Aborted); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		results = append(results, rt)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
