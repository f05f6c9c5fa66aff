package analytics

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jholloway/pipewright/internal/events"
)

func testLog(t *testing.T) *events.Log {
	t.Helper()
	log, err := events.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	if err := log.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return log
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func insertStep(t *testing.T, conn *sql.DB, stage, step string, attempt int, status string, durationMs int64) {
	t.Helper()
	exec(t, conn,
		`INSERT INTO step_runs (run_id, stage, step, attempt, status, exit_code, duration_ms) VALUES ('r1', ?, ?, ?, ?, 0, ?)`,
		stage, step, attempt, status, durationMs)
}

func TestQueryStageDurations(t *testing.T) {
	log := testLog(t)
	c := log.Conn()

	insertStep(t, c, "build", "compile", 1, "success", 1000)
	insertStep(t, c, "build", "compile", 1, "success", 3000)
	insertStep(t, c, "scan", "trivy", 1, "success", 500)
	// Failures are excluded from duration stats.
	insertStep(t, c, "build", "compile", 1, "failure", 99999)

	results, err := QueryStageDurations(log, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(results))
	}

	build := results[0]
	if build.Stage != "build" {
		t.Fatalf("expected build first (sorted), got %q", build.Stage)
	}
	if build.Count != 2 {
		t.Errorf("build count = %d, want 2", build.Count)
	}
	if build.AvgMs != 2000 {
		t.Errorf("build avg = %v, want 2000", build.AvgMs)
	}
	if build.P50Ms != 2000 {
		t.Errorf("build p50 = %v, want 2000", build.P50Ms)
	}
	if build.P95Ms != 2900 {
		t.Errorf("build p95 = %v, want 2900", build.P95Ms)
	}

	if results[1].Stage != "scan" || results[1].Count != 1 {
		t.Errorf("unexpected scan result: %+v", results[1])
	}
}

func TestQueryStageDurationsEmpty(t *testing.T) {
	log := testLog(t)
	results, err := QueryStageDurations(log, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}
}

func TestQueryStepReliability(t *testing.T) {
	log := testLog(t)
	c := log.Conn()

	// compile: failed once, retried, then succeeded.
	insertStep(t, c, "build", "compile", 1, "failure", 1000)
	insertStep(t, c, "build", "compile", 2, "success", 900)
	// trivy: timed out once out of two runs.
	insertStep(t, c, "scan", "trivy", 1, "timed_out", 60000)
	insertStep(t, c, "scan", "trivy", 1, "success", 4000)

	results, err := QueryStepReliability(log, "")
	if err != nil {
		t.Fatalf("QueryStepReliability: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(results))
	}

	byStep := make(map[string]StepReliability)
	for _, r := range results {
		byStep[r.Step] = r
	}

	compile := byStep["compile"]
	if compile.Total != 2 || compile.Failures != 1 || compile.Retried != 1 {
		t.Errorf("unexpected compile stats: %+v", compile)
	}
	if compile.FailRate != 50 || compile.RetryRate != 50 {
		t.Errorf("unexpected compile rates: %+v", compile)
	}

	trivy := byStep["trivy"]
	if trivy.Timeouts != 1 || trivy.FailRate != 50 {
		t.Errorf("unexpected trivy stats: %+v", trivy)
	}
}

func TestQueryRunThroughput(t *testing.T) {
	log := testLog(t)
	c := log.Conn()

	events := []struct{ event, ts string }{
		{"started", "2026-08-03 10:00:00"},
		{"succeeded", "2026-08-03 10:05:00"},
		{"started", "2026-08-04 10:00:00"},
		{"failed", "2026-08-04 10:05:00"},
		{"started", "2026-08-20 10:00:00"},
		{"aborted", "2026-08-20 10:01:00"},
	}
	for _, e := range events {
		exec(t, c, `INSERT INTO run_events (run_id, event, timestamp) VALUES ('r', ?, ?)`, e.event, e.ts)
	}

	results, err := QueryRunThroughput(log, "")
	if err != nil {
		t.Fatalf("QueryRunThroughput: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(results))
	}

	// Most recent week first.
	recent := results[0]
	if recent.Started != 1 || recent.Aborted != 1 {
		t.Errorf("unexpected recent week: %+v", recent)
	}
	earlier := results[1]
	if earlier.Started != 2 || earlier.Succeeded != 1 || earlier.Failed != 1 {
		t.Errorf("unexpected earlier week: %+v", earlier)
	}
}

func TestQueryRunThroughputSince(t *testing.T) {
	log := testLog(t)
	c := log.Conn()
	exec(t, c, `INSERT INTO run_events (run_id, event, timestamp) VALUES ('r', 'started', '2026-01-01 10:00:00')`)
	exec(t, c, `INSERT INTO run_events (run_id, event, timestamp) VALUES ('r', 'started', '2026-08-01 10:00:00')`)

	results, err := QueryRunThroughput(log, "2026-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected only recent period, got %+v", results)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{100, 200, 300, 400}
	if got := percentile(sorted, 50); got != 250 {
		t.Errorf("p50 = %v, want 250", got)
	}
	if got := percentile(sorted, 100); got != 400 {
		t.Errorf("p100 = %v, want 400", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("p50 of empty = %v, want 0", got)
	}
}
