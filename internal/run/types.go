package run

// Run statuses. A record is immutable once it reaches a terminal status.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Stage statuses.
const (
	StageSucceeded = "succeeded"
	StageFailed    = "failed"
	StageSkipped   = "skipped"
	StageAborted   = "aborted"
)

// Step statuses.
const (
	StepSuccess  = "success"
	StepFailure  = "failure"
	StepTimedOut = "timed_out"
	StepSkipped  = "skipped"
	StepAborted  = "aborted"
)

// Record is the top-level persisted state for a single pipeline run.
type Record struct {
	ID         string        `json:"id"`
	Pipeline   string        `json:"pipeline"`
	Workdir    string        `json:"workdir"`
	Status     string        `json:"status"`
	Degraded   bool          `json:"degraded,omitempty"`
	Stages     []StageResult `json:"stages"`
	StartedAt  string        `json:"started_at"`
	FinishedAt string        `json:"finished_at,omitempty"`
}

// StageResult records the outcome of one stage within a run.
type StageResult struct {
	Name       string       `json:"name"`
	Policy     string       `json:"policy"`
	Status     string       `json:"status"`
	Steps      []StepResult `json:"steps,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	StartedAt  string       `json:"started_at,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// StepResult captures the outcome of a single step. When a step was retried,
// the top-level fields reflect the final attempt and Retries holds the earlier
// failed attempts in order.
type StepResult struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output,omitempty"`
	Truncated  bool      `json:"truncated,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	Retries    []Attempt `json:"retries,omitempty"`
}

// Attempt records a single failed execution attempt of a retried step.
type Attempt struct {
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Terminal reports whether the record has reached a terminal status.
func (r *Record) Terminal() bool {
	switch r.Status {
	case StatusSucceeded, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// Stage returns the result for the named stage, or nil if not recorded.
func (r *Record) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Failed reports whether the stage counts as failed for policy purposes.
func (sr *StageResult) Failed() bool {
	return sr.Status == StageFailed
}
