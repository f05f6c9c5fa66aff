// Package executor runs single pipeline steps as external commands with
// bounded output capture, timeouts, and retries.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/jholloway/pipewright/internal/run"
)

// DefaultMaxOutput bounds captured combined output per attempt. Excess is
// truncated with a marker, never silently dropped.
const DefaultMaxOutput = 1 << 20

// Spec is a fully resolved step: argv, environment, working directory, and
// execution limits. The stage runner builds Specs from step definitions.
type Spec struct {
	Name    string
	Argv    []string // Argv[0] is the program; shell steps use sh -c
	Dir     string
	Env     []string // complete merged environment, KEY=VALUE
	Timeout time.Duration
	Retries int
}

// ShellArgv wraps a shell script for execution via sh -c.
func ShellArgv(script string) []string {
	return []string{"sh", "-c", script}
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, spec Spec, maxOutput int64) (output string, truncated bool, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec. Combined stdout+stderr is
// captured into a bounded buffer; on context cancellation the process is
// killed.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, spec Spec, maxOutput int64) (string, bool, int, error) {
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	buf := &boundedBuffer{max: maxOutput}
	cmd.Stdout = buf
	cmd.Stderr = buf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return buf.String(), buf.truncated, -1, fmt.Errorf("exec: %w", err)
		}
	}
	return buf.String(), buf.truncated, exitCode, nil
}

// boundedBuffer captures up to max bytes and records whether anything past
// the limit was dropped. Write never fails so the process is not disturbed.
type boundedBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - int64(b.buf.Len())
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}

// Executor executes steps, applying timeout, retry, and output policies.
type Executor struct {
	cmd       CommandRunner
	maxOutput int64
}

// New creates an Executor with the given command runner.
func New(cmd CommandRunner) *Executor {
	return &Executor{cmd: cmd, maxOutput: DefaultMaxOutput}
}

// SetMaxOutput overrides the per-attempt output bound (for testing).
func (e *Executor) SetMaxOutput(n int64) {
	e.maxOutput = n
}

// Execute runs a step to completion. Failures never surface as errors: every
// outcome, including command-not-found and timeout, is encoded in the
// StepResult so the stage runner can apply policy uniformly.
//
// With Retries > 0 the step is re-executed up to that many additional times
// after a failure or timeout. Earlier attempts are preserved in Retries on
// the result; the top-level fields reflect the final attempt. External side
// effects may occur once per attempt, so step actions must be idempotent.
func (e *Executor) Execute(ctx context.Context, spec Spec) run.StepResult {
	result := run.StepResult{Name: spec.Name}

	for attempt := 1; attempt <= spec.Retries+1; attempt++ {
		status, exitCode, output, truncated, durationMs := e.runOnce(ctx, spec)
		result.Attempts = attempt

		result.Status = status
		result.ExitCode = exitCode
		result.Output = output
		result.Truncated = truncated
		result.DurationMs = durationMs

		if status == run.StepSuccess || status == run.StepAborted {
			break
		}
		if attempt <= spec.Retries {
			result.Retries = append(result.Retries, run.Attempt{
				Status:     status,
				ExitCode:   exitCode,
				Output:     output,
				Truncated:  truncated,
				DurationMs: durationMs,
			})
		}
		if ctx.Err() != nil {
			break // run cancelled between attempts
		}
	}
	return result
}

// runOnce performs a single attempt.
func (e *Executor) runOnce(ctx context.Context, spec Spec) (status string, exitCode int, output string, truncated bool, durationMs int64) {
	actx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, trunc, code, err := e.cmd.Run(actx, spec, e.maxOutput)
	durationMs = time.Since(start).Milliseconds()

	if trunc {
		out += fmt.Sprintf("\n[output truncated at %d bytes]", e.maxOutput)
	}

	switch {
	case ctx.Err() != nil:
		// The run itself was cancelled; the in-flight process was killed.
		return run.StepAborted, -1, out, trunc, durationMs
	case actx.Err() == context.DeadlineExceeded:
		return run.StepTimedOut, -1, out, trunc, durationMs
	case err != nil:
		// Spawn failure (e.g. command not found): a failed step, not an
		// engine error.
		if out != "" {
			out += "\n"
		}
		return run.StepFailure, code, out + err.Error(), trunc, durationMs
	case code != 0:
		return run.StepFailure, code, out, trunc, durationMs
	}
	return run.StepSuccess, 0, out, trunc, durationMs
}
