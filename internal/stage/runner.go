// Package stage executes a single stage: its steps strictly in declared
// order, input resolution before the first step, and output publication
// after the last.
package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jholloway/pipewright/internal/artifact"
	"github.com/jholloway/pipewright/internal/dag"
	"github.com/jholloway/pipewright/internal/executor"
	"github.com/jholloway/pipewright/internal/run"
	"github.com/jholloway/pipewright/internal/tools"
)

// Runner executes stage definitions against an executor and artifact store.
type Runner struct {
	exec      *executor.Executor
	registry  *tools.Registry
	artifacts *artifact.Store
}

// NewRunner creates a stage runner.
func NewRunner(exec *executor.Executor, registry *tools.Registry, artifacts *artifact.Store) *Runner {
	return &Runner{exec: exec, registry: registry, artifacts: artifacts}
}

// Opts configures one stage run.
type Opts struct {
	Stage          dag.Stage
	Workdir        string
	BaseEnv        []string // process env + pipeline env, already merged
	DefaultTimeout time.Duration
}

// Run executes the stage's steps in declared order, never reordered. A
// blocking step failure marks the remaining steps skipped and the stage
// failed; steps flagged continue_on_error never block. On success the
// stage's declared outputs are published.
func (r *Runner) Run(ctx context.Context, opts Opts) run.StageResult {
	start := time.Now()
	result := run.StageResult{
		Name:      opts.Stage.Name,
		Policy:    opts.Stage.Policy,
		StartedAt: start.UTC().Format(time.RFC3339),
	}

	inputEnv, err := r.resolveInputs(opts.Stage)
	if err != nil {
		// Unmet dependency: the stage fails without executing any step.
		result.Status = run.StageFailed
		result.Reason = err.Error()
		result.Steps = skipAll(opts.Stage.Steps)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	blocked := false
	aborted := false
	for _, st := range opts.Stage.Steps {
		if aborted || ctx.Err() != nil {
			aborted = true
			result.Steps = append(result.Steps, run.StepResult{Name: st.Name, Status: run.StepAborted})
			continue
		}
		if blocked {
			result.Steps = append(result.Steps, run.StepResult{Name: st.Name, Status: run.StepSkipped})
			continue
		}

		spec, err := r.buildSpec(st, opts, inputEnv)
		if err != nil {
			// Should have been rejected by validation; treat as a failed step.
			result.Steps = append(result.Steps, run.StepResult{
				Name:   st.Name,
				Status: run.StepFailure,
				Output: err.Error(),
			})
			blocked = true
			continue
		}

		stepResult := r.exec.Execute(ctx, spec)
		result.Steps = append(result.Steps, stepResult)

		switch stepResult.Status {
		case run.StepSuccess:
		case run.StepAborted:
			aborted = true
		default:
			// Failure and TimedOut both count as failed for policy purposes.
			if !st.ContinueOnError {
				blocked = true
			}
		}
	}

	switch {
	case aborted:
		result.Status = run.StageAborted
	case blocked:
		result.Status = run.StageFailed
	default:
		result.Status = run.StageSucceeded
	}

	if result.Status == run.StageSucceeded {
		if err := r.publishOutputs(opts.Stage, opts.Workdir); err != nil {
			result.Status = run.StageFailed
			result.Reason = err.Error()
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// resolveInputs fetches the stage's declared artifact inputs and binds their
// content into an environment overlay.
func (r *Runner) resolveInputs(s dag.Stage) (map[string]string, error) {
	if len(s.Inputs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(s.Inputs))
	for _, in := range s.Inputs {
		content, err := r.artifacts.Content(in.Name)
		if err != nil {
			return nil, fmt.Errorf("unmet input: %w", err)
		}
		env[in.Env] = strings.TrimSpace(string(content))
	}
	return env, nil
}

// buildSpec resolves a step definition into an executable Spec.
func (r *Runner) buildSpec(st dag.Step, opts Opts, inputEnv map[string]string) (executor.Spec, error) {
	var argv []string
	if st.Tool != "" {
		resolved, err := r.registry.Resolve(st.Tool, st.Args)
		if err != nil {
			return executor.Spec{}, err
		}
		argv = resolved
	} else {
		if st.Command == "" {
			return executor.Spec{}, fmt.Errorf("step %q has no command", st.Name)
		}
		argv = executor.ShellArgv(st.Command)
	}

	timeout := opts.DefaultTimeout
	if st.Timeout != "" {
		d, err := time.ParseDuration(st.Timeout)
		if err != nil {
			return executor.Spec{}, fmt.Errorf("step %q: invalid timeout: %w", st.Name, err)
		}
		timeout = d
	}

	return executor.Spec{
		Name:    st.Name,
		Argv:    argv,
		Dir:     opts.Workdir,
		Env:     executor.MergeEnv(opts.BaseEnv, inputEnv, st.Env),
		Timeout: timeout,
		Retries: st.RetryCount(),
	}, nil
}

// publishOutputs reads each declared output file from the workdir and
// publishes it to the artifact store. A missing output file fails the stage.
func (r *Runner) publishOutputs(s dag.Stage, workdir string) error {
	for _, out := range s.Outputs {
		path := out.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(workdir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("declared output %q: %w", out.Name, err)
		}
		if _, err := r.artifacts.Publish(s.Name, out.Name, content, out.Retain); err != nil {
			return err
		}
	}
	return nil
}

func skipAll(steps []dag.Step) []run.StepResult {
	out := make([]run.StepResult, len(steps))
	for i, st := range steps {
		out[i] = run.StepResult{Name: st.Name, Status: run.StepSkipped}
	}
	return out
}
