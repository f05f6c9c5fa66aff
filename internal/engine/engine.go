// Package engine walks a pipeline DAG, dispatching stages to the stage
// runner in dependency order and aggregating results into a run record.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jholloway/pipewright/internal/artifact"
	"github.com/jholloway/pipewright/internal/dag"
	"github.com/jholloway/pipewright/internal/events"
	"github.com/jholloway/pipewright/internal/executor"
	"github.com/jholloway/pipewright/internal/report"
	"github.com/jholloway/pipewright/internal/run"
	"github.com/jholloway/pipewright/internal/stage"
	"github.com/jholloway/pipewright/internal/tools"
)

// Engine executes pipeline runs.
type Engine struct {
	store    *run.Store
	exec     *executor.Executor
	registry *tools.Registry
	log      *events.Log // nil disables event logging
	baseEnv  []string    // defaults to os.Environ()
	progress io.Writer   // live progress output; nil = silent
}

// New creates an Engine. log may be nil.
func New(store *run.Store, exec *executor.Executor, registry *tools.Registry, log *events.Log) *Engine {
	return &Engine{
		store:    store,
		exec:     exec,
		registry: registry,
		log:      log,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// SetBaseEnv overrides the base process environment (for testing).
func (e *Engine) SetBaseEnv(env []string) {
	e.baseEnv = env
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// event appends to the audit log, best effort.
func (e *Engine) event(runID, event, stageName, detail string) {
	if e.log != nil {
		_ = e.log.LogRunEvent(runID, event, stageName, detail)
	}
}

// Run validates the DAG and, if valid, executes it to completion. Validation
// failures are rejected before any stage runs and produce no run record.
//
// Stages with no dependency edge between them run concurrently; a stage
// starts only once every stage it needs has succeeded. When an abort-policy
// stage fails, no further stages start, in-flight stages run to completion,
// and every stage that never started is recorded as aborted. Failures in
// continue-policy stages mark the run degraded without stopping it.
//
// Cancelling ctx terminates in-flight steps and aborts the run. The returned
// record is always complete: results for finished stages are preserved.
func (e *Engine) Run(ctx context.Context, cfg *dag.Config) (*run.Record, error) {
	if probs := dag.Validate(cfg, e.registry.Known()); len(probs) > 0 {
		return nil, dag.AsError(probs)
	}

	p := cfg.Pipeline
	workdir := p.Workdir
	if workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine workdir: %w", err)
		}
		workdir = wd
	}

	rec, err := e.store.Create(p.Name, workdir)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	e.logf("run %s: pipeline %q (%d stages)", rec.ID, p.Name, len(p.Stages))
	e.event(rec.ID, "created", "", p.Name)

	artifacts, err := artifact.NewStore(e.store.ArtifactDir(rec.ID))
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	runner := stage.NewRunner(e.exec, e.registry, artifacts)

	baseEnv := e.baseEnv
	if baseEnv == nil {
		baseEnv = os.Environ()
	}
	baseEnv = executor.MergeEnv(baseEnv, p.Env)

	if _, err := e.store.Update(rec.ID, func(r *run.Record) {
		r.Status = run.StatusRunning
	}); err != nil {
		return nil, err
	}
	e.event(rec.ID, "started", "", "")

	halted := e.schedule(ctx, rec.ID, p, runner, workdir, baseEnv)

	final, err := e.finalize(ctx, rec.ID, p, halted)
	if err != nil {
		return nil, err
	}
	return final, nil
}

// doneMsg carries a finished stage result back to the scheduler.
type doneMsg struct {
	name   string
	result run.StageResult
}

// schedule runs the ready-set loop until no stage is running and none can
// start. It returns true if scheduling was halted by an abort-policy failure.
func (e *Engine) schedule(ctx context.Context, runID string, p dag.Pipeline, runner *stage.Runner, workdir string, baseEnv []string) bool {
	statuses := make(map[string]string, len(p.Stages))
	results := make(chan doneMsg)
	var g errgroup.Group
	halted := false
	running := 0

	ready := func(s dag.Stage) bool {
		for _, need := range s.Needs {
			if statuses[need] != run.StageSucceeded {
				return false
			}
		}
		return true
	}

	start := func() {
		if halted || ctx.Err() != nil {
			return
		}
		for i := range p.Stages {
			s := p.Stages[i]
			if statuses[s.Name] != "" || !ready(s) {
				continue
			}
			statuses[s.Name] = "running"
			running++
			e.logf("stage %s: starting (%d steps)", s.Name, len(s.Steps))
			e.event(runID, "stage_started", s.Name, "")

			g.Go(func() error {
				results <- doneMsg{name: s.Name, result: runner.Run(ctx, stage.Opts{
					Stage:   s,
					Workdir: workdir,
					BaseEnv: baseEnv,
				})}
				return nil
			})
		}
	}

	start()
	for running > 0 {
		msg := <-results
		running--
		statuses[msg.name] = msg.result.Status
		e.recordStage(runID, msg.result)

		if msg.result.Status == run.StageFailed && msg.result.Policy == dag.PolicyAbort {
			halted = true
			e.logf("stage %s failed with abort policy, no further stages will start", msg.name)
		}
		start()
	}
	_ = g.Wait()
	return halted
}

// recordStage appends a stage result to the run record and mirrors it into
// the audit log, including every step attempt.
func (e *Engine) recordStage(runID string, result run.StageResult) {
	e.logf("stage %s: %s (%dms)", result.Name, result.Status, result.DurationMs)
	if _, err := e.store.Update(runID, func(r *run.Record) {
		r.Stages = append(r.Stages, result)
	}); err != nil {
		e.logf("warning: record stage %s: %v", result.Name, err)
	}
	e.event(runID, "stage_finished", result.Name, result.Status)

	if e.log == nil {
		return
	}
	for _, step := range result.Steps {
		for i, attempt := range step.Retries {
			_ = e.log.LogStepRun(runID, result.Name, step.Name, i+1,
				attempt.Status, attempt.ExitCode, attempt.DurationMs)
		}
		if step.Attempts > 0 {
			_ = e.log.LogStepRun(runID, result.Name, step.Name, step.Attempts,
				step.Status, step.ExitCode, step.DurationMs)
		}
	}
}

// finalize records results for stages that never started and settles the
// run's terminal status.
func (e *Engine) finalize(ctx context.Context, runID string, p dag.Pipeline, halted bool) (*run.Record, error) {
	cancelled := ctx.Err() != nil

	rec, err := e.store.Update(runID, func(r *run.Record) {
		for _, s := range p.Stages {
			if r.Stage(s.Name) != nil {
				continue
			}
			sr := run.StageResult{Name: s.Name, Policy: s.Policy}
			switch {
			case cancelled:
				sr.Status = run.StageAborted
				sr.Reason = "run cancelled"
			case halted:
				sr.Status = run.StageAborted
				sr.Reason = "pipeline aborted by earlier stage failure"
			default:
				sr.Status = run.StageSkipped
				sr.Reason = "dependency did not succeed"
			}
			r.Stages = append(r.Stages, sr)
		}

		degraded := false
		for _, sr := range r.Stages {
			if sr.Failed() && sr.Policy == dag.PolicyContinue {
				degraded = true
			}
		}

		switch {
		case cancelled:
			r.Status = run.StatusAborted
		case halted:
			r.Status = run.StatusFailed
		default:
			r.Status = run.StatusSucceeded
			r.Degraded = degraded
		}
		r.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	})
	if err != nil {
		return nil, err
	}

	e.event(runID, rec.Status, "", "")
	e.logf("run %s: %s", runID, rec.Status)

	if data, err := report.JSON(rec); err == nil {
		if err := e.store.SaveReport(runID, data); err != nil {
			e.logf("warning: save report: %v", err)
		}
	}
	return rec, nil
}
