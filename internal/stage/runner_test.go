package stage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholloway/pipewright/internal/artifact"
	"github.com/jholloway/pipewright/internal/dag"
	"github.com/jholloway/pipewright/internal/executor"
	"github.com/jholloway/pipewright/internal/run"
	"github.com/jholloway/pipewright/internal/tools"
)

// mockRunner returns canned results keyed by step name. Steps without an
// entry succeed with exit 0.
type mockRunner struct {
	calls   []executor.Spec
	results map[string]mockResult
}

type mockResult struct {
	Output   string
	ExitCode int
}

func (m *mockRunner) Run(ctx context.Context, spec executor.Spec, maxOutput int64) (string, bool, int, error) {
	m.calls = append(m.calls, spec)
	r := m.results[spec.Name]
	return r.Output, false, r.ExitCode, nil
}

func newTestRunner(t *testing.T, mock *mockRunner) (*Runner, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewRunner(executor.New(mock), tools.NewRegistry(), store), store
}

func TestRun_StepsInOrder(t *testing.T) {
	mock := &mockRunner{}
	runner, _ := newTestRunner(t, mock)

	result := runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name: "build",
			Steps: []dag.Step{
				{Name: "deps", Command: "npm ci"},
				{Name: "compile", Command: "npm run build"},
				{Name: "unit", Command: "npm test"},
			},
		},
		Workdir: t.TempDir(),
	})

	if result.Status != run.StageSucceeded {
		t.Fatalf("expected stage succeeded, got %q", result.Status)
	}
	if len(mock.calls) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(mock.calls))
	}
	want := []string{"deps", "compile", "unit"}
	for i, name := range want {
		if mock.calls[i].Name != name {
			t.Errorf("execution %d: expected %q, got %q", i, name, mock.calls[i].Name)
		}
	}
}

func TestRun_FailureSkipsRemainingSteps(t *testing.T) {
	mock := &mockRunner{results: map[string]mockResult{
		"compile": {Output: "syntax error", ExitCode: 1},
	}}
	runner, _ := newTestRunner(t, mock)

	result := runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name: "build",
			Steps: []dag.Step{
				{Name: "deps", Command: "npm ci"},
				{Name: "compile", Command: "npm run build"},
				{Name: "unit", Command: "npm test"},
			},
		},
		Workdir: t.TempDir(),
	})

	if result.Status != run.StageFailed {
		t.Fatalf("expected stage failed, got %q", result.Status)
	}
	if len(result.Steps) != 3 {
		t.Fatalf("expected 3 step results, got %d", len(result.Steps))
	}
	if result.Steps[0].Status != run.StepSuccess {
		t.Errorf("deps: expected success, got %q", result.Steps[0].Status)
	}
	if result.Steps[1].Status != run.StepFailure {
		t.Errorf("compile: expected failure, got %q", result.Steps[1].Status)
	}
	if result.Steps[2].Status != run.StepSkipped {
		t.Errorf("unit: expected skipped, got %q", result.Steps[2].Status)
	}
	// The skipped step must never have been executed.
	if len(mock.calls) != 2 {
		t.Errorf("expected 2 executions, got %d", len(mock.calls))
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	mock := &mockRunner{results: map[string]mockResult{
		"lint": {ExitCode: 1},
	}}
	runner, _ := newTestRunner(t, mock)

	result := runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name: "verify",
			Steps: []dag.Step{
				{Name: "lint", Command: "lint", ContinueOnError: true},
				{Name: "test", Command: "test"},
			},
		},
		Workdir: t.TempDir(),
	})

	if result.Status != run.StageSucceeded {
		t.Errorf("expected stage succeeded, got %q", result.Status)
	}
	if result.Steps[0].Status != run.StepFailure {
		t.Errorf("lint: expected failure recorded, got %q", result.Steps[0].Status)
	}
	if result.Steps[1].Status != run.StepSuccess {
		t.Errorf("test: expected success, got %q", result.Steps[1].Status)
	}
}

func TestRun_UnmetInput(t *testing.T) {
	mock := &mockRunner{}
	runner, _ := newTestRunner(t, mock)

	result := runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name:   "deploy",
			Inputs: []dag.Input{{Name: "image-ref", Env: "IMAGE_REF"}},
			Steps:  []dag.Step{{Name: "apply", Command: "kubectl apply"}},
		},
		Workdir: t.TempDir(),
	})

	if result.Status != run.StageFailed {
		t.Fatalf("expected stage failed, got %q", result.Status)
	}
	if !strings.Contains(result.Reason, "unmet input") {
		t.Errorf("expected unmet input reason, got %q", result.Reason)
	}
	if len(result.Steps) != 1 || result.Steps[0].Status != run.StepSkipped {
		t.Errorf("expected all steps skipped, got %+v", result.Steps)
	}
	if len(mock.calls) != 0 {
		t.Errorf("no steps should execute, got %d calls", len(mock.calls))
	}
}

func TestRun_InputBoundIntoEnv(t *testing.T) {
	mock := &mockRunner{}
	runner, store := newTestRunner(t, mock)

	if _, err := store.Publish("build", "image-ref", []byte("reg.local/app:v3\n"), false); err != nil {
		t.Fatal(err)
	}

	runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name:   "deploy",
			Inputs: []dag.Input{{Name: "image-ref", Env: "IMAGE_REF"}},
			Steps:  []dag.Step{{Name: "apply", Command: "kubectl apply"}},
		},
		Workdir: t.TempDir(),
		BaseEnv: []string{"PATH=/usr/bin"},
	})

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(mock.calls))
	}
	env := mock.calls[0].Env
	found := false
	for _, kv := range env {
		if kv == "IMAGE_REF=reg.local/app:v3" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected IMAGE_REF in env (trimmed), got %v", env)
	}
}

func TestRun_StepEnvOverridesInput(t *testing.T) {
	mock := &mockRunner{}
	runner, store := newTestRunner(t, mock)

	if _, err := store.Publish("build", "tag", []byte("v1"), false); err != nil {
		t.Fatal(err)
	}

	runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name:   "deploy",
			Inputs: []dag.Input{{Name: "tag", Env: "TAG"}},
			Steps: []dag.Step{{
				Name:    "apply",
				Command: "deploy.sh",
				Env:     map[string]string{"TAG": "override"},
			}},
		},
		Workdir: t.TempDir(),
	})

	for _, kv := range mock.calls[0].Env {
		if kv == "TAG=override" {
			return
		}
	}
	t.Errorf("expected step env to win, got %v", mock.calls[0].Env)
}

func TestRun_PublishesOutputs(t *testing.T) {
	mock := &mockRunner{}
	runner, store := newTestRunner(t, mock)

	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "image.txt"), []byte("reg.local/app:v9"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name:    "build",
			Steps:   []dag.Step{{Name: "make", Command: "make"}},
			Outputs: []dag.Output{{Name: "image-ref", File: "image.txt"}},
		},
		Workdir: workdir,
	})

	if result.Status != run.StageSucceeded {
		t.Fatalf("expected succeeded, got %q (%s)", result.Status, result.Reason)
	}
	content, err := store.Content("image-ref")
	if err != nil {
		t.Fatalf("expected artifact published: %v", err)
	}
	if string(content) != "reg.local/app:v9" {
		t.Errorf("unexpected artifact content: %q", content)
	}
}

func TestRun_MissingOutputFailsStage(t *testing.T) {
	mock := &mockRunner{}
	runner, _ := newTestRunner(t, mock)

	result := runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name:    "build",
			Steps:   []dag.Step{{Name: "make", Command: "make"}},
			Outputs: []dag.Output{{Name: "image-ref", File: "never-written.txt"}},
		},
		Workdir: t.TempDir(),
	})

	if result.Status != run.StageFailed {
		t.Errorf("expected failed, got %q", result.Status)
	}
	if !strings.Contains(result.Reason, `declared output "image-ref"`) {
		t.Errorf("unexpected reason: %q", result.Reason)
	}
}

func TestRun_NoOutputsOnFailedStage(t *testing.T) {
	mock := &mockRunner{results: map[string]mockResult{
		"make": {ExitCode: 1},
	}}
	runner, store := newTestRunner(t, mock)

	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "image.txt"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name:    "build",
			Steps:   []dag.Step{{Name: "make", Command: "make"}},
			Outputs: []dag.Output{{Name: "image-ref", File: "image.txt"}},
		},
		Workdir: workdir,
	})

	if _, err := store.Fetch("image-ref"); err == nil {
		t.Error("failed stage must not publish outputs")
	}
}

func TestRun_ToolStep(t *testing.T) {
	mock := &mockRunner{}
	runner, _ := newTestRunner(t, mock)

	runner.Run(context.Background(), Opts{
		Stage: dag.Stage{
			Name: "scan",
			Steps: []dag.Step{{
				Name: "image-scan",
				Tool: "trivy",
				Args: []string{"image", "--severity", "HIGH", "app:v1"},
			}},
		},
		Workdir: t.TempDir(),
	})

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(mock.calls))
	}
	argv := mock.calls[0].Argv
	want := "trivy image --severity HIGH app:v1"
	if strings.Join(argv, " ") != want {
		t.Errorf("expected argv %q, got %q", want, strings.Join(argv, " "))
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &mockRunner{}
	runner, _ := newTestRunner(t, mock)

	result := runner.Run(ctx, Opts{
		Stage: dag.Stage{
			Name: "build",
			Steps: []dag.Step{
				{Name: "a", Command: "true"},
				{Name: "b", Command: "true"},
			},
		},
		Workdir: t.TempDir(),
	})

	if result.Status != run.StageAborted {
		t.Errorf("expected aborted, got %q", result.Status)
	}
	for _, st := range result.Steps {
		if st.Status != run.StepAborted {
			t.Errorf("step %s: expected aborted, got %q", st.Name, st.Status)
		}
	}
	if len(mock.calls) != 0 {
		t.Errorf("no steps should execute after cancel, got %d", len(mock.calls))
	}
}
