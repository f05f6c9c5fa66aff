package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholloway/pipewright/internal/dag"
	"github.com/jholloway/pipewright/internal/engine"
	"github.com/jholloway/pipewright/internal/executor"
	"github.com/jholloway/pipewright/internal/report"
	"github.com/jholloway/pipewright/internal/run"
)

var runCmd = &cobra.Command{
	Use:   "run <dag-file>",
	Short: "Execute a pipeline DAG",
	Long: `Execute a pipeline DAG file to completion. The DAG is validated first;
an invalid DAG is rejected before any step runs (exit code 2). Exit code is
0 when the run succeeded (including degraded runs) and 1 when it failed or
was aborted. SIGINT/SIGTERM cancel the run, terminating in-flight steps.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := dag.Load(args[0])
		if err != nil {
			return asConfigExit(err)
		}

		if workdir, _ := cmd.Flags().GetString("workdir"); workdir != "" {
			cfg.Pipeline.Workdir = workdir
		}
		if timeout, _ := cmd.Flags().GetString("timeout"); timeout != "" {
			if _, err := time.ParseDuration(timeout); err != nil {
				return fmt.Errorf("invalid --timeout: %w", err)
			}
			for i := range cfg.Pipeline.Stages {
				for j := range cfg.Pipeline.Stages[i].Steps {
					st := &cfg.Pipeline.Stages[i].Steps[j]
					if st.Timeout == "" {
						st.Timeout = timeout
					}
				}
			}
		}
		envFlags, _ := cmd.Flags().GetStringArray("env")
		extraEnv, err := parseEnvFlags(envFlags)
		if err != nil {
			return err
		}
		if extraEnv != nil {
			if cfg.Pipeline.Env == nil {
				cfg.Pipeline.Env = make(map[string]string)
			}
			for k, v := range extraEnv {
				cfg.Pipeline.Env[k] = v
			}
		}

		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		store, err := run.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		log, err := openEventLog()
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer log.Close()

		eng := engine.New(store, executor.New(&executor.ExecRunner{}), registry, log)
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			eng.SetProgress(cmd.ErrOrStderr())
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rec, err := eng.Run(ctx, cfg)
		if err != nil {
			return asConfigExit(err)
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			data, err := report.JSON(rec)
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(data)
		} else {
			report.Summary(cmd.OutOrStdout(), rec)
		}

		if rec.Status != run.StatusSucceeded {
			return &ExitError{Code: 1, Msg: fmt.Sprintf("run %s %s", rec.ID, rec.Status)}
		}
		return nil
	},
}

// asConfigExit maps DAG validation failures to exit code 2.
func asConfigExit(err error) error {
	var cfgErr *dag.ConfigError
	if errors.As(err, &cfgErr) {
		return &ExitError{Code: 2, Msg: cfgErr.Error()}
	}
	return err
}

func init() {
	runCmd.Flags().String("workdir", "", "Working directory for steps (overrides the DAG's workdir)")
	runCmd.Flags().String("timeout", "", "Default timeout for steps that don't set one (e.g. 5m)")
	runCmd.Flags().StringArray("env", nil, "Extra environment for all steps (KEY=VALUE, repeatable)")
	runCmd.Flags().Bool("json", false, "Print the structured run report instead of the summary")
	runCmd.Flags().Bool("quiet", false, "Suppress live progress output")
}
