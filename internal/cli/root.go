package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "pipewright",
	Short: "Declarative pipeline orchestration engine",
	Long: `pipewright executes declarative multi-stage workflows: each stage runs
external commands (builders, scanners, deployers) with timeouts and retries,
publishes named artifacts for later stages, and records a complete run report.

Run state is stored in ~/.pipewright/ (JSON records per run, SQLite for the
audit log).`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// ExitError carries an explicit process exit code out of a command.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	return e.Msg
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
}
