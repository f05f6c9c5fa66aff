package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholloway/pipewright/internal/dag"
)

var validateCmd = &cobra.Command{
	Use:   "validate <dag-file>",
	Short: "Validate a pipeline DAG without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := dag.Load(args[0])
		if err != nil {
			return asConfigExit(err)
		}

		registry, err := buildRegistry(cfg)
		if err != nil {
			return err
		}

		probs := dag.Validate(cfg, registry.Known())
		if len(probs) > 0 {
			w := cmd.ErrOrStderr()
			for _, p := range probs {
				fmt.Fprintf(w, "  %s\n", p.Error())
			}
			return &ExitError{Code: 2, Msg: fmt.Sprintf("%d problems found", len(probs))}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: pipeline %q is valid (%d stages)\n",
			args[0], cfg.Pipeline.Name, len(cfg.Pipeline.Stages))
		return nil
	},
}
