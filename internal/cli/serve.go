package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholloway/pipewright/internal/run"
	"github.com/jholloway/pipewright/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only run API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := run.DefaultStore()
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		log, err := openEventLog()
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer log.Close()

		port, _ := cmd.Flags().GetInt("port")
		return web.NewServer(store, log, port).Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 8711, "Port to listen on")
}
