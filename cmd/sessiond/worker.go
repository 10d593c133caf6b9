package main

import (
	"github.com/spf13/cobra"

	"sessiond/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var engineName, logLevel string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run as a worker process (started by serve, not by hand)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Always JSON: the supervisor re-logs each stderr line as structured data.
			log, err := stderrLogger(logLevel, "json")
			if err != nil {
				return err
			}
			return worker.Main(cmd.Context(), engineName, log)
		},
	}
	cmd.Flags().StringVar(&engineName, "engine", "llama", "Inference engine: llama or echo")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}
