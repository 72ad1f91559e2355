// Package handlers wires the CLI commands to the application services.
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	logLevel   string
	noWorker   bool
	workerOnly bool
)

// NewRootCmd creates the root command. Running it with no subcommand starts
// the aggregator: scheduler plus HTTP API, subject to the worker flags.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newslens",
		Short: "NewsLens is a self-hosted personalized news aggregator.",
		Long: `NewsLens polls your feeds on an adaptive schedule, summarizes and
classifies new articles with an LLM, personalizes them per reader, and
streams a time-budgeted press review over a WebSocket session.

Run without arguments to start the server and the background worker
together. Use --no-worker to serve the API only, or --worker-only to run
ingestion without the HTTP surface.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.toml, or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the HTTP API without the background worker")
	rootCmd.Flags().BoolVar(&workerOnly, "worker-only", false, "run the background worker without the HTTP API")

	return rootCmd
}

// Execute runs the root command. Config and database failures exit non-zero.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
