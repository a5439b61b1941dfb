package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/darrylbowler72/agenticframework-sub001/internal/config"
	"github.com/darrylbowler72/agenticframework-sub001/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agentic",
	Short: "Multi-agent workflow orchestration core",
	Long: `agentic runs one component of the orchestration core per process.

  orchestrator  workflow intake, dispatch, retries and the event router
  gateway       the tool gateway that brokers external capability calls
  worker        a worker service for one task kind
  migrate       create or upgrade the Postgres state store schema`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./config.yaml)")

	rootCmd.AddCommand(orchestratorCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
