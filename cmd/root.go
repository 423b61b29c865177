// Package cmd defines and implements the CLI commands for the dispatchd
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/calderhq/dispatch/internal/config"
	"github.com/calderhq/dispatch/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatchd",
		Short: "Concurrent service-dispatch runtime for model-driven extraction.",
		Long: `dispatchd runs a fixed set of long-lived background services -- a
rate-limited model caller, a thread-pooled file mover, and a process-pooled
document decoder -- behind a shared submit-and-await contract, so call sites
never manage queues, throttling, or pool lifecycles themselves.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml if present)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newPoolWorkerCmd())

	return cmd
}

// loadRuntime builds the configuration and logger shared by subcommands.
func loadRuntime() (config.Config, *zap.Logger, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
