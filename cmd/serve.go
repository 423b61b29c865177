package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calderhq/dispatch/internal/api"
	"github.com/calderhq/dispatch/internal/metrics"
	"github.com/calderhq/dispatch/internal/registry"
)

// newServeCmd creates the 'serve' subcommand: run the service set plus the
// observability HTTP server until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatch services and the observability HTTP server",
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	svcs, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	return reg.Run(ctx, func(ctx context.Context) error {
		srv := api.NewServer(reg, logger, cfg.Server.Port)
		return srv.ListenAndServe(ctx)
	}, svcs...)
}
