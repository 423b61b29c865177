package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/calderhq/dispatch/internal/backend/document"
	"github.com/calderhq/dispatch/internal/pool"
)

// newPoolWorkerCmd creates the hidden 'pool-worker' subcommand hosting one
// process-pool worker: it serves JSON tasks over stdin/stdout until the
// parent closes the pipe.
func newPoolWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "pool-worker",
		Short:  "Run a process-pool worker (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return pool.RunWorker(cmd.Context(), os.Stdin, os.Stdout, document.Handlers())
		},
	}
}
