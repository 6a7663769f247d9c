package cli

import (
	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/mcp"
	"github.com/nip10/varyant/internal/store"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server over stdio",
		Long: `Start an MCP server over stdin/stdout so LLM clients can list, analyze and
open live views of experiments.

Tools: list_experiments, analyze_experiment, show_live_experiment.
Logs are written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st store.Store) error {
				srv := mcp.NewServer(a.fetcher(st), mcp.Options{
					Version:         version,
					RefreshInterval: a.cfg.Monitor.RefreshInterval,
					Logger:          a.log,
				})
				return srv.Run(cmd.Context())
			})
		},
	}
}
