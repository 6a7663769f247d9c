package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/server"
	"github.com/nip10/varyant/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the varyant HTTP server.

The server provides:
  - JSON API for experiment lists, analyses and live views
  - Dashboard for viewing results
  - Beacon endpoint for tracking events (sqlite store only)
  - Health check endpoint

Example:
  varyant serve --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			return a.withStore(func(st store.Store) error {
				srv := server.New(st, a.fetcher(st), a.cfg.Server.Port, a.tokenFile(), server.WithLogger(a.log))

				out := cmd.OutOrStdout()
				fmt.Fprintln(out)
				fmt.Fprintf(out, "varyant running on http://localhost:%d\n", srv.Port())
				fmt.Fprintf(out, "Dashboard: http://localhost:%d/dashboard?token=%s\n", srv.Port(), srv.Token())
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Press Ctrl+C to stop")

				return srv.Start(cmd.Context())
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on (default from config)")
	return cmd
}
