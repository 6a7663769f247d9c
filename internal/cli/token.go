package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show dashboard URL with access token",
		Long: `Show the dashboard URL with the access token of the running server.

Use this when you've scrolled past the startup message or need to
share the dashboard link. API clients can send the token as
"Authorization: Bearer <token>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(a.tokenFile())
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return errors.New("no server running. Start with: varyant serve")
				}
				return fmt.Errorf("failed to read token file: %w", err)
			}

			token := strings.TrimSpace(string(data))
			if token == "" {
				return errors.New("token file is empty. Restart the server with: varyant serve")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dashboard: http://localhost:%d/dashboard?token=%s\n", a.cfg.Server.Port, token)
			fmt.Fprintf(out, "Token: %s\n", token)
			return nil
		},
	}
}
