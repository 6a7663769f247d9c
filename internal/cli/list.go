package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/store"
)

func newListCmd(a *app) *cobra.Command {
	var (
		all    bool
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		Long: `List experiments with their status and how long they have been running.
Archived experiments are hidden unless --all is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st store.Store) error {
				summaries, err := a.fetcher(st).List(cmd.Context(), analysis.ListOptions{
					IncludeArchived: all,
					Status:          store.Status(status),
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No experiments yet.")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRUNNING\tVARIANTS\tSTARTED")
				for _, s := range summaries {
					started := "-"
					if s.StartDate != nil {
						started = s.StartDate.Format("2006-01-02")
					}
					state := strings.ToUpper(string(s.Status))
					if s.Archived {
						state += " (archived)"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
						s.ID,
						s.Name,
						state,
						formatDays(s.DaysRunning),
						strings.Join(s.Variants, ","),
						started,
					)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include archived experiments")
	cmd.Flags().StringVar(&status, "status", "", "only show experiments in this status (draft, running, completed)")
	return cmd
}
