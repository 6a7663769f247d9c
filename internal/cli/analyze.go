package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/recommend"
	"github.com/nip10/varyant/internal/store"
)

var badgeColors = map[recommend.Action]*color.Color{
	recommend.Ship:        color.New(color.FgBlack, color.BgGreen, color.Bold),
	recommend.Iterate:     color.New(color.FgBlack, color.BgYellow, color.Bold),
	recommend.End:         color.New(color.FgWhite, color.BgRed, color.Bold),
	recommend.Wait:        color.New(color.FgWhite, color.BgBlue, color.Bold),
	recommend.Investigate: color.New(color.FgWhite, color.BgMagenta, color.Bold),
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		asJSON      bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "analyze [id...]",
		Short: "Analyze experiments and recommend an action",
		Long: `Fetch the latest results for one or more experiments, compute conversion
rates, uplift and traffic split, and recommend SHIP, ITERATE, END, WAIT
or INVESTIGATE.

Without an id, an experiment is picked interactively.

Examples:
  varyant analyze 12
  varyant analyze 12 14 15 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(func(st store.Store) error {
				f := a.fetcher(st)

				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					id, err := resolveID(ctx, f, nil)
					if err != nil {
						return err
					}
					ids = []int64{id}
				}

				analyses, err := analysis.AnalyzeAll(ctx, f, ids, concurrency)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(analyses)
				}
				for i, an := range analyses {
					if i > 0 {
						fmt.Fprintln(out)
					}
					if err := printAnalysis(out, an); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full analysis as JSON")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "experiments fetched in parallel")
	return cmd
}

func printAnalysis(out io.Writer, an *analysis.Analysis) error {
	v := analysis.BuildView(an)

	fmt.Fprintf(out, "EXPERIMENT #%d: %s\n", v.ExperimentID, v.ExperimentName)
	fmt.Fprintf(out, "STATUS: %s (%s)\n", strings.ToUpper(string(v.Status)), formatDays(v.DaysRunning))
	fmt.Fprintln(out)

	if an.Results.Available {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VARIANT\tPARTICIPANTS\tCONVERSIONS\tRATE\tIMPROVEMENT\tSIGNIFICANCE")
		for _, row := range v.Variants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\t%+.1f%%\t%.1f%%\n",
				row.Name,
				formatNumber(row.Participants),
				formatNumber(row.Conversions),
				row.ConversionRate,
				row.Improvement,
				row.Significance,
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}

	if s := an.Stats; s != nil {
		fmt.Fprintf(out, "Uplift: %+.1f%%  Win probability: %.1f%%  Traffic split: %.1f/%.1f\n",
			s.Uplift, s.Probability.Test, s.TrafficSplit.Control, s.TrafficSplit.Test)
		if ci := s.CredibleIntervals; ci.Control != nil && ci.Test != nil {
			fmt.Fprintf(out, "95%% intervals: control [%.2f%%, %.2f%%]  test [%.2f%%, %.2f%%]\n",
				ci.Control.Low, ci.Control.High, ci.Test.Low, ci.Test.High)
		}
		fmt.Fprintf(out, "Significance: %s\n", an.Results.SignificanceCode)
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "RECOMMENDATION: %s\n", badge(an.Recommendation.Action))
	fmt.Fprintln(out, an.Recommendation.Reason)
	return nil
}

func badge(action recommend.Action) string {
	c, ok := badgeColors[action]
	if !ok {
		return string(action)
	}
	return c.Sprintf(" %s ", action)
}
