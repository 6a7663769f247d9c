package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nip10/varyant/internal/logging"
	"github.com/nip10/varyant/internal/monitor"
	"github.com/nip10/varyant/internal/store"
	"github.com/nip10/varyant/internal/tui"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		logFile  string
	)

	cmd := &cobra.Command{
		Use:   "watch [id]",
		Short: "Follow an experiment live in the terminal",
		Long: `Open a live view of an experiment that refreshes on a fixed interval.

Keys:
  p / space   pause or resume automatic refresh
  r           refresh now
  q           quit

Logs are discarded while the view is open unless --log-file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			// The terminal belongs to the live view
			var w io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				w = f
			}
			a.log = logging.New(w, a.cfg.Log.Level, a.cfg.Log.Format)

			if interval <= 0 {
				interval = a.cfg.Monitor.RefreshInterval
			}

			return a.withStore(func(st store.Store) error {
				f := a.fetcher(st)
				id, err := resolveID(ctx, f, args)
				if err != nil {
					return err
				}

				metrics, err := monitor.NewMetrics(nil)
				if err != nil {
					return err
				}

				display := tui.NewDisplay()
				session := monitor.NewSession(f, id, monitor.Options{
					Interval:  interval,
					Publisher: display,
					Logger:    a.log,
					Metrics:   metrics,
				})
				if err := session.Start(ctx); err != nil {
					return err
				}
				defer func() {
					session.Close()
					session.Wait()
				}()

				return display.Run(ctx, session, interval)
			})
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "refresh interval (default from config, 10s)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file while watching")
	return cmd
}
