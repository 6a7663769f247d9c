package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/config"
	"github.com/nip10/varyant/internal/local"
	"github.com/nip10/varyant/internal/posthog"
	"github.com/nip10/varyant/internal/store"
)

// withStore opens the configured backend, executes the function, and
// handles cleanup.
func (a *app) withStore(fn func(store.Store) error) error {
	switch a.cfg.Store {
	case config.StorePostHog:
		return fn(posthog.NewClient(posthog.Config{
			Host:      a.cfg.PostHog.Host,
			ProjectID: a.cfg.PostHog.ProjectID,
			APIKey:    a.cfg.PostHog.APIKey,
		}))
	default:
		return a.withLocal(func(b *local.Backend) error { return fn(b) })
	}
}

// withLocal opens the SQLite database for commands that write experiments
// or events.
func (a *app) withLocal(fn func(*local.Backend) error) error {
	if a.cfg.Store != config.StoreSQLite {
		return fmt.Errorf("this command needs the sqlite store (current store: %s)", a.cfg.Store)
	}
	b, err := local.Open(a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer b.Close()

	return fn(b)
}

func (a *app) fetcher(st store.Store) *analysis.Fetcher {
	return analysis.NewFetcher(st, analysis.WithLogger(a.log))
}

// tokenFile returns the configured token file, or one stored alongside
// the database.
func (a *app) tokenFile() string {
	if a.cfg.Server.TokenFile != "" {
		return a.cfg.Server.TokenFile
	}
	return filepath.Join(filepath.Dir(a.cfg.DBPath), ".varyant-token")
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := store.ParseID(arg)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

var errNoExperimentID = errors.New("experiment id required")

// resolveID returns the id given on the command line or, on an
// interactive terminal, lets the user pick one.
func resolveID(ctx context.Context, f *analysis.Fetcher, args []string) (int64, error) {
	if len(args) > 0 {
		return store.ParseID(args[0])
	}
	if !isTerminal(os.Stdin) {
		return 0, errNoExperimentID
	}
	return pickExperiment(ctx, f)
}

func pickExperiment(ctx context.Context, f *analysis.Fetcher) (int64, error) {
	summaries, err := f.List(ctx, analysis.ListOptions{})
	if err != nil {
		return 0, err
	}
	if len(summaries) == 0 {
		return 0, errors.New("no experiments yet. Create one with: varyant create")
	}

	items := make([]string, len(summaries))
	for i, s := range summaries {
		items[i] = fmt.Sprintf("#%d %s (%s, %s)", s.ID, s.Name, s.Status, formatDays(s.DaysRunning))
	}

	prompt := promptui.Select{
		Label: "Experiment",
		Items: items,
		Size:  10,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return 0, errNoExperimentID
		}
		return 0, err
	}
	return summaries[idx].ID, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func formatDays(days *int) string {
	switch {
	case days == nil:
		return "not started"
	case *days == 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", *days)
	}
}

func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}
