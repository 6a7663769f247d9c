package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nip10/varyant/internal/store"
)

// Snapshot is an experiment together with its latest results. Results is
// nil when the backend has none yet; DaysRunning is nil for experiments
// that have not started.
type Snapshot struct {
	Experiment  *store.Experiment
	Results     *store.ResultsSnapshot
	DaysRunning *int
	FetchedAt   time.Time
}

// Fetcher loads snapshots from a store. It holds no mutable state and is
// safe for concurrent use.
type Fetcher struct {
	store store.Store
	now   func() time.Time
	log   *slog.Logger
}

type FetcherOption func(*Fetcher)

// WithNow overrides the clock used for DaysRunning and FetchedAt.
func WithNow(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = l }
}

func NewFetcher(s store.Store, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{store: s, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch loads the experiment, then its results. A missing experiment is
// returned as an error wrapping store.ErrNotFound. Any results failure is
// absorbed into a nil Results, so an existing experiment always yields a
// snapshot.
func (f *Fetcher) Fetch(ctx context.Context, id int64) (*Snapshot, error) {
	return f.fetch(ctx, id, false)
}

// FetchStrict is Fetch for callers that keep a previous snapshot: only
// store.ErrNoResults is absorbed, any other results error is returned.
func (f *Fetcher) FetchStrict(ctx context.Context, id int64) (*Snapshot, error) {
	return f.fetch(ctx, id, true)
}

func (f *Fetcher) fetch(ctx context.Context, id int64, strict bool) (*Snapshot, error) {
	exp, err := f.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch experiment %d: %w", id, err)
	}

	results, err := f.store.GetExperimentResults(ctx, id)
	switch {
	case errors.Is(err, store.ErrNoResults):
		f.log.Debug("no results available", "experiment_id", id, "err", err)
		results = nil
	case err != nil && strict:
		return nil, fmt.Errorf("fetch results for experiment %d: %w", id, err)
	case err != nil:
		f.log.Warn("results unavailable, analyzing without them", "experiment_id", id, "err", err)
		results = nil
	}

	now := f.now()
	return &Snapshot{
		Experiment:  exp,
		Results:     results,
		DaysRunning: exp.DaysRunning(now),
		FetchedAt:   now,
	}, nil
}

// IsTransient reports whether err is a fetch failure worth retrying, as
// opposed to a missing experiment.
func IsTransient(err error) bool {
	return err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, context.Canceled)
}
