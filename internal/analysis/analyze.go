// Package analysis runs the fetch, calculate, recommend chain for an
// experiment and shapes the result for display.
package analysis

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nip10/varyant/internal/recommend"
	"github.com/nip10/varyant/internal/stats"
	"github.com/nip10/varyant/internal/store"
)

// Results is the raw side of an analysis. It is always present; Available
// is false when the backend had no results snapshot.
type Results struct {
	Available        bool                  `json:"available"`
	Significant      bool                  `json:"significant"`
	SignificanceCode string                `json:"significanceCode"`
	Variants         []store.VariantResult `json:"variants"`
	Probability      map[string]float64    `json:"probability"`
}

type Analysis struct {
	Experiment     *store.Experiment        `json:"experiment"`
	Status         store.Status             `json:"status"`
	DaysRunning    *int                     `json:"daysRunning"`
	Results        Results                  `json:"results"`
	Stats          *stats.Derived           `json:"stats"`
	Recommendation recommend.Recommendation `json:"recommendation"`
	AnalyzedAt     time.Time                `json:"analyzedAt"`
}

// NoResultsReason explains the WAIT recommendation given to experiments
// that have no results snapshot yet.
const NoResultsReason = "No results available yet (the experiment is a draft or has not collected data). Continue running to reach statistical significance."

// Evaluate derives stats and a recommendation from a snapshot. It does
// no I/O.
func Evaluate(snap *Snapshot) *Analysis {
	a := &Analysis{
		Experiment:  snap.Experiment,
		Status:      snap.Experiment.Status(),
		DaysRunning: snap.DaysRunning,
		Results: Results{
			SignificanceCode: "not_enough_data",
			Variants:         []store.VariantResult{},
		},
		AnalyzedAt: snap.FetchedAt,
	}

	if snap.Results == nil {
		a.Recommendation = recommend.Recommendation{Action: recommend.Wait, Reason: NoResultsReason}
		return a
	}

	r := snap.Results
	a.Results.Available = true
	a.Results.Significant = r.Significant
	if r.SignificanceCode != "" {
		a.Results.SignificanceCode = r.SignificanceCode
	}
	if r.Variants != nil {
		a.Results.Variants = r.Variants
	}
	a.Results.Probability = r.Probability

	a.Stats = stats.Calculate(r.Variants, r.Probability, r.CredibleIntervals)

	days := 0
	if snap.DaysRunning != nil {
		days = *snap.DaysRunning
	}
	a.Recommendation = recommend.Recommend(r.Significant, a.Stats, days)
	return a
}

// Analyze fetches one experiment and evaluates it.
func Analyze(ctx context.Context, f *Fetcher, id int64) (*Analysis, error) {
	snap, err := f.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return Evaluate(snap), nil
}

// AnalyzeAll analyzes several experiments with at most limit fetches in
// flight. Results are returned in the order of ids. The first error
// cancels the remaining fetches.
func AnalyzeAll(ctx context.Context, f *Fetcher, ids []int64, limit int) ([]*Analysis, error) {
	out := make([]*Analysis, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			a, err := Analyze(gctx, f, id)
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
