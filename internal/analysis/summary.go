package analysis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nip10/varyant/internal/store"
)

// Summary is a listing entry for one experiment.
type Summary struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	FeatureFlagKey string       `json:"featureFlagKey"`
	Status         store.Status `json:"status"`
	StartDate      *time.Time   `json:"startDate"`
	EndDate        *time.Time   `json:"endDate"`
	DaysRunning    *int         `json:"daysRunning"`
	Conclusion     string       `json:"conclusion,omitempty"`
	Variants       []string     `json:"variants"`
	Archived       bool         `json:"archived,omitempty"`
}

func Summarize(exp *store.Experiment, now time.Time) Summary {
	keys := make([]string, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		keys = append(keys, v.Key)
	}
	return Summary{
		ID:             exp.ID,
		Name:           exp.Name,
		FeatureFlagKey: exp.FeatureFlagKey,
		Status:         exp.Status(),
		StartDate:      exp.StartDate,
		EndDate:        exp.EndDate,
		DaysRunning:    exp.DaysRunning(now),
		Conclusion:     exp.Conclusion,
		Variants:       keys,
		Archived:       exp.Archived,
	}
}

// ListOptions filters List output.
type ListOptions struct {
	IncludeArchived bool
	Status          store.Status // empty matches all
}

// List returns experiment summaries sorted by id, newest first.
func (f *Fetcher) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	exps, err := f.store.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	now := f.now()
	out := make([]Summary, 0, len(exps))
	for _, exp := range exps {
		if exp.Archived && !opts.IncludeArchived {
			continue
		}
		s := Summarize(exp, now)
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
