// Package local serves experiments and results from the embedded SQLite
// database, acting as a self-hosted experimentation backend.
package local

import (
	"context"
	"fmt"

	"github.com/nip10/varyant/internal/stats"
	"github.com/nip10/varyant/internal/store"
)

// Backend implements store.Store and store.Recorder on top of a SQLiteStore.
type Backend struct {
	*store.SQLiteStore
}

var (
	_ store.Store    = (*Backend)(nil)
	_ store.Recorder = (*Backend)(nil)
)

func New(s *store.SQLiteStore) *Backend {
	return &Backend{SQLiteStore: s}
}

// Open opens the database at dbPath and wraps it.
func Open(dbPath string) (*Backend, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return New(s), nil
}

// GetExperimentResults returns store.ErrNoResults for draft experiments
// and for experiments without any recorded events.
func (b *Backend) GetExperimentResults(ctx context.Context, id int64) (*store.ResultsSnapshot, error) {
	exp, err := b.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status() == store.StatusDraft {
		return nil, fmt.Errorf("experiment %d has not started: %w", id, store.ErrNoResults)
	}

	counts, err := b.GetVariantCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("experiment %d has no events: %w", id, store.ErrNoResults)
	}

	return stats.Verdict(orderByConfig(exp.Variants, counts)), nil
}

// orderByConfig sorts counts into the experiment's variant order, so
// "first non-control variant" means the first one configured. Variants
// that were never exposed are included with zero counts.
func orderByConfig(variants []store.Variant, counts []store.VariantResult) []store.VariantResult {
	byKey := make(map[string]store.VariantResult, len(counts))
	for _, c := range counts {
		byKey[c.Key] = c
	}

	ordered := make([]store.VariantResult, 0, len(variants))
	for _, v := range variants {
		c, ok := byKey[v.Key]
		if !ok {
			c = store.VariantResult{Key: v.Key}
		}
		ordered = append(ordered, c)
		delete(byKey, v.Key)
	}
	for _, c := range counts {
		if _, ok := byKey[c.Key]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
