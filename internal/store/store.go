package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNotFound is returned when an experiment id does not exist.
	ErrNotFound = errors.New("experiment not found")
	// ErrNoResults is returned when an experiment has no results yet,
	// e.g. a draft experiment. Callers treat it as an absent snapshot.
	ErrNoResults = errors.New("no results available")
)

// Store is the read side of an experimentation backend.
type Store interface {
	GetExperiment(ctx context.Context, id int64) (*Experiment, error)
	GetExperimentResults(ctx context.Context, id int64) (*ResultsSnapshot, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
}

// Recorder is implemented by backends that accept raw events.
type Recorder interface {
	RecordEvent(ctx context.Context, experimentID int64, variantKey, eventType, visitorID string) error
}

// ParseID parses a positive experiment id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid experiment id %q", s)
	}
	return id, nil
}
