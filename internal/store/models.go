package store

import "time"

// ControlKey is the variant key that designates the control arm.
const ControlKey = "control"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

type Variant struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// DisplayName returns the variant name, or its key when no name is set.
func (v Variant) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	return v.Key
}

type Metric struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
}

type Experiment struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	FeatureFlagKey string     `json:"featureFlagKey"`
	StartDate      *time.Time `json:"startDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	Variants       []Variant  `json:"variants"`
	Metrics        []Metric   `json:"metrics"`
	Conclusion     string     `json:"conclusion,omitempty"`
	Archived       bool       `json:"archived,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Status derives the lifecycle state from the start and end timestamps.
func (e *Experiment) Status() Status {
	switch {
	case e.EndDate != nil:
		return StatusCompleted
	case e.StartDate != nil:
		return StatusRunning
	default:
		return StatusDraft
	}
}

// DaysRunning returns the number of whole days between the start date and
// now, or nil if the experiment has not started. A start date in the future
// counts as zero days.
func (e *Experiment) DaysRunning(now time.Time) *int {
	if e.StartDate == nil {
		return nil
	}
	days := 0
	if d := now.Sub(*e.StartDate); d > 0 {
		days = int(d / (24 * time.Hour))
	}
	return &days
}

// VariantResult holds raw per-variant counts from the backend. Conversions
// is not guaranteed to be <= Participants.
type VariantResult struct {
	Key          string `json:"key"`
	Participants int    `json:"participants"`
	Conversions  int    `json:"conversions"`
}

// Interval is a [Low, High] conversion-rate interval in the 0-1 range.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// ResultsSnapshot is the latest statistical result set for an experiment.
// Probability and CredibleIntervals are keyed by variant key and may be
// nil or partial.
type ResultsSnapshot struct {
	Significant       bool                `json:"significant"`
	SignificanceCode  string              `json:"significanceCode,omitempty"`
	Probability       map[string]float64  `json:"probability,omitempty"`
	CredibleIntervals map[string]Interval `json:"credibleIntervals,omitempty"`
	Variants          []VariantResult     `json:"variants"`
}

// Result returns the variant result with the given key.
func (r *ResultsSnapshot) Result(key string) (VariantResult, bool) {
	for _, v := range r.Variants {
		if v.Key == key {
			return v, true
		}
	}
	return VariantResult{}, false
}

// Event is a single exposure or conversion recorded by the local backend.
type Event struct {
	ID           int64
	ExperimentID int64
	VariantKey   string
	EventType    string // "exposure" or "conversion"
	VisitorID    string
	CreatedAt    time.Time
}

const (
	EventExposure   = "exposure"
	EventConversion = "conversion"
)
