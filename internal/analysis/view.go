package analysis

import (
	"time"

	"github.com/nip10/varyant/internal/recommend"
	"github.com/nip10/varyant/internal/stats"
	"github.com/nip10/varyant/internal/store"
)

// VariantView is one row of the live view. Percentages are on the 0-100
// scale.
type VariantView struct {
	Key            string  `json:"key"`
	Name           string  `json:"name"`
	Participants   int     `json:"participants"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
	Improvement    float64 `json:"improvement"`
	Significance   float64 `json:"significance"`
}

// View is the display model published to live surfaces.
type View struct {
	ExperimentID         int64            `json:"experimentId"`
	ExperimentName       string           `json:"experimentName"`
	Status               store.Status     `json:"status"`
	Variants             []VariantView    `json:"variants"`
	TotalParticipants    int              `json:"totalParticipants"`
	DaysRunning          *int             `json:"daysRunning"`
	Recommendation       recommend.Action `json:"recommendation,omitempty"`
	RecommendationReason string           `json:"recommendationReason,omitempty"`
	Commentary           string           `json:"commentary,omitempty"`
	LastUpdated          time.Time        `json:"lastUpdated"`

	// Paused, Stale and Error are set by the live monitor.
	Paused bool   `json:"paused"`
	Stale  bool   `json:"stale"`
	Error  string `json:"error,omitempty"`
}

// BuildView shapes an analysis into a view. Variants follow the
// experiment's configured order; result keys missing from the config are
// appended. The significance column is 100 for every variant when the
// backend flagged the result significant, otherwise the win probability
// of non-control variants in percent and 0 for control.
func BuildView(a *Analysis) View {
	v := View{
		ExperimentID:         a.Experiment.ID,
		ExperimentName:       a.Experiment.Name,
		Status:               a.Status,
		DaysRunning:          a.DaysRunning,
		Recommendation:       a.Recommendation.Action,
		RecommendationReason: a.Recommendation.Reason,
		LastUpdated:          a.AnalyzedAt,
		Variants:             []VariantView{},
	}

	variants := viewVariants(a.Experiment.Variants, a.Results.Variants)
	if len(variants) == 0 {
		v.Commentary = Commentary(v)
		return v
	}

	results := &store.ResultsSnapshot{Variants: a.Results.Variants}

	controlKey := variants[0].Key
	for _, cv := range variants {
		if cv.Key == store.ControlKey {
			controlKey = cv.Key
			break
		}
	}
	control, _ := results.Result(controlKey)
	controlRate := stats.Rate(control.Conversions, control.Participants)

	for _, cv := range variants {
		r, _ := results.Result(cv.Key)
		participants := max(r.Participants, 0)
		rate := stats.Rate(r.Conversions, participants)

		vv := VariantView{
			Key:            cv.Key,
			Name:           cv.DisplayName(),
			Participants:   participants,
			Conversions:    r.Conversions,
			ConversionRate: roundTo(rate, 2),
		}
		if cv.Key != controlKey {
			vv.Improvement = roundTo(stats.Uplift(controlRate, rate), 1)
		}
		switch {
		case a.Results.Significant:
			vv.Significance = 100
		case cv.Key != controlKey:
			vv.Significance = roundTo(a.Results.Probability[cv.Key]*100, 1)
		}

		v.Variants = append(v.Variants, vv)
		v.TotalParticipants += participants
	}

	v.Commentary = Commentary(v)
	return v
}

func viewVariants(configured []store.Variant, results []store.VariantResult) []store.Variant {
	seen := make(map[string]bool, len(configured))
	out := make([]store.Variant, 0, len(configured))
	for _, cv := range configured {
		if seen[cv.Key] {
			continue
		}
		seen[cv.Key] = true
		out = append(out, cv)
	}
	for _, r := range results {
		if seen[r.Key] {
			continue
		}
		seen[r.Key] = true
		out = append(out, store.Variant{Key: r.Key})
	}
	return out
}
