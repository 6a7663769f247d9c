// Package recommend turns derived experiment statistics into an action.
//
// The policy is an ordered list of guards; the first guard that matches
// decides. Data-integrity guards (missing data, traffic imbalance) run
// before any outcome guard.
package recommend

import (
	"fmt"
	"math"

	"github.com/nip10/varyant/internal/stats"
)

type Action string

const (
	Ship        Action = "SHIP"
	Iterate     Action = "ITERATE"
	End         Action = "END"
	Wait        Action = "WAIT"
	Investigate Action = "INVESTIGATE"
)

// Actions lists every action in policy order.
var Actions = []Action{Ship, Iterate, End, Wait, Investigate}

// Thresholds used by Recommend. Percentages are on the 0-100 scale.
const (
	// TrafficImbalanceThreshold is the allowed distance, in percentage
	// points, of the control traffic share from 50%.
	TrafficImbalanceThreshold = 5.0
	MinParticipants           = 100
	ShipWinProbability        = 95.0
	PromisingWinProbability   = 80.0
	LoserWinProbability       = 5.0
	IterateAfterDays          = 14
	AbandonAfterDays          = 21
)

type Recommendation struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Recommend applies the decision policy. A nil stats value means the
// results were missing a control or test variant. Negative daysRunning
// is treated as zero. Recommend never panics and always returns one of
// the five actions.
func Recommend(significant bool, s *stats.Derived, daysRunning int) Recommendation {
	if daysRunning < 0 {
		daysRunning = 0
	}

	if s == nil {
		return Recommendation{Investigate,
			"Insufficient or malformed data: the results do not contain both a control and a test variant. Check the experiment setup before drawing conclusions."}
	}

	if diff := math.Abs(s.TrafficSplit.Control - 50); diff > TrafficImbalanceThreshold {
		return Recommendation{Investigate, fmt.Sprintf(
			"Traffic split imbalance: control received %.1f%% of participants, %.1f points away from an even split. Review the assignment implementation before drawing conclusions.",
			s.TrafficSplit.Control, diff)}
	}

	if s.TotalParticipants < MinParticipants {
		return Recommendation{Wait, fmt.Sprintf(
			"Insufficient data: only %d participants so far (need at least %d). Continue running to reach statistical significance.",
			s.TotalParticipants, MinParticipants)}
	}

	winProb, uplift := s.Probability.Test, s.Uplift

	if significant && winProb > ShipWinProbability && uplift > 0 {
		return Recommendation{Ship, fmt.Sprintf(
			"Strong positive results with %.1f%% probability that the test variant wins. Uplift of %.1f%% is statistically significant.",
			winProb, uplift)}
	}

	if !significant && winProb > PromisingWinProbability && uplift > 0 {
		if daysRunning < IterateAfterDays {
			return Recommendation{Wait, fmt.Sprintf(
				"Promising signal (%.1f%% win probability, %.1f%% uplift) but not yet significant after %d days. Keep the experiment running.",
				winProb, uplift, daysRunning)}
		}
		return Recommendation{Iterate, fmt.Sprintf(
			"Promising signal (%.1f%% win probability, %.1f%% uplift) but still not conclusive after %d days. Consider refining the hypothesis or testing a more pronounced variant.",
			winProb, uplift, daysRunning)}
	}

	if significant && winProb < LoserWinProbability {
		return Recommendation{End, fmt.Sprintf(
			"The test variant is significantly worse: only %.1f%% probability of winning (uplift %.1f%%). Consider ending the experiment.",
			winProb, uplift)}
	}

	if !significant && daysRunning > AbandonAfterDays {
		return Recommendation{End, fmt.Sprintf(
			"No significant difference detected after %d days. Consider testing a different approach.",
			daysRunning)}
	}

	return Recommendation{Wait, fmt.Sprintf(
		"Insufficient evidence for a confident decision (%.1f%% win probability, %.1f%% uplift after %d days). Continue running to reach statistical significance.",
		winProb, uplift, daysRunning)}
}
