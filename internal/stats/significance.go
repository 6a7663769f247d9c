package stats

import (
	"math"

	"github.com/nip10/varyant/internal/store"
)

// SignificanceTest performs a two-proportion z-test.
// Returns confidence level (0-1) that variant A beats variant B.
func SignificanceTest(aConv, aViews, bConv, bViews int) float64 {
	if aViews <= 0 || bViews <= 0 {
		return 0.5 // Need data from both variants
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)

	// Pooled proportion under null hypothesis (pA = pB)
	pooledP := float64(aConv+bConv) / float64(aViews+bViews)

	se := math.Sqrt(pooledP * (1 - pooledP) * (1/float64(aViews) + 1/float64(bViews)))

	if se == 0 || math.IsNaN(se) {
		if pA > pB {
			return 1.0
		} else if pA < pB {
			return 0.0
		}
		return 0.5
	}

	z := (pA - pB) / se

	// P(Z < z) gives us confidence that A > B
	return normalCDF(z)
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Abramowitz and Stegun, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

// SignificanceLevel is the confidence at which the local backend calls a
// result significant.
const SignificanceLevel = 0.95

// Verdict builds a results snapshot from raw per-variant counts the way an
// experimentation backend would: Wilson intervals for every variant, and a
// z-test of the first non-control variant against control that supplies
// the win probabilities and the significance verdict.
func Verdict(counts []store.VariantResult) *store.ResultsSnapshot {
	snap := &store.ResultsSnapshot{
		SignificanceCode:  "not_enough_data",
		Probability:       make(map[string]float64, len(counts)),
		CredibleIntervals: make(map[string]store.Interval, len(counts)),
		Variants:          counts,
	}

	for _, c := range counts {
		snap.CredibleIntervals[c.Key] = credibleInterval(c)
	}

	control, test, ok := pair(counts)
	if !ok || control.Participants <= 0 || test.Participants <= 0 {
		return snap
	}

	confidence := SignificanceTest(test.Conversions, test.Participants, control.Conversions, control.Participants)
	snap.Probability[test.Key] = confidence
	snap.Probability[control.Key] = 1 - confidence

	switch {
	case test.Participants+control.Participants < minVerdictSample:
		snap.SignificanceCode = "not_enough_data"
	case confidence >= SignificanceLevel || confidence <= 1-SignificanceLevel:
		snap.Significant = true
		snap.SignificanceCode = "significant"
	default:
		snap.SignificanceCode = "low_win_probability"
	}

	return snap
}

const minVerdictSample = 100
