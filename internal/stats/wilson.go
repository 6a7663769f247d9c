package stats

import (
	"math"

	"github.com/nip10/varyant/internal/store"
)

// z95 is the two-sided standard normal quantile for SignificanceLevel.
const z95 = 1.959963984540054

// credibleInterval is the 95% Wilson score interval of a variant's
// conversion rate. Conversions are clamped to [0, participants] so
// malformed counts still give a bounded interval; a variant without
// participants gets [0, 0].
func credibleInterval(v store.VariantResult) store.Interval {
	if v.Participants <= 0 {
		return store.Interval{}
	}
	conversions := min(max(v.Conversions, 0), v.Participants)

	n := float64(v.Participants)
	p := float64(conversions) / n
	zz := z95 * z95

	denominator := 1 + zz/n
	center := (p + zz/(2*n)) / denominator
	spread := z95 / denominator * math.Sqrt(p*(1-p)/n+zz/(4*n*n))

	return store.Interval{
		Low:  math.Max(center-spread, 0),
		High: math.Min(center+spread, 1),
	}
}
