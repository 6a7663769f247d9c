package analysis

import (
	"fmt"
	"math"

	"github.com/nip10/varyant/internal/store"
)

// Commentary returns a one-line plain-language reading of a view. It
// compares the control with the first other variant.
func Commentary(v View) string {
	if v.TotalParticipants < 100 {
		return fmt.Sprintf("Early stage: only %d participants so far. Gather more data before drawing conclusions.", v.TotalParticipants)
	}

	test, ok := firstTestVariant(v.Variants)
	if !ok {
		return fmt.Sprintf("Only one variant has data after %d participants.", v.TotalParticipants)
	}

	switch {
	case test.Significance >= 95 && test.Improvement > 0:
		return fmt.Sprintf("The test variant is winning with %.1f%% improvement and has reached statistical significance. Consider shipping this change.", test.Improvement)
	case test.Significance >= 95:
		return fmt.Sprintf("The control is performing better with statistical significance. The test variant showed a %.1f%% decrease. Consider ending the experiment.", math.Abs(test.Improvement))
	case test.Improvement > 5:
		return fmt.Sprintf("Looking promising: %s is ahead by %.1f%%, but more data is needed for significance (currently %.0f%%).", leader(v.Variants).Name, test.Improvement, test.Significance)
	case test.Improvement < -5:
		return fmt.Sprintf("The control is currently winning by %.1f%%. Keep monitoring; results may change as more data arrives.", math.Abs(test.Improvement))
	}

	days := 0
	if v.DaysRunning != nil {
		days = *v.DaysRunning
	}
	return fmt.Sprintf("Results are close between variants after %d days with %d participants.", days, v.TotalParticipants)
}

func firstTestVariant(variants []VariantView) (VariantView, bool) {
	for _, vv := range variants {
		if vv.Key != store.ControlKey {
			return vv, true
		}
	}
	return VariantView{}, false
}

// leader returns the variant with the highest conversion rate, first one
// wins ties.
func leader(variants []VariantView) VariantView {
	best := variants[0]
	for _, vv := range variants[1:] {
		if vv.ConversionRate > best.ConversionRate {
			best = vv
		}
	}
	return best
}

func roundTo(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
