package stats

import (
	"math"

	"github.com/nip10/varyant/internal/store"
)

// Split holds a control/test pair of percentages.
type Split struct {
	Control float64 `json:"control"`
	Test    float64 `json:"test"`
}

// Intervals holds control/test credible intervals in percent.
type Intervals struct {
	Control *store.Interval `json:"control"`
	Test    *store.Interval `json:"test"`
}

// Derived is the control vs. test comparison computed from one results
// snapshot. Rates are percentages rounded to 2 decimals; uplift, traffic
// split and win probabilities are percentages rounded to 1 decimal.
type Derived struct {
	TestKey             string    `json:"testKey"`
	TotalParticipants   int       `json:"totalParticipants"`
	ControlParticipants int       `json:"controlParticipants"`
	TestParticipants    int       `json:"testParticipants"`
	ControlConversions  int       `json:"controlConversions"`
	TestConversions     int       `json:"testConversions"`
	ControlRate         float64   `json:"controlRate"`
	TestRate            float64   `json:"testRate"`
	Uplift              float64   `json:"uplift"`
	TrafficSplit        Split     `json:"trafficSplit"`
	Probability         Split     `json:"probability"`
	CredibleIntervals   Intervals `json:"credibleIntervals"`
}

// Calculate compares the control variant with the first non-control
// variant in the list. It returns nil when either is missing. Further
// non-control variants are ignored. Calculate is pure.
func Calculate(variants []store.VariantResult, probability map[string]float64, intervals map[string]store.Interval) *Derived {
	control, test, ok := pair(variants)
	if !ok {
		return nil
	}

	cp, tp := nonNegative(control.Participants), nonNegative(test.Participants)
	controlRate := Rate(control.Conversions, cp)
	testRate := Rate(test.Conversions, tp)

	d := &Derived{
		TestKey:             test.Key,
		TotalParticipants:   cp + tp,
		ControlParticipants: cp,
		TestParticipants:    tp,
		ControlConversions:  control.Conversions,
		TestConversions:     test.Conversions,
		ControlRate:         round(controlRate, 2),
		TestRate:            round(testRate, 2),
		Uplift:              round(Uplift(controlRate, testRate), 1),
		Probability: Split{
			Control: round(probability[control.Key]*100, 1),
			Test:    round(probability[test.Key]*100, 1),
		},
		CredibleIntervals: Intervals{
			Control: percentInterval(intervals, control.Key),
			Test:    percentInterval(intervals, test.Key),
		},
	}

	if total := cp + tp; total > 0 {
		d.TrafficSplit = Split{
			Control: round(float64(cp)/float64(total)*100, 1),
			Test:    round(float64(tp)/float64(total)*100, 1),
		}
	}

	return d
}

// Rate returns conversions/participants as a percentage, or 0 when there
// are no participants.
func Rate(conversions, participants int) float64 {
	if participants <= 0 {
		return 0
	}
	return float64(conversions) / float64(participants) * 100
}

// Uplift returns the relative change of testRate over controlRate in
// percent. A zero control rate yields 0, not an infinite improvement.
func Uplift(controlRate, testRate float64) float64 {
	if controlRate <= 0 {
		return 0
	}
	return (testRate - controlRate) / controlRate * 100
}

func pair(variants []store.VariantResult) (control, test store.VariantResult, ok bool) {
	var haveControl, haveTest bool
	for _, v := range variants {
		if v.Key == store.ControlKey {
			if !haveControl {
				control, haveControl = v, true
			}
			continue
		}
		if !haveTest {
			test, haveTest = v, true
		}
	}
	return control, test, haveControl && haveTest
}

func percentInterval(intervals map[string]store.Interval, key string) *store.Interval {
	iv, ok := intervals[key]
	if !ok {
		return nil
	}
	return &store.Interval{Low: round(iv.Low*100, 2), High: round(iv.High*100, 2)}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func round(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
