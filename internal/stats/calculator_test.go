package stats_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/nip10/varyant/internal/recommend"
	"github.com/nip10/varyant/internal/stats"
	"github.com/nip10/varyant/internal/store"
)

func results(control, test [2]int) []store.VariantResult {
	return []store.VariantResult{
		{Key: "control", Participants: control[0], Conversions: control[1]},
		{Key: "test", Participants: test[0], Conversions: test[1]},
	}
}

func TestCalculate_ClearWinner(t *testing.T) {
	d := stats.Calculate(results([2]int{1000, 50}, [2]int{1000, 75}),
		map[string]float64{"control": 0.02, "test": 0.98}, nil)
	if d == nil {
		t.Fatal("expected stats, got nil")
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"control rate", d.ControlRate, 5.00},
		{"test rate", d.TestRate, 7.50},
		{"uplift", d.Uplift, 50.0},
		{"control split", d.TrafficSplit.Control, 50.0},
		{"test split", d.TrafficSplit.Test, 50.0},
		{"control probability", d.Probability.Control, 2.0},
		{"test probability", d.Probability.Test, 98.0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if d.TotalParticipants != 2000 {
		t.Errorf("got TotalParticipants %d, want 2000", d.TotalParticipants)
	}
	if d.TestKey != "test" {
		t.Errorf("got TestKey %q, want test", d.TestKey)
	}
}

func TestCalculate_Rounding(t *testing.T) {
	d := stats.Calculate(results([2]int{30, 2}, [2]int{30, 3}), nil, nil)

	if d.ControlRate != 6.67 {
		t.Errorf("got ControlRate %v, want 6.67", d.ControlRate)
	}
	if d.TestRate != 10.0 {
		t.Errorf("got TestRate %v, want 10.0", d.TestRate)
	}
	// Uplift uses unrounded rates: (10 - 6.666..)/6.666.. = 50%.
	if d.Uplift != 50.0 {
		t.Errorf("got Uplift %v, want 50.0", d.Uplift)
	}
	if d.Probability.Control != 0 || d.Probability.Test != 0 {
		t.Errorf("missing probabilities should be 0, got %+v", d.Probability)
	}
}

func TestCalculate_UnevenSplit(t *testing.T) {
	d := stats.Calculate(results([2]int{900, 45}, [2]int{100, 8}), nil, nil)

	if d.TrafficSplit.Control != 90.0 || d.TrafficSplit.Test != 10.0 {
		t.Errorf("got split %+v, want 90/10", d.TrafficSplit)
	}
}

func TestCalculate_MissingVariant(t *testing.T) {
	tests := []struct {
		name     string
		variants []store.VariantResult
	}{
		{"empty", nil},
		{"control only", []store.VariantResult{{Key: "control", Participants: 100, Conversions: 5}}},
		{"test only", []store.VariantResult{{Key: "test", Participants: 100, Conversions: 5}}},
		{"no control key", []store.VariantResult{{Key: "a", Participants: 10}, {Key: "b", Participants: 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := stats.Calculate(tt.variants, nil, nil); d != nil {
				t.Errorf("expected nil, got %+v", d)
			}
		})
	}
}

func TestCalculate_ZeroParticipants(t *testing.T) {
	d := stats.Calculate(results([2]int{0, 0}, [2]int{0, 0}), nil, nil)
	if d == nil {
		t.Fatal("expected stats for zero participants")
	}
	if d.ControlRate != 0 || d.TestRate != 0 || d.Uplift != 0 {
		t.Errorf("expected zero rates and uplift, got %+v", d)
	}
	if d.TrafficSplit.Control != 0 || d.TrafficSplit.Test != 0 {
		t.Errorf("expected 0/0 split, got %+v", d.TrafficSplit)
	}
}

func TestCalculate_ZeroControlRate(t *testing.T) {
	d := stats.Calculate(results([2]int{100, 0}, [2]int{100, 10}), nil, nil)
	if d.Uplift != 0 {
		t.Errorf("got Uplift %v, want 0 when control rate is 0", d.Uplift)
	}
	if d.TestRate != 10 {
		t.Errorf("got TestRate %v, want 10", d.TestRate)
	}
}

func TestCalculate_FirstNonControlWins(t *testing.T) {
	variants := []store.VariantResult{
		{Key: "b", Participants: 100, Conversions: 20},
		{Key: "control", Participants: 100, Conversions: 10},
		{Key: "c", Participants: 100, Conversions: 30},
	}
	d := stats.Calculate(variants, nil, nil)
	if d.TestKey != "b" {
		t.Errorf("got TestKey %q, want b", d.TestKey)
	}
	if d.TotalParticipants != 200 {
		t.Errorf("extra variants must be ignored, got total %d", d.TotalParticipants)
	}
}

func TestCalculate_NegativeCountsClamped(t *testing.T) {
	d := stats.Calculate(results([2]int{-5, 1}, [2]int{10, 1}), nil, nil)
	if d.ControlParticipants != 0 || d.ControlRate != 0 {
		t.Errorf("negative participants should clamp to 0, got %+v", d)
	}
	if d.TrafficSplit.Control != 0 || d.TrafficSplit.Test != 100 {
		t.Errorf("got split %+v, want 0/100", d.TrafficSplit)
	}
}

func TestCalculate_ConversionsAboveParticipants(t *testing.T) {
	d := stats.Calculate(results([2]int{10, 20}, [2]int{10, 5}), nil, nil)
	if d.ControlRate != 200 {
		t.Errorf("got ControlRate %v, want 200", d.ControlRate)
	}
	if math.IsNaN(d.Uplift) || math.IsInf(d.Uplift, 0) {
		t.Errorf("uplift must be finite, got %v", d.Uplift)
	}
}

func TestCalculate_CredibleIntervals(t *testing.T) {
	intervals := map[string]store.Interval{"control": {Low: 0.04123, High: 0.06}}
	d := stats.Calculate(results([2]int{1000, 50}, [2]int{1000, 75}), nil, intervals)

	if d.CredibleIntervals.Control == nil {
		t.Fatal("expected control interval")
	}
	if got := *d.CredibleIntervals.Control; got.Low != 4.12 || got.High != 6 {
		t.Errorf("got control interval %+v, want {4.12 6}", got)
	}
	if d.CredibleIntervals.Test != nil {
		t.Errorf("expected nil test interval, got %+v", d.CredibleIntervals.Test)
	}
}

func TestRateAndUplift(t *testing.T) {
	if got := stats.Rate(5, 0); got != 0 {
		t.Errorf("Rate(5, 0) = %v, want 0", got)
	}
	if got := stats.Rate(1, 4); got != 25 {
		t.Errorf("Rate(1, 4) = %v, want 25", got)
	}
	if got := stats.Uplift(0, 10); got != 0 {
		t.Errorf("Uplift(0, 10) = %v, want 0", got)
	}
	if got := stats.Uplift(10, 5); got != -50 {
		t.Errorf("Uplift(10, 5) = %v, want -50", got)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	variants := results([2]int{733, 41}, [2]int{691, 57})
	probability := map[string]float64{"control": 0.12, "test": 0.88}
	intervals := map[string]store.Interval{
		"control": {Low: 0.041, High: 0.075},
		"test":    {Low: 0.063, High: 0.105},
	}

	first := stats.Calculate(variants, probability, intervals)
	second := stats.Calculate(variants, probability, intervals)
	if first == nil {
		t.Fatal("expected stats, got nil")
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated calls differ:\n%+v\n%+v", first, second)
	}
}

func TestCalculate_SplitSumsToHundred(t *testing.T) {
	for _, cp := range []int{1, 3, 7, 333, 1000, 1999} {
		for _, tp := range []int{1, 2, 9, 667, 1001, 2000} {
			d := stats.Calculate(results([2]int{cp, 0}, [2]int{tp, 0}), nil, nil)
			if sum := d.TrafficSplit.Control + d.TrafficSplit.Test; math.Abs(sum-100) > 0.1001 {
				t.Errorf("%d vs %d: split %v + %v = %v", cp, tp, d.TrafficSplit.Control, d.TrafficSplit.Test, sum)
			}
		}
	}
}

func TestCalculate_OneSideWithoutParticipants(t *testing.T) {
	d := stats.Calculate(results([2]int{0, 0}, [2]int{100, 10}), nil, nil)
	if d == nil {
		t.Fatal("expected stats, got nil")
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"control rate", d.ControlRate, 0},
		{"test rate", d.TestRate, 10},
		{"uplift", d.Uplift, 0},
		{"control split", d.TrafficSplit.Control, 0},
		{"test split", d.TrafficSplit.Test, 100},
	}
	for _, c := range checks {
		if math.IsNaN(c.got) || math.IsInf(c.got, 0) {
			t.Errorf("%s: got non-finite %v", c.name, c.got)
		}
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}

	if rec := recommend.Recommend(false, d, 10); rec.Action != recommend.Investigate {
		t.Errorf("got %s, want INVESTIGATE for a one-sided split", rec.Action)
	}
}
