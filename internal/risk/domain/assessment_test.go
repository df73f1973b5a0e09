package risk

import (
	"math"
	"testing"
)

func TestThresholdIntensityCurve(t *testing.T) {
	thresholds := DefaultThresholds()

	// I = 14 * D^-0.4 at one hour is exactly alpha.
	if got := thresholds.ThresholdIntensity(1.0); got != 14.0 {
		t.Fatalf("expected 14.0 at 1h, got %v", got)
	}
	// Longer events have lower critical intensity.
	if thresholds.ThresholdIntensity(10.0) >= thresholds.ThresholdIntensity(1.0) {
		t.Fatalf("expected threshold to fall with duration")
	}
	// Duration is floored so a fresh event evaluates against a finite value.
	zero := thresholds.ThresholdIntensity(0)
	floored := thresholds.ThresholdIntensity(thresholds.MinDurationHours)
	if zero != floored {
		t.Fatalf("expected zero duration floored: %v != %v", zero, floored)
	}
	if math.IsInf(zero, 0) || math.IsNaN(zero) {
		t.Fatalf("expected finite threshold, got %v", zero)
	}
}

func TestEvaluateAntecedentModulation(t *testing.T) {
	thresholds := DefaultThresholds()
	base := Input{
		LocationID:           "loc-1",
		IntensityMMHr:        14.0,
		DurationHours:        1.0,
		Susceptibility:       0.5,
		MaterialAvailability: 0.5,
	}

	dry := Evaluate(thresholds, base)
	if math.Abs(dry.Exceedance-1.0) > 1e-9 {
		t.Fatalf("expected exceedance 1.0 dry, got %v", dry.Exceedance)
	}

	wet := base
	wet.Antecedent7dMM = 60
	if got := Evaluate(thresholds, wet).Exceedance; math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("expected 1.2x for >50mm antecedent, got %v", got)
	}

	// More than 100 mm gets the stronger multiplier, not the weaker one.
	soaked := base
	soaked.Antecedent7dMM = 120
	if got := Evaluate(thresholds, soaked).Exceedance; math.Abs(got-1.4) > 1e-9 {
		t.Fatalf("expected 1.4x for >100mm antecedent, got %v", got)
	}
}

func TestEvaluateOutputsStayInUnitRange(t *testing.T) {
	thresholds := DefaultThresholds()
	extreme := Input{
		LocationID:           "loc-1",
		IntensityMMHr:        500.0,
		DurationHours:        0.5,
		EventTotalMM:         400.0,
		Antecedent7dMM:       300.0,
		Susceptibility:       1.5,
		MaterialAvailability: 2.0,
	}
	assessment := Evaluate(thresholds, extreme)
	for name, value := range map[string]float64{
		"probability":    assessment.TriggerProbability,
		"saturation":     assessment.Saturation,
		"risk_value":     assessment.RiskValue,
		"susceptibility": assessment.Susceptibility,
		"material":       assessment.MaterialAvailability,
	} {
		if value < 0 || value > 1 {
			t.Fatalf("%s out of [0,1]: %v", name, value)
		}
	}
	if assessment.Level != LevelCritical {
		t.Fatalf("expected critical at extreme input, got %s", assessment.Level)
	}
}

func TestEvaluateBucketingIsMonotonic(t *testing.T) {
	thresholds := DefaultThresholds()
	previousRank := 0
	previousValue := -1.0
	for intensity := 0.0; intensity <= 60.0; intensity += 1.0 {
		in := Input{
			LocationID:           "loc-1",
			IntensityMMHr:        intensity,
			DurationHours:        2.0,
			Susceptibility:       0.8,
			MaterialAvailability: 0.8,
		}
		assessment := Evaluate(thresholds, in)
		if assessment.RiskValue < previousValue {
			t.Fatalf("risk value not monotonic at intensity %v", intensity)
		}
		if assessment.Level.Rank() < previousRank {
			t.Fatalf("level rank not monotonic at intensity %v", intensity)
		}
		previousValue = assessment.RiskValue
		previousRank = assessment.Level.Rank()
	}
}

func TestEvaluateSaturationProxy(t *testing.T) {
	thresholds := DefaultThresholds()
	in := Input{
		LocationID:     "loc-1",
		IntensityMMHr:  1.0,
		DurationHours:  1.0,
		EventTotalMM:   30.0,
		Antecedent7dMM: 40.0,
	}
	assessment := Evaluate(thresholds, in)
	if math.Abs(assessment.Saturation-0.7) > 1e-9 {
		t.Fatalf("expected saturation 0.7, got %v", assessment.Saturation)
	}

	in.EventTotalMM = 90
	in.Antecedent7dMM = 40
	if got := Evaluate(thresholds, in).Saturation; got != 1.0 {
		t.Fatalf("expected saturation clamped to 1.0, got %v", got)
	}
}

func TestLevelOrdering(t *testing.T) {
	if !LevelCritical.AtLeast(LevelHigh) {
		t.Fatalf("critical should outrank high")
	}
	if LevelModerate.AtLeast(LevelHigh) {
		t.Fatalf("moderate should not outrank high")
	}
	if Level("bogus").Rank() != 0 {
		t.Fatalf("unknown level should rank 0")
	}
}

func TestRecommendationPerLevel(t *testing.T) {
	seen := map[string]bool{}
	for _, level := range []Level{LevelLow, LevelModerate, LevelHigh, LevelCritical} {
		text := Recommendation(level)
		if text == "" {
			t.Fatalf("empty recommendation for %s", level)
		}
		if seen[text] {
			t.Fatalf("duplicate recommendation for %s", level)
		}
		seen[text] = true
	}
}
