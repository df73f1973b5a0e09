package risk

import (
	"errors"
	"math"
	"time"
)

// Level is an ordered hazard classification.
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels for comparison; unknown levels rank below low.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelModerate:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether the level meets or exceeds another.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// Thresholds parameterizes the intensity-duration exceedance model.
type Thresholds struct {
	// Alpha and Beta define the intensity-duration curve I = Alpha * D^-Beta
	// in mm/hr for D in hours.
	Alpha float64
	Beta  float64
	// MinDurationHours floors the duration so fresh events evaluate against
	// a finite threshold.
	MinDurationHours float64
	// FieldCapacityMM is the soil storage used by the saturation proxy.
	FieldCapacityMM float64
	// ExceedanceSaturation maps exceedance onto [0,1] trigger probability;
	// exceedance at or above this value saturates to probability 1.
	ExceedanceSaturation float64
	// Buckets are the composite risk value cut points for moderate, high and
	// critical, in ascending order.
	Buckets [3]float64
}

// DefaultThresholds returns the calibrated regional defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Alpha:                14.0,
		Beta:                 0.4,
		MinDurationHours:     0.1,
		FieldCapacityMM:      100.0,
		ExceedanceSaturation: 2.0,
		Buckets:              [3]float64{0.25, 0.5, 0.75},
	}
}

// Validate checks threshold parameters.
func (t Thresholds) Validate() error {
	if t.Alpha <= 0 || t.Beta <= 0 {
		return errors.New("risk: invalid intensity-duration curve")
	}
	if t.FieldCapacityMM <= 0 {
		return errors.New("risk: invalid field capacity")
	}
	if t.ExceedanceSaturation <= 0 {
		return errors.New("risk: invalid exceedance saturation")
	}
	if !(t.Buckets[0] < t.Buckets[1] && t.Buckets[1] < t.Buckets[2]) {
		return errors.New("risk: buckets not ascending")
	}
	return nil
}

// ThresholdIntensity returns the critical intensity in mm/hr for an event of
// the given duration.
func (t Thresholds) ThresholdIntensity(durationHours float64) float64 {
	if durationHours < t.MinDurationHours {
		durationHours = t.MinDurationHours
	}
	return t.Alpha * math.Pow(durationHours, -t.Beta)
}

// Input carries the rainfall and terrain factors for one evaluation.
type Input struct {
	LocationID      string
	EventID         string
	At              time.Time
	IntensityMMHr   float64
	DurationHours   float64
	EventTotalMM    float64
	Antecedent24hMM float64
	Antecedent7dMM  float64
	// Susceptibility is the static terrain disposition in [0,1].
	Susceptibility float64
	// MaterialAvailability is the current source-area material in [0,1].
	MaterialAvailability float64
	// DegradedTerrain marks evaluations made without terrain data; the
	// assessment carries reduced confidence.
	DegradedTerrain bool
}

// Assessment is the outcome of one risk evaluation.
type Assessment struct {
	ID                   string
	LocationID           string
	EventID              string
	At                   time.Time
	ThresholdMMHr        float64
	Exceedance           float64
	TriggerProbability   float64
	Saturation           float64
	Susceptibility       float64
	MaterialAvailability float64
	RiskValue            float64
	Level                Level
	Degraded             bool
	Recommendation       string
	CreatedAt            time.Time
}

// Evaluate computes the assessment for one input against the thresholds.
// Wet antecedent conditions raise the effective exceedance: more than 100 mm
// over 7 days scales it by 1.4, more than 50 mm by 1.2.
func Evaluate(t Thresholds, in Input) Assessment {
	threshold := t.ThresholdIntensity(in.DurationHours)
	exceedance := 0.0
	if threshold > 0 {
		exceedance = in.IntensityMMHr / threshold
	}
	switch {
	case in.Antecedent7dMM > 100:
		exceedance *= 1.4
	case in.Antecedent7dMM > 50:
		exceedance *= 1.2
	}

	saturation := clamp01((in.EventTotalMM + in.Antecedent7dMM) / t.FieldCapacityMM)
	probability := clamp01(exceedance / t.ExceedanceSaturation)

	susceptibility := clamp01(in.Susceptibility)
	material := clamp01(in.MaterialAvailability)
	value := clamp01(math.Pow(probability, 0.5) * math.Pow(susceptibility, 0.3) * math.Pow(material, 0.2))

	level := t.LevelFor(value)
	return Assessment{
		LocationID:           in.LocationID,
		EventID:              in.EventID,
		At:                   in.At,
		ThresholdMMHr:        threshold,
		Exceedance:           exceedance,
		TriggerProbability:   probability,
		Saturation:           saturation,
		Susceptibility:       susceptibility,
		MaterialAvailability: material,
		RiskValue:            value,
		Level:                level,
		Degraded:             in.DegradedTerrain,
		Recommendation:       Recommendation(level),
	}
}

// LevelFor buckets a composite risk value into the ordered levels.
func (t Thresholds) LevelFor(value float64) Level {
	switch {
	case value >= t.Buckets[2]:
		return LevelCritical
	case value >= t.Buckets[1]:
		return LevelHigh
	case value >= t.Buckets[0]:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Recommendation maps a level to the operator guidance string.
func Recommendation(level Level) string {
	switch level {
	case LevelCritical:
		return "Immediate action: evacuate exposed areas and block affected road sections"
	case LevelHigh:
		return "Alert response teams and prepare road closures in runout corridors"
	case LevelModerate:
		return "Increase monitoring frequency and verify station telemetry"
	default:
		return "Routine monitoring"
	}
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
