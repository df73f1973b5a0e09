// Package config loads the pipeline tuning file. One YAML document covers
// the rainfall detector, the risk thresholds, the terrain integrator and the
// simulation dispatcher; anything left unset keeps its calibrated default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	rainapp "debrisflow-monitor/internal/rainfall/application"
	risk "debrisflow-monitor/internal/risk/domain"
	simapp "debrisflow-monitor/internal/simulation/application"
	simulation "debrisflow-monitor/internal/simulation/domain"
	terrainapp "debrisflow-monitor/internal/terrain/application"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30m"
// or "6h" as well as bare nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: invalid duration at line %d", value.Line)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		if nanos, intErr := strconv.ParseInt(raw, 10, 64); intErr == nil {
			*d = Duration(nanos)
			return nil
		}
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Pipeline is the full tuning document.
type Pipeline struct {
	Detector   DetectorSection   `yaml:"detector"`
	Risk       RiskSection       `yaml:"risk"`
	Terrain    TerrainSection    `yaml:"terrain"`
	Simulation SimulationSection `yaml:"simulation"`
}

// DetectorSection tunes rainfall episode detection.
type DetectorSection struct {
	OnsetIntensityMMHr float64  `yaml:"onset_intensity_mm_hr"`
	OnsetSum1hMM       float64  `yaml:"onset_sum_1h_mm"`
	InactivityGap      Duration `yaml:"inactivity_gap"`
	ExceedanceLatch    float64  `yaml:"exceedance_latch"`
}

// RiskSection tunes the intensity-duration exceedance model.
type RiskSection struct {
	Alpha                float64   `yaml:"alpha"`
	Beta                 float64   `yaml:"beta"`
	MinDurationHours     float64   `yaml:"min_duration_hours"`
	FieldCapacityMM      float64   `yaml:"field_capacity_mm"`
	ExceedanceSaturation float64   `yaml:"exceedance_saturation"`
	Buckets              []float64 `yaml:"buckets"`
}

// TerrainSection tunes the source-area material integrator.
type TerrainSection struct {
	MaterialHalfLife  Duration `yaml:"material_half_life"`
	MaxDetectionAge   Duration `yaml:"max_detection_age"`
	ReferenceVolumeM3 float64  `yaml:"reference_volume_m3"`
}

// SimulationSection tunes run dispatch and the engine parameters.
// ScheduledRunHourUTC is a pointer so an explicit 0 (midnight) survives.
type SimulationSection struct {
	TriggerLevel        string            `yaml:"trigger_level"`
	TriggerExceedance   float64           `yaml:"trigger_exceedance"`
	TriggerSaturation   float64           `yaml:"trigger_saturation"`
	RunTimeout          Duration          `yaml:"run_timeout"`
	PollInterval        Duration          `yaml:"poll_interval"`
	ScheduledRunHourUTC *int              `yaml:"scheduled_run_hour_utc"`
	ScheduledLocations  []string          `yaml:"scheduled_locations"`
	Params              simulation.Params `yaml:"params"`
}

// Load reads the YAML document at path; an empty or missing path returns the
// zero Pipeline, which resolves to calibrated defaults everywhere.
func Load(path string) (Pipeline, error) {
	var pipeline Pipeline
	if path == "" {
		return pipeline, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline, nil
		}
		return Pipeline{}, fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return Pipeline{}, fmt.Errorf("parse pipeline config: %w", err)
	}
	return pipeline, nil
}

// DetectorConfig resolves the detector tuning, defaults filling the gaps.
func (p Pipeline) DetectorConfig() rainapp.DetectorConfig {
	config := rainapp.DefaultDetectorConfig()
	if p.Detector.OnsetIntensityMMHr > 0 {
		config.OnsetIntensityMMHr = p.Detector.OnsetIntensityMMHr
	}
	if p.Detector.OnsetSum1hMM > 0 {
		config.OnsetSum1hMM = p.Detector.OnsetSum1hMM
	}
	if p.Detector.InactivityGap > 0 {
		config.InactivityGap = p.Detector.InactivityGap.Std()
	}
	if p.Detector.ExceedanceLatch > 0 {
		config.ExceedanceLatch = p.Detector.ExceedanceLatch
	}
	return config
}

// RiskThresholds resolves the risk model tuning, defaults filling the gaps.
func (p Pipeline) RiskThresholds() risk.Thresholds {
	thresholds := risk.DefaultThresholds()
	if p.Risk.Alpha > 0 {
		thresholds.Alpha = p.Risk.Alpha
	}
	if p.Risk.Beta > 0 {
		thresholds.Beta = p.Risk.Beta
	}
	if p.Risk.MinDurationHours > 0 {
		thresholds.MinDurationHours = p.Risk.MinDurationHours
	}
	if p.Risk.FieldCapacityMM > 0 {
		thresholds.FieldCapacityMM = p.Risk.FieldCapacityMM
	}
	if p.Risk.ExceedanceSaturation > 0 {
		thresholds.ExceedanceSaturation = p.Risk.ExceedanceSaturation
	}
	if len(p.Risk.Buckets) == 3 {
		thresholds.Buckets = [3]float64{p.Risk.Buckets[0], p.Risk.Buckets[1], p.Risk.Buckets[2]}
	}
	return thresholds
}

// IntegratorConfig resolves the terrain tuning, defaults filling the gaps.
func (p Pipeline) IntegratorConfig() terrainapp.IntegratorConfig {
	config := terrainapp.DefaultIntegratorConfig()
	if p.Terrain.MaterialHalfLife > 0 {
		config.MaterialHalfLife = p.Terrain.MaterialHalfLife.Std()
	}
	if p.Terrain.MaxDetectionAge > 0 {
		config.MaxDetectionAge = p.Terrain.MaxDetectionAge.Std()
	}
	if p.Terrain.ReferenceVolumeM3 > 0 {
		config.ReferenceVolumeM3 = p.Terrain.ReferenceVolumeM3
	}
	return config
}

// SimulationConfig resolves the dispatch tuning, defaults filling the gaps.
func (p Pipeline) SimulationConfig() simapp.Config {
	config := simapp.DefaultConfig()
	if p.Simulation.TriggerLevel != "" {
		config.TriggerLevel = p.Simulation.TriggerLevel
	}
	if p.Simulation.TriggerExceedance > 0 {
		config.TriggerExceedance = p.Simulation.TriggerExceedance
	}
	if p.Simulation.TriggerSaturation > 0 {
		config.TriggerSaturation = p.Simulation.TriggerSaturation
	}
	if p.Simulation.RunTimeout > 0 {
		config.RunTimeout = p.Simulation.RunTimeout.Std()
	}
	if p.Simulation.PollInterval > 0 {
		config.PollInterval = p.Simulation.PollInterval.Std()
	}
	if hour := p.Simulation.ScheduledRunHourUTC; hour != nil && *hour >= 0 && *hour <= 23 {
		config.ScheduledRunHourUTC = *hour
	}
	if len(p.Simulation.ScheduledLocations) > 0 {
		config.ScheduledLocations = p.Simulation.ScheduledLocations
	}
	config.Params = mergeParams(p.Simulation.Params)
	return config
}

func mergeParams(params simulation.Params) simulation.Params {
	defaults := simulation.DefaultParams()
	if params.FrictionModel == "" {
		params.FrictionModel = defaults.FrictionModel
	}
	if params.FrictionMu <= 0 {
		params.FrictionMu = defaults.FrictionMu
	}
	if params.MassToDragM <= 0 {
		params.MassToDragM = defaults.MassToDragM
	}
	if params.Iterations <= 0 {
		params.Iterations = defaults.Iterations
	}
	if params.SlopeThresholdDeg <= 0 {
		params.SlopeThresholdDeg = defaults.SlopeThresholdDeg
	}
	if params.WalkExponent <= 0 {
		params.WalkExponent = defaults.WalkExponent
	}
	if params.Persistence <= 0 {
		params.Persistence = defaults.Persistence
	}
	return params
}
