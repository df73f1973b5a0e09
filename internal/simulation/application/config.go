package application

import (
	"time"

	simulation "debrisflow-monitor/internal/simulation/domain"
)

// Config tunes dispatch, polling and the engine parameters. The pipeline
// config file populates it at startup; defaults fill anything left unset.
type Config struct {
	// Dispatch thresholds: a run is triggered when the assessment level
	// reaches TriggerLevel, or exceedance or saturation reach their values.
	TriggerLevel        string
	TriggerExceedance   float64
	TriggerSaturation   float64
	RunTimeout          time.Duration
	PollInterval        time.Duration
	ScheduledRunHourUTC int
	ScheduledLocations  []string
	Params              simulation.Params
}

// DefaultConfig returns the standard dispatch tuning.
func DefaultConfig() Config {
	return Config{
		TriggerLevel:        "high",
		TriggerExceedance:   1.0,
		TriggerSaturation:   0.7,
		RunTimeout:          30 * time.Minute,
		PollInterval:        10 * time.Second,
		ScheduledRunHourUTC: 3,
		Params:              simulation.DefaultParams(),
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TriggerLevel == "" {
		c.TriggerLevel = defaults.TriggerLevel
	}
	if c.TriggerExceedance <= 0 {
		c.TriggerExceedance = defaults.TriggerExceedance
	}
	if c.TriggerSaturation <= 0 {
		c.TriggerSaturation = defaults.TriggerSaturation
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ScheduledRunHourUTC < 0 || c.ScheduledRunHourUTC > 23 {
		c.ScheduledRunHourUTC = defaults.ScheduledRunHourUTC
	}
	if c.Params.FrictionModel == "" {
		c.Params.FrictionModel = defaults.Params.FrictionModel
	}
	if c.Params.FrictionMu <= 0 {
		c.Params.FrictionMu = defaults.Params.FrictionMu
	}
	if c.Params.MassToDragM <= 0 {
		c.Params.MassToDragM = defaults.Params.MassToDragM
	}
	if c.Params.Iterations <= 0 {
		c.Params.Iterations = defaults.Params.Iterations
	}
	if c.Params.SlopeThresholdDeg <= 0 {
		c.Params.SlopeThresholdDeg = defaults.Params.SlopeThresholdDeg
	}
	if c.Params.WalkExponent <= 0 {
		c.Params.WalkExponent = defaults.Params.WalkExponent
	}
	if c.Params.Persistence <= 0 {
		c.Params.Persistence = defaults.Params.Persistence
	}
	return c
}
