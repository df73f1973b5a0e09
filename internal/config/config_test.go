package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesHumanReadableDurations(t *testing.T) {
	path := writeConfig(t, `
detector:
  onset_intensity_mm_hr: 0.5
  inactivity_gap: 45m
terrain:
  material_half_life: 2160h
  reference_volume_m3: 8000
simulation:
  trigger_level: critical
  run_timeout: 1h30m
  poll_interval: 5s
  scheduled_run_hour_utc: 0
`)
	pipeline, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	detector := pipeline.DetectorConfig()
	if detector.OnsetIntensityMMHr != 0.5 {
		t.Fatalf("expected onset override, got %v", detector.OnsetIntensityMMHr)
	}
	if detector.InactivityGap != 45*time.Minute {
		t.Fatalf("expected 45m inactivity gap, got %v", detector.InactivityGap)
	}
	// Unset detector fields keep their defaults.
	if detector.OnsetSum1hMM != 1.0 {
		t.Fatalf("expected default onset sum, got %v", detector.OnsetSum1hMM)
	}

	terrain := pipeline.IntegratorConfig()
	if terrain.MaterialHalfLife != 2160*time.Hour {
		t.Fatalf("expected 90d half-life, got %v", terrain.MaterialHalfLife)
	}
	if terrain.ReferenceVolumeM3 != 8000 {
		t.Fatalf("expected reference volume override, got %v", terrain.ReferenceVolumeM3)
	}

	sim := pipeline.SimulationConfig()
	if sim.TriggerLevel != "critical" {
		t.Fatalf("expected trigger level override, got %q", sim.TriggerLevel)
	}
	if sim.RunTimeout != 90*time.Minute {
		t.Fatalf("expected 1h30m run timeout, got %v", sim.RunTimeout)
	}
	if sim.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %v", sim.PollInterval)
	}
	// An explicit midnight hour is kept, not treated as unset.
	if sim.ScheduledRunHourUTC != 0 {
		t.Fatalf("expected scheduled hour 0, got %d", sim.ScheduledRunHourUTC)
	}
	if sim.Params.FrictionModel != "voellmy" {
		t.Fatalf("expected default engine params, got %+v", sim.Params)
	}
}

func TestLoadAppliesRiskOverrides(t *testing.T) {
	path := writeConfig(t, `
risk:
  alpha: 18.0
  field_capacity_mm: 120
  buckets: [0.2, 0.4, 0.6]
`)
	pipeline, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	thresholds := pipeline.RiskThresholds()
	if thresholds.Alpha != 18.0 {
		t.Fatalf("expected alpha override, got %v", thresholds.Alpha)
	}
	if thresholds.Beta != 0.4 {
		t.Fatalf("expected default beta, got %v", thresholds.Beta)
	}
	if thresholds.FieldCapacityMM != 120 {
		t.Fatalf("expected field capacity override, got %v", thresholds.FieldCapacityMM)
	}
	if thresholds.Buckets != [3]float64{0.2, 0.4, 0.6} {
		t.Fatalf("expected bucket override, got %v", thresholds.Buckets)
	}
	if err := thresholds.Validate(); err != nil {
		t.Fatalf("expected valid thresholds: %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.yaml")} {
		pipeline, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%q): %v", path, err)
		}
		if got := pipeline.SimulationConfig().RunTimeout; got != 30*time.Minute {
			t.Fatalf("expected default run timeout, got %v", got)
		}
		if got := pipeline.DetectorConfig().OnsetIntensityMMHr; got != 0.2 {
			t.Fatalf("expected default onset intensity, got %v", got)
		}
		if got := pipeline.SimulationConfig().ScheduledRunHourUTC; got != 3 {
			t.Fatalf("expected default scheduled hour, got %d", got)
		}
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := writeConfig(t, `
simulation:
  run_timeout: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}
