package events

import "time"

// RiskAssessed is published after every risk evaluation. It drives the
// simulation dispatcher, the alert escalation path and the exceedance latch
// on the open rainfall episode.
type RiskAssessed struct {
	AssessmentID       string    `json:"assessment_id"`
	LocationID         string    `json:"location_id"`
	EventID            string    `json:"event_id"`
	OccurredAt         time.Time `json:"occurred_at"`
	ThresholdMMHr      float64   `json:"threshold_mm_hr"`
	Exceedance         float64   `json:"exceedance"`
	TriggerProbability float64   `json:"trigger_probability"`
	Saturation         float64   `json:"saturation"`
	RiskValue          float64   `json:"risk_value"`
	Level              string    `json:"level"`
	Degraded           bool      `json:"degraded"`
	Recommendation     string    `json:"recommendation"`
}

// ZoneMaterialized is published once a completed run produces a hazard zone.
type ZoneMaterialized struct {
	ZoneID     string    `json:"zone_id"`
	RunID      string    `json:"run_id"`
	LocationID string    `json:"location_id"`
	OccurredAt time.Time `json:"occurred_at"`
	RiskValue  float64   `json:"risk_value"`
	Level      string    `json:"level"`
}
