package events

import "time"

// RunDispatched is published when a simulation run is created and submitted.
type RunDispatched struct {
	RunID      string    `json:"run_id"`
	LocationID string    `json:"location_id"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	EventID    string    `json:"event_id"`
	Trigger    string    `json:"trigger"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RunCompleted is published when the engine reports a successful run.
type RunCompleted struct {
	RunID           string    `json:"run_id"`
	LocationID      string    `json:"location_id"`
	SnapshotID      string    `json:"snapshot_id,omitempty"`
	EventID         string    `json:"event_id"`
	AssessmentID    string    `json:"assessment_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	AffectedAreaM2  float64   `json:"affected_area_m2"`
	MaxDepthM       float64   `json:"max_depth_m"`
	MaxVelocityMS   float64   `json:"max_velocity_ms"`
	RiskLevel       string    `json:"risk_level"`
	BoundaryWKT     string    `json:"boundary_wkt,omitempty"`
}

// RunFailed is published when a run fails or times out.
type RunFailed struct {
	RunID      string    `json:"run_id"`
	LocationID string    `json:"location_id"`
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason"`
}

// RunCanceled is published when an operator cancels an in-flight run.
type RunCanceled struct {
	RunID      string    `json:"run_id"`
	LocationID string    `json:"location_id"`
	OccurredAt time.Time `json:"occurred_at"`
	CanceledBy string    `json:"canceled_by"`
}
