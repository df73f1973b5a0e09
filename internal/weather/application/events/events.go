package events

import "time"

// ObservationAccepted is published after an observation passes validation
// and is committed to storage. The rolling window totals are captured at
// acceptance time so downstream consumers do not re-query the aggregator.
type ObservationAccepted struct {
	ObservationID string    `json:"observation_id"`
	LocationID    string    `json:"location_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	RainfallMM    float64   `json:"rainfall_mm"`
	IntensityMMHr float64   `json:"intensity_mm_hr"`
	Sum1hMM       float64   `json:"sum_1h_mm"`
	Sum24hMM      float64   `json:"sum_24h_mm"`
	Sum7dMM       float64   `json:"sum_7d_mm"`
	Source        string    `json:"source"`
}
