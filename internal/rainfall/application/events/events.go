package events

import "time"

// EventOpened is published when precipitation onset starts a new episode.
type EventOpened struct {
	EventID        string    `json:"event_id"`
	LocationID     string    `json:"location_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	IntensityMMHr  float64   `json:"intensity_mm_hr"`
	Antecedent7dMM float64   `json:"antecedent_7d_mm"`
}

// EventUpdated is published for every qualifying observation folded into an
// open episode. It carries the running aggregates the risk evaluator needs.
type EventUpdated struct {
	EventID           string    `json:"event_id"`
	LocationID        string    `json:"location_id"`
	OccurredAt        time.Time `json:"occurred_at"`
	TotalRainfallMM   float64   `json:"total_rainfall_mm"`
	DurationHours     float64   `json:"duration_hours"`
	IntensityMMHr     float64   `json:"intensity_mm_hr"`
	PeakIntensityMMHr float64   `json:"peak_intensity_mm_hr"`
	Antecedent24hMM   float64   `json:"antecedent_24h_mm"`
	Antecedent7dMM    float64   `json:"antecedent_7d_mm"`
}

// EventClosed is published when the inactivity gap elapses.
type EventClosed struct {
	EventID           string    `json:"event_id"`
	LocationID        string    `json:"location_id"`
	OccurredAt        time.Time `json:"occurred_at"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	TotalRainfallMM   float64   `json:"total_rainfall_mm"`
	PeakIntensityMMHr float64   `json:"peak_intensity_mm_hr"`
	DurationHours     float64   `json:"duration_hours"`
	ThresholdExceeded bool      `json:"threshold_exceeded"`
	PeakExceedance    float64   `json:"peak_exceedance"`
}
