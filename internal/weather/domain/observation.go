package weather

import (
	"context"
	"errors"
	"time"
)

// ErrOutOfOrder indicates an observation older than the latest committed one.
var ErrOutOfOrder = errors.New("weather: observation out of order")

// ErrDuplicateTimestamp indicates an observation with an already committed timestamp.
var ErrDuplicateTimestamp = errors.New("weather: duplicate observation timestamp")

// ErrNegativeRainfall indicates negative precipitation values.
var ErrNegativeRainfall = errors.New("weather: negative rainfall")

// ErrMissingLocation indicates an observation without a monitored location.
var ErrMissingLocation = errors.New("weather: missing location id")

// Observation is a single timestamped point reading for a monitored location.
type Observation struct {
	ID            string
	LocationID    string
	Lon           float64
	Lat           float64
	Timestamp     time.Time
	RainfallMM    float64
	IntensityMMHr float64
	TemperatureC  *float64
	HumidityPct   *float64
	WindSpeedMS   *float64
	Source        string
	CreatedAt     time.Time
}

// Validate checks observation fields that are rejected at the ingest boundary.
func (o Observation) Validate() error {
	if o.LocationID == "" {
		return ErrMissingLocation
	}
	if o.Timestamp.IsZero() {
		return errors.New("weather: missing timestamp")
	}
	if o.RainfallMM < 0 || o.IntensityMMHr < 0 {
		return ErrNegativeRainfall
	}
	return nil
}

// ObservationRepository persists weather observations.
type ObservationRepository interface {
	Insert(ctx context.Context, obs *Observation) error
	LatestTimestamp(ctx context.Context, locationID string) (time.Time, bool, error)
	ListRange(ctx context.Context, locationID string, from, to time.Time) ([]Observation, error)
	ListRecent(ctx context.Context, locationID string, limit int) ([]Observation, error)
}
