package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	weather "debrisflow-monitor/internal/weather/domain"
)

const defaultObservationsTable = "weather_observations"

// ObservationRepository is a Postgres repository for weather observations.
type ObservationRepository struct {
	db    *sql.DB
	table string
}

// NewObservationRepository constructs a repository.
func NewObservationRepository(db *sql.DB) *ObservationRepository {
	return &ObservationRepository{db: db, table: defaultObservationsTable}
}

// Insert commits one observation.
func (r *ObservationRepository) Insert(ctx context.Context, obs *weather.Observation) error {
	if r == nil || r.db == nil {
		return errors.New("observation repo: nil db")
	}
	if obs == nil {
		return errors.New("observation repo: nil observation")
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO weather_observations (
	id, location_id, lon, lat, ts, rainfall_mm, intensity_mm_hr,
	temperature_c, humidity_pct, wind_speed_ms, source, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`, obs.ID, obs.LocationID, obs.Lon, obs.Lat, obs.Timestamp.UTC(), obs.RainfallMM, obs.IntensityMMHr,
		obs.TemperatureC, obs.HumidityPct, obs.WindSpeedMS, obs.Source, obs.CreatedAt)
	return err
}

// LatestTimestamp returns the newest committed timestamp for a location.
func (r *ObservationRepository) LatestTimestamp(ctx context.Context, locationID string) (time.Time, bool, error) {
	if r == nil || r.db == nil {
		return time.Time{}, false, errors.New("observation repo: nil db")
	}
	if locationID == "" {
		return time.Time{}, false, errors.New("observation repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT ts
FROM weather_observations
WHERE location_id = $1
ORDER BY ts DESC
LIMIT 1`, locationID)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts.UTC(), true, nil
}

// ListRange returns observations in [from, to] ascending by timestamp.
func (r *ObservationRepository) ListRange(ctx context.Context, locationID string, from, to time.Time) ([]weather.Observation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("observation repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("observation repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, location_id, lon, lat, ts, rainfall_mm, intensity_mm_hr,
	temperature_c, humidity_pct, wind_speed_ms, source, created_at
FROM weather_observations
WHERE location_id = $1 AND ts >= $2 AND ts <= $3
ORDER BY ts ASC`, locationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// ListRecent returns the latest observations for a location, newest first.
func (r *ObservationRepository) ListRecent(ctx context.Context, locationID string, limit int) ([]weather.Observation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("observation repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("observation repo: invalid query")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, location_id, lon, lat, ts, rainfall_mm, intensity_mm_hr,
	temperature_c, humidity_pct, wind_speed_ms, source, created_at
FROM weather_observations
WHERE location_id = $1
ORDER BY ts DESC
LIMIT $2`, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]weather.Observation, error) {
	var result []weather.Observation
	for rows.Next() {
		var obs weather.Observation
		if err := rows.Scan(
			&obs.ID,
			&obs.LocationID,
			&obs.Lon,
			&obs.Lat,
			&obs.Timestamp,
			&obs.RainfallMM,
			&obs.IntensityMMHr,
			&obs.TemperatureC,
			&obs.HumidityPct,
			&obs.WindSpeedMS,
			&obs.Source,
			&obs.CreatedAt,
		); err != nil {
			return nil, err
		}
		obs.Timestamp = obs.Timestamp.UTC()
		obs.CreatedAt = obs.CreatedAt.UTC()
		result = append(result, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
