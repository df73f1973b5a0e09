package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	rainfall "debrisflow-monitor/internal/rainfall/domain"
)

const eventColumns = `id, location_id, status, started_at, last_rainfall_at, ended_at,
	total_rainfall_mm, peak_intensity_mm_hr, antecedent_7d_mm,
	threshold_exceeded, peak_exceedance, created_at, updated_at`

// EventRepository is a Postgres repository for rainfall events.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert commits a new event.
func (r *EventRepository) Insert(ctx context.Context, event *rainfall.Event) error {
	if r == nil || r.db == nil {
		return errors.New("rainfall repo: nil db")
	}
	if event == nil {
		return errors.New("rainfall repo: nil event")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO rainfall_events (
	id, location_id, status, started_at, last_rainfall_at, ended_at,
	total_rainfall_mm, peak_intensity_mm_hr, antecedent_7d_mm,
	threshold_exceeded, peak_exceedance, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9,
	$10, $11, $12, $13
)`, event.ID, event.LocationID, string(event.Status), event.StartedAt, event.LastRainfallAt, event.EndedAt,
		event.TotalRainfallMM, event.PeakIntensityMMHr, event.Antecedent7dMM,
		event.ThresholdExceeded, event.PeakExceedance, event.CreatedAt, event.UpdatedAt)
	return err
}

// Update rewrites the mutable event fields.
func (r *EventRepository) Update(ctx context.Context, event *rainfall.Event) error {
	if r == nil || r.db == nil {
		return errors.New("rainfall repo: nil db")
	}
	if event == nil {
		return errors.New("rainfall repo: nil event")
	}
	event.UpdatedAt = event.UpdatedAt.UTC()
	_, err := r.db.ExecContext(ctx, `
UPDATE rainfall_events SET
	status = $2,
	last_rainfall_at = $3,
	ended_at = $4,
	total_rainfall_mm = $5,
	peak_intensity_mm_hr = $6,
	threshold_exceeded = $7,
	peak_exceedance = $8,
	updated_at = $9
WHERE id = $1`, event.ID, string(event.Status), event.LastRainfallAt, event.EndedAt,
		event.TotalRainfallMM, event.PeakIntensityMMHr,
		event.ThresholdExceeded, event.PeakExceedance, event.UpdatedAt)
	return err
}

// GetActive loads the open event for a location, nil when none.
func (r *EventRepository) GetActive(ctx context.Context, locationID string) (*rainfall.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rainfall repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("rainfall repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+eventColumns+`
FROM rainfall_events
WHERE location_id = $1 AND status = 'active'
ORDER BY started_at DESC
LIMIT 1`, locationID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// ListActive returns every open event across locations.
func (r *EventRepository) ListActive(ctx context.Context) ([]rainfall.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rainfall repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+eventColumns+`
FROM rainfall_events
WHERE status = 'active'
ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetByID loads an event by id, nil when absent.
func (r *EventRepository) GetByID(ctx context.Context, eventID string) (*rainfall.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rainfall repo: nil db")
	}
	if eventID == "" {
		return nil, errors.New("rainfall repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+eventColumns+`
FROM rainfall_events
WHERE id = $1
LIMIT 1`, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// ListRecent returns the latest events for a location, newest first.
func (r *EventRepository) ListRecent(ctx context.Context, locationID string, limit int) ([]rainfall.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rainfall repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("rainfall repo: invalid query")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+eventColumns+`
FROM rainfall_events
WHERE location_id = $1
ORDER BY started_at DESC
LIMIT $2`, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*rainfall.Event, error) {
	var event rainfall.Event
	var status string
	var endedAt sql.NullTime
	if err := row.Scan(
		&event.ID,
		&event.LocationID,
		&status,
		&event.StartedAt,
		&event.LastRainfallAt,
		&endedAt,
		&event.TotalRainfallMM,
		&event.PeakIntensityMMHr,
		&event.Antecedent7dMM,
		&event.ThresholdExceeded,
		&event.PeakExceedance,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, err
	}
	event.Status = rainfall.EventStatus(status)
	event.StartedAt = event.StartedAt.UTC()
	event.LastRainfallAt = event.LastRainfallAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		event.EndedAt = &t
	}
	event.CreatedAt = event.CreatedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()
	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]rainfall.Event, error) {
	var result []rainfall.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
