package postgres

import (
	"context"
	"database/sql"
	"errors"

	alerts "debrisflow-monitor/internal/alerts/domain"
)

const alertColumns = `id, alert_type, severity, location_id, message, recommendation,
	related_run_id, related_event_id, occurrences,
	acknowledged_by, acknowledged_at, created_at, updated_at`

// AlertRepository is a Postgres repository for operator alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Insert stores a new alert.
func (r *AlertRepository) Insert(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, alert_type, severity, location_id, message, recommendation,
	related_run_id, related_event_id, occurrences,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9,
	$10, $11
)`,
		alert.ID, string(alert.Type), string(alert.Severity), alert.LocationID, alert.Message, alert.Recommendation,
		alert.RelatedRunID, alert.RelatedEventID, alert.Occurrences,
		alert.CreatedAt.UTC(), alert.UpdatedAt.UTC())
	return err
}

// Update rewrites the mutable fields of an existing alert.
func (r *AlertRepository) Update(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	var acknowledgedAt sql.NullTime
	if alert.AcknowledgedAt != nil {
		acknowledgedAt = sql.NullTime{Time: alert.AcknowledgedAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts SET
	message = $2,
	occurrences = $3,
	acknowledged_by = $4,
	acknowledged_at = $5,
	updated_at = $6
WHERE id = $1`,
		alert.ID, alert.Message, alert.Occurrences,
		alert.AcknowledgedBy, acknowledgedAt, alert.UpdatedAt.UTC())
	return err
}

// GetByID loads an alert, nil when absent.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if id == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE id = $1
LIMIT 1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

// FindOpen returns the newest unacknowledged alert of the given type that
// references the related run or event, nil when absent.
func (r *AlertRepository) FindOpen(ctx context.Context, alertType alerts.AlertType, relatedID string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if relatedID == "" {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE alert_type = $1
  AND acknowledged_at IS NULL
  AND (related_run_id = $2 OR related_event_id = $2)
ORDER BY created_at DESC
LIMIT 1`, string(alertType), relatedID)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

// ListRecent returns the latest alerts, newest first. An empty location lists
// across locations.
func (r *AlertRepository) ListRecent(ctx context.Context, locationID string, unacknowledgedOnly bool, limit int) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT ` + alertColumns + `
FROM alerts
WHERE ($1 = '' OR location_id = $1)`
	if unacknowledgedOnly {
		query += `
  AND acknowledged_at IS NULL`
	}
	query += `
ORDER BY updated_at DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var alertType, severity string
	var acknowledgedBy sql.NullString
	var acknowledgedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alertType,
		&severity,
		&alert.LocationID,
		&alert.Message,
		&alert.Recommendation,
		&alert.RelatedRunID,
		&alert.RelatedEventID,
		&alert.Occurrences,
		&acknowledgedBy,
		&acknowledgedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return nil, err
	}
	alert.Type = alerts.AlertType(alertType)
	alert.Severity = alerts.Severity(severity)
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time.UTC()
		alert.AcknowledgedAt = &t
	}
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	return &alert, nil
}
