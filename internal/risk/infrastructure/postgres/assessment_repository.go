package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	risk "debrisflow-monitor/internal/risk/domain"
)

const assessmentColumns = `id, location_id, event_id, assessed_at, threshold_mm_hr, exceedance,
	trigger_probability, saturation, susceptibility, material_availability,
	risk_value, level, degraded, recommendation, created_at`

// AssessmentRepository is a Postgres repository for risk assessments.
type AssessmentRepository struct {
	db *sql.DB
}

// NewAssessmentRepository constructs a repository.
func NewAssessmentRepository(db *sql.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// Insert commits an assessment.
func (r *AssessmentRepository) Insert(ctx context.Context, assessment *risk.Assessment) error {
	if r == nil || r.db == nil {
		return errors.New("assessment repo: nil db")
	}
	if assessment == nil {
		return errors.New("assessment repo: nil assessment")
	}
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO risk_assessments (
	id, location_id, event_id, assessed_at, threshold_mm_hr, exceedance,
	trigger_probability, saturation, susceptibility, material_availability,
	risk_value, level, degraded, recommendation, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10,
	$11, $12, $13, $14, $15
)`, assessment.ID, assessment.LocationID, assessment.EventID, assessment.At.UTC(), assessment.ThresholdMMHr, assessment.Exceedance,
		assessment.TriggerProbability, assessment.Saturation, assessment.Susceptibility, assessment.MaterialAvailability,
		assessment.RiskValue, string(assessment.Level), assessment.Degraded, assessment.Recommendation, assessment.CreatedAt)
	return err
}

// GetByID loads an assessment, nil when absent.
func (r *AssessmentRepository) GetByID(ctx context.Context, assessmentID string) (*risk.Assessment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assessment repo: nil db")
	}
	if assessmentID == "" {
		return nil, errors.New("assessment repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+assessmentColumns+`
FROM risk_assessments
WHERE id = $1
LIMIT 1`, assessmentID)
	assessment, err := scanAssessment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return assessment, nil
}

// LatestByLocation returns the newest assessment for a location, nil when none.
func (r *AssessmentRepository) LatestByLocation(ctx context.Context, locationID string) (*risk.Assessment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assessment repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("assessment repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+assessmentColumns+`
FROM risk_assessments
WHERE location_id = $1
ORDER BY assessed_at DESC
LIMIT 1`, locationID)
	assessment, err := scanAssessment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return assessment, nil
}

// LatestPerLocation returns the newest assessment per location.
func (r *AssessmentRepository) LatestPerLocation(ctx context.Context) ([]risk.Assessment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assessment repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT ON (location_id) `+assessmentColumns+`
FROM risk_assessments
ORDER BY location_id, assessed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssessments(rows)
}

// ListByEvent returns assessments for one rainfall episode, oldest first.
func (r *AssessmentRepository) ListByEvent(ctx context.Context, eventID string) ([]risk.Assessment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("assessment repo: nil db")
	}
	if eventID == "" {
		return nil, errors.New("assessment repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+assessmentColumns+`
FROM risk_assessments
WHERE event_id = $1
ORDER BY assessed_at ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssessments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*risk.Assessment, error) {
	var assessment risk.Assessment
	var level string
	if err := row.Scan(
		&assessment.ID,
		&assessment.LocationID,
		&assessment.EventID,
		&assessment.At,
		&assessment.ThresholdMMHr,
		&assessment.Exceedance,
		&assessment.TriggerProbability,
		&assessment.Saturation,
		&assessment.Susceptibility,
		&assessment.MaterialAvailability,
		&assessment.RiskValue,
		&level,
		&assessment.Degraded,
		&assessment.Recommendation,
		&assessment.CreatedAt,
	); err != nil {
		return nil, err
	}
	assessment.Level = risk.Level(level)
	assessment.At = assessment.At.UTC()
	assessment.CreatedAt = assessment.CreatedAt.UTC()
	return &assessment, nil
}

func scanAssessments(rows *sql.Rows) ([]risk.Assessment, error) {
	var result []risk.Assessment
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *assessment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
