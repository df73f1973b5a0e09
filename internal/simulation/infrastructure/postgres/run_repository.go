package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	simulation "debrisflow-monitor/internal/simulation/domain"
)

const runColumns = `id, dedupe_key, location_id, snapshot_id, event_id, assessment_id, trigger_type, status,
	engine_job_id, params, affected_area_m2, max_depth_m, max_velocity_ms,
	risk_level, boundary_wkt, error, requested_by,
	submitted_at, started_at, finished_at, created_at, updated_at`

// RunRepository is a Postgres repository for simulation runs.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository constructs a repository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateIfAbsent inserts the run unless its dedupe key is taken.
func (r *RunRepository) CreateIfAbsent(ctx context.Context, run *simulation.Run) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("run repo: nil db")
	}
	if run == nil {
		return false, errors.New("run repo: nil run")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return false, err
	}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO simulation_runs (
	id, dedupe_key, location_id, snapshot_id, event_id, assessment_id, trigger_type, status,
	engine_job_id, params, error, requested_by,
	submitted_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12,
	$13, $14, $15
)
ON CONFLICT (dedupe_key) DO NOTHING`,
		run.ID, run.DedupeKey(), run.LocationID, run.SnapshotID, run.EventID, run.AssessmentID, string(run.Trigger), string(run.Status),
		run.EngineJobID, params, run.Error, run.RequestedBy,
		run.SubmittedAt, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkRunning records the engine job id on a pending run.
func (r *RunRepository) MarkRunning(ctx context.Context, runID, engineJobID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("run repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE simulation_runs SET
	status = 'running',
	engine_job_id = $2,
	started_at = $3,
	updated_at = $3
WHERE id = $1 AND status = 'pending'`, runID, engineJobID, at.UTC())
	return err
}

// FinishTerminal moves an in-flight run to a terminal status. The status
// guard makes the transition first-writer-wins: a run already finished is
// left untouched and reported as not transitioned.
func (r *RunRepository) FinishTerminal(ctx context.Context, runID string, status simulation.RunStatus, result *simulation.Result, errMsg string, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("run repo: nil db")
	}
	if !status.Terminal() {
		return false, errors.New("run repo: status is not terminal")
	}
	var area, depth, velocity sql.NullFloat64
	var level, boundary sql.NullString
	if result != nil {
		area = sql.NullFloat64{Float64: result.AffectedAreaM2, Valid: true}
		depth = sql.NullFloat64{Float64: result.MaxDepthM, Valid: true}
		velocity = sql.NullFloat64{Float64: result.MaxVelocityMS, Valid: true}
		level = sql.NullString{String: result.RiskLevel, Valid: true}
		boundary = sql.NullString{String: result.BoundaryWKT, Valid: result.BoundaryWKT != ""}
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE simulation_runs SET
	status = $2,
	affected_area_m2 = $3,
	max_depth_m = $4,
	max_velocity_ms = $5,
	risk_level = $6,
	boundary_wkt = $7,
	error = $8,
	finished_at = $9,
	updated_at = $9
WHERE id = $1 AND status IN ('pending', 'running')`,
		runID, string(status), area, depth, velocity, level, boundary, errMsg, at.UTC())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetByID loads a run, nil when absent.
func (r *RunRepository) GetByID(ctx context.Context, runID string) (*simulation.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("run repo: nil db")
	}
	if runID == "" {
		return nil, errors.New("run repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+runColumns+`
FROM simulation_runs
WHERE id = $1
LIMIT 1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// ListInFlight returns pending and running runs, oldest first.
func (r *RunRepository) ListInFlight(ctx context.Context) ([]simulation.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("run repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM simulation_runs
WHERE status IN ('pending', 'running')
ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// HasInFlight reports whether a pending or running run exists for the
// location.
func (r *RunRepository) HasInFlight(ctx context.Context, locationID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("run repo: nil db")
	}
	if locationID == "" {
		return false, errors.New("run repo: invalid query")
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM simulation_runs
	WHERE location_id = $1 AND status IN ('pending', 'running')
)`, locationID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListRecent returns the latest runs, newest first. An empty location lists
// across locations.
func (r *RunRepository) ListRecent(ctx context.Context, locationID string, limit int) ([]simulation.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("run repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if locationID == "" {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM simulation_runs
ORDER BY submitted_at DESC
LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM simulation_runs
WHERE location_id = $1
ORDER BY submitted_at DESC
LIMIT $2`, locationID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*simulation.Run, error) {
	var run simulation.Run
	var dedupeKey, trigger, status string
	var params []byte
	var area, depth, velocity sql.NullFloat64
	var level, boundary sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&run.ID,
		&dedupeKey,
		&run.LocationID,
		&run.SnapshotID,
		&run.EventID,
		&run.AssessmentID,
		&trigger,
		&status,
		&run.EngineJobID,
		&params,
		&area,
		&depth,
		&velocity,
		&level,
		&boundary,
		&run.Error,
		&run.RequestedBy,
		&run.SubmittedAt,
		&startedAt,
		&finishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Trigger = simulation.TriggerType(trigger)
	run.Status = simulation.RunStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return nil, err
		}
	}
	if area.Valid || level.Valid {
		run.Result = &simulation.Result{
			AffectedAreaM2: area.Float64,
			MaxDepthM:      depth.Float64,
			MaxVelocityMS:  velocity.Float64,
			RiskLevel:      level.String,
			BoundaryWKT:    boundary.String,
		}
	}
	run.SubmittedAt = run.SubmittedAt.UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]simulation.Run, error) {
	var result []simulation.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
