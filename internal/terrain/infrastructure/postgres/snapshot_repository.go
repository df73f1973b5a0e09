package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	terrain "debrisflow-monitor/internal/terrain/domain"
)

const snapshotColumns = `id, location_id, captured_at, source_kind, resolution_m,
	min_lon, min_lat, max_lon, max_lat, raster_path, created_at`

// SnapshotRepository is a Postgres repository for terrain snapshots.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository constructs a repository.
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert commits a snapshot.
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot *terrain.Snapshot) error {
	if r == nil || r.db == nil {
		return errors.New("snapshot repo: nil db")
	}
	if snapshot == nil {
		return errors.New("snapshot repo: nil snapshot")
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO terrain_snapshots (
	id, location_id, captured_at, source_kind, resolution_m,
	min_lon, min_lat, max_lon, max_lat, raster_path, created_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10, $11
)`,
		snapshot.ID, snapshot.LocationID, snapshot.CapturedAt.UTC(), snapshot.SourceKind, snapshot.ResolutionM,
		snapshot.MinLon, snapshot.MinLat, snapshot.MaxLon, snapshot.MaxLat, snapshot.RasterPath, snapshot.CreatedAt)
	return err
}

// GetByID loads a snapshot, nil when absent.
func (r *SnapshotRepository) GetByID(ctx context.Context, snapshotID string) (*terrain.Snapshot, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("snapshot repo: nil db")
	}
	if snapshotID == "" {
		return nil, errors.New("snapshot repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+snapshotColumns+`
FROM terrain_snapshots
WHERE id = $1
LIMIT 1`, snapshotID)
	return scanSnapshot(row)
}

// LatestByLocation returns the newest snapshot for a location, nil when none.
func (r *SnapshotRepository) LatestByLocation(ctx context.Context, locationID string) (*terrain.Snapshot, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("snapshot repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("snapshot repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+snapshotColumns+`
FROM terrain_snapshots
WHERE location_id = $1
ORDER BY captured_at DESC
LIMIT 1`, locationID)
	return scanSnapshot(row)
}

// ListByLocation returns snapshots for a location, newest first.
func (r *SnapshotRepository) ListByLocation(ctx context.Context, locationID string, limit int) ([]terrain.Snapshot, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("snapshot repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("snapshot repo: invalid query")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+snapshotColumns+`
FROM terrain_snapshots
WHERE location_id = $1
ORDER BY captured_at DESC
LIMIT $2`, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []terrain.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanSnapshot(row *sql.Row) (*terrain.Snapshot, error) {
	snapshot, err := scanSnapshotRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

func scanSnapshotRow(row rowScanner) (*terrain.Snapshot, error) {
	var snapshot terrain.Snapshot
	if err := row.Scan(
		&snapshot.ID,
		&snapshot.LocationID,
		&snapshot.CapturedAt,
		&snapshot.SourceKind,
		&snapshot.ResolutionM,
		&snapshot.MinLon,
		&snapshot.MinLat,
		&snapshot.MaxLon,
		&snapshot.MaxLat,
		&snapshot.RasterPath,
		&snapshot.CreatedAt,
	); err != nil {
		return nil, err
	}
	snapshot.CapturedAt = snapshot.CapturedAt.UTC()
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()
	return &snapshot, nil
}
