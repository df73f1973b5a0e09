package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	terrain "debrisflow-monitor/internal/terrain/domain"
)

const detectionColumns = `id, baseline_snapshot_id, comparison_snapshot_id, dod_raster_path,
	detected_at, min_lon, min_lat, max_lon, max_lat,
	erosion_volume_m3, deposition_volume_m3, change_area_m2, lod_threshold_m, created_at`

// DetectionRepository is a Postgres repository for change detections.
type DetectionRepository struct {
	db *sql.DB
}

// NewDetectionRepository constructs a repository.
func NewDetectionRepository(db *sql.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Insert commits a detection unless its snapshot pair was already recorded.
func (r *DetectionRepository) Insert(ctx context.Context, detection *terrain.Detection) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("detection repo: nil db")
	}
	if detection == nil {
		return false, errors.New("detection repo: nil detection")
	}
	if detection.CreatedAt.IsZero() {
		detection.CreatedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO change_detections (
	id, baseline_snapshot_id, comparison_snapshot_id, dod_raster_path,
	detected_at, min_lon, min_lat, max_lon, max_lat,
	erosion_volume_m3, deposition_volume_m3, change_area_m2, lod_threshold_m, created_at
) VALUES (
	$1, $2, $3, $4,
	$5, $6, $7, $8, $9,
	$10, $11, $12, $13, $14
)
ON CONFLICT (baseline_snapshot_id, comparison_snapshot_id) DO NOTHING`,
		detection.ID, detection.BaselineSnapshotID, detection.ComparisonSnapshotID, detection.DoDRasterPath,
		detection.DetectedAt.UTC(), detection.MinLon, detection.MinLat, detection.MaxLon, detection.MaxLat,
		detection.ErosionVolumeM3, detection.DepositionVolumeM3, detection.ChangeAreaM2, detection.LoDThresholdM,
		detection.CreatedAt)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListRecent returns the latest detections, newest first.
func (r *DetectionRepository) ListRecent(ctx context.Context, limit int) ([]terrain.Detection, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("detection repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+detectionColumns+`
FROM change_detections
ORDER BY detected_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []terrain.Detection
	for rows.Next() {
		var detection terrain.Detection
		if err := rows.Scan(
			&detection.ID,
			&detection.BaselineSnapshotID,
			&detection.ComparisonSnapshotID,
			&detection.DoDRasterPath,
			&detection.DetectedAt,
			&detection.MinLon,
			&detection.MinLat,
			&detection.MaxLon,
			&detection.MaxLat,
			&detection.ErosionVolumeM3,
			&detection.DepositionVolumeM3,
			&detection.ChangeAreaM2,
			&detection.LoDThresholdM,
			&detection.CreatedAt,
		); err != nil {
			return nil, err
		}
		detection.DetectedAt = detection.DetectedAt.UTC()
		detection.CreatedAt = detection.CreatedAt.UTC()
		result = append(result, detection)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
