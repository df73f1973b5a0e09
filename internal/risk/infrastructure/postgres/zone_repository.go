package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	risk "debrisflow-monitor/internal/risk/domain"
)

const zoneColumns = `id, run_id, location_id, risk_value, level, trigger_probability,
	flow_intensity, boundary, affected_area_m2, max_depth_m, max_velocity_ms, created_at`

// ZoneRepository is a Postgres repository for hazard zones. Boundaries are
// stored as EWKB with SRID 4326.
type ZoneRepository struct {
	db *sql.DB
}

// NewZoneRepository constructs a repository.
func NewZoneRepository(db *sql.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

// Insert commits a zone unless its run already materialized one.
func (r *ZoneRepository) Insert(ctx context.Context, zone *risk.Zone) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("zone repo: nil db")
	}
	if zone == nil {
		return false, errors.New("zone repo: nil zone")
	}
	if zone.CreatedAt.IsZero() {
		zone.CreatedAt = time.Now().UTC()
	}
	boundary, err := encodeBoundary(zone.Boundary)
	if err != nil {
		return false, err
	}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO risk_zones (
	id, run_id, location_id, risk_value, level, trigger_probability,
	flow_intensity, boundary, affected_area_m2, max_depth_m, max_velocity_ms, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12
)
ON CONFLICT (run_id) DO NOTHING`,
		zone.ID, zone.RunID, zone.LocationID, zone.RiskValue, string(zone.Level), zone.TriggerProbability,
		zone.FlowIntensity, boundary, zone.AffectedAreaM2, zone.MaxDepthM, zone.MaxVelocityMS, zone.CreatedAt)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListByLocation returns zones for a location, newest first.
func (r *ZoneRepository) ListByLocation(ctx context.Context, locationID string, limit int) ([]risk.Zone, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("zone repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("zone repo: invalid query")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+zoneColumns+`
FROM risk_zones
WHERE location_id = $1
ORDER BY created_at DESC
LIMIT $2`, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanZones(rows)
}

// ListRecent returns the latest zones across locations.
func (r *ZoneRepository) ListRecent(ctx context.Context, limit int) ([]risk.Zone, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("zone repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+zoneColumns+`
FROM risk_zones
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanZones(rows)
}

func scanZones(rows *sql.Rows) ([]risk.Zone, error) {
	var result []risk.Zone
	for rows.Next() {
		var zone risk.Zone
		var level string
		var boundary []byte
		if err := rows.Scan(
			&zone.ID,
			&zone.RunID,
			&zone.LocationID,
			&zone.RiskValue,
			&level,
			&zone.TriggerProbability,
			&zone.FlowIntensity,
			&boundary,
			&zone.AffectedAreaM2,
			&zone.MaxDepthM,
			&zone.MaxVelocityMS,
			&zone.CreatedAt,
		); err != nil {
			return nil, err
		}
		zone.Level = risk.Level(level)
		zone.CreatedAt = zone.CreatedAt.UTC()
		if len(boundary) > 0 {
			polygon, err := decodeBoundary(boundary)
			if err != nil {
				return nil, err
			}
			zone.Boundary = polygon
		}
		result = append(result, zone)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func encodeBoundary(polygon *geom.Polygon) ([]byte, error) {
	if polygon == nil {
		return nil, nil
	}
	if polygon.SRID() == 0 {
		polygon.SetSRID(4326)
	}
	return ewkb.Marshal(polygon, ewkb.NDR)
}

func decodeBoundary(data []byte) (*geom.Polygon, error) {
	parsed, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	polygon, ok := parsed.(*geom.Polygon)
	if !ok {
		return nil, errors.New("zone repo: boundary is not a polygon")
	}
	return polygon, nil
}
