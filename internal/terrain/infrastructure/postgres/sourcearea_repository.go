package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	terrain "debrisflow-monitor/internal/terrain/domain"
)

const sourceAreaColumns = `id, location_id, name, boundary, slope_deg, susceptibility,
	material_availability, material_updated_at, created_at, updated_at`

// SourceAreaRepository is a Postgres repository for source areas. Boundaries
// are stored as EWKB with SRID 4326.
type SourceAreaRepository struct {
	db *sql.DB
}

// NewSourceAreaRepository constructs a repository.
func NewSourceAreaRepository(db *sql.DB) *SourceAreaRepository {
	return &SourceAreaRepository{db: db}
}

// Insert commits a new source area.
func (r *SourceAreaRepository) Insert(ctx context.Context, area *terrain.SourceArea) error {
	if r == nil || r.db == nil {
		return errors.New("source area repo: nil db")
	}
	if area == nil {
		return errors.New("source area repo: nil area")
	}
	boundary, err := encodePolygon(area.Boundary)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO source_areas (
	id, location_id, name, boundary, slope_deg, susceptibility,
	material_availability, material_updated_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10
)`, area.ID, area.LocationID, area.Name, boundary, area.SlopeDeg, area.Susceptibility,
		area.MaterialAvailability, area.MaterialUpdatedAt, area.CreatedAt, area.UpdatedAt)
	return err
}

// Update rewrites a source area.
func (r *SourceAreaRepository) Update(ctx context.Context, area *terrain.SourceArea) error {
	if r == nil || r.db == nil {
		return errors.New("source area repo: nil db")
	}
	if area == nil {
		return errors.New("source area repo: nil area")
	}
	boundary, err := encodePolygon(area.Boundary)
	if err != nil {
		return err
	}
	if area.UpdatedAt.IsZero() {
		area.UpdatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
UPDATE source_areas SET
	name = $2,
	boundary = $3,
	slope_deg = $4,
	susceptibility = $5,
	material_availability = $6,
	material_updated_at = $7,
	updated_at = $8
WHERE id = $1`, area.ID, area.Name, boundary, area.SlopeDeg, area.Susceptibility,
		area.MaterialAvailability, area.MaterialUpdatedAt, area.UpdatedAt)
	return err
}

// Delete removes a source area.
func (r *SourceAreaRepository) Delete(ctx context.Context, areaID string) error {
	if r == nil || r.db == nil {
		return errors.New("source area repo: nil db")
	}
	if areaID == "" {
		return errors.New("source area repo: invalid query")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM source_areas WHERE id = $1`, areaID)
	return err
}

// GetByID loads a source area, nil when absent.
func (r *SourceAreaRepository) GetByID(ctx context.Context, areaID string) (*terrain.SourceArea, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("source area repo: nil db")
	}
	if areaID == "" {
		return nil, errors.New("source area repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+sourceAreaColumns+`
FROM source_areas
WHERE id = $1
LIMIT 1`, areaID)
	area, err := scanSourceArea(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return area, nil
}

// ListByLocation returns a location's source areas.
func (r *SourceAreaRepository) ListByLocation(ctx context.Context, locationID string) ([]terrain.SourceArea, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("source area repo: nil db")
	}
	if locationID == "" {
		return nil, errors.New("source area repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+sourceAreaColumns+`
FROM source_areas
WHERE location_id = $1
ORDER BY created_at ASC`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSourceAreas(rows)
}

// ListAll returns every registered source area.
func (r *SourceAreaRepository) ListAll(ctx context.Context) ([]terrain.SourceArea, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("source area repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+sourceAreaColumns+`
FROM source_areas
ORDER BY location_id, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSourceAreas(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSourceArea(row rowScanner) (*terrain.SourceArea, error) {
	var area terrain.SourceArea
	var boundary []byte
	if err := row.Scan(
		&area.ID,
		&area.LocationID,
		&area.Name,
		&boundary,
		&area.SlopeDeg,
		&area.Susceptibility,
		&area.MaterialAvailability,
		&area.MaterialUpdatedAt,
		&area.CreatedAt,
		&area.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(boundary) > 0 {
		polygon, err := decodePolygon(boundary)
		if err != nil {
			return nil, err
		}
		area.Boundary = polygon
	}
	area.MaterialUpdatedAt = area.MaterialUpdatedAt.UTC()
	area.CreatedAt = area.CreatedAt.UTC()
	area.UpdatedAt = area.UpdatedAt.UTC()
	return &area, nil
}

func scanSourceAreas(rows *sql.Rows) ([]terrain.SourceArea, error) {
	var result []terrain.SourceArea
	for rows.Next() {
		area, err := scanSourceArea(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *area)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func encodePolygon(polygon *geom.Polygon) ([]byte, error) {
	if polygon == nil {
		return nil, terrain.ErrMissingGeometry
	}
	if polygon.SRID() == 0 {
		polygon.SetSRID(4326)
	}
	return ewkb.Marshal(polygon, ewkb.NDR)
}

func decodePolygon(data []byte) (*geom.Polygon, error) {
	parsed, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	polygon, ok := parsed.(*geom.Polygon)
	if !ok {
		return nil, errors.New("source area repo: boundary is not a polygon")
	}
	return polygon, nil
}
