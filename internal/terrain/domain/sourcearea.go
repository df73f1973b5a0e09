package terrain

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/twpayne/go-geom"
)

// ErrMissingGeometry indicates a source area or detection without a boundary.
var ErrMissingGeometry = errors.New("terrain: missing geometry")

// SourceArea is a mapped debris source zone in a catchment. Susceptibility is
// the static terrain disposition; material availability is dynamic and is
// recharged by change detections and drained by time and simulated events.
type SourceArea struct {
	ID                   string
	LocationID           string
	Name                 string
	Boundary             *geom.Polygon
	SlopeDeg             float64
	Susceptibility       float64
	MaterialAvailability float64
	MaterialUpdatedAt    time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate checks the fields required to register a source area.
func (a SourceArea) Validate() error {
	if a.LocationID == "" {
		return errors.New("terrain: missing location id")
	}
	if a.Boundary == nil {
		return ErrMissingGeometry
	}
	if a.Susceptibility < 0 || a.Susceptibility > 1 {
		return errors.New("terrain: susceptibility out of [0,1]")
	}
	if a.MaterialAvailability < 0 || a.MaterialAvailability > 1 {
		return errors.New("terrain: material availability out of [0,1]")
	}
	return nil
}

// Detection is one volumetric diff between two terrain snapshots, produced
// by the external change service from a DEM-of-difference raster. Records
// are immutable; one exists per snapshot pair.
type Detection struct {
	ID                   string
	BaselineSnapshotID   string
	ComparisonSnapshotID string
	DoDRasterPath        string
	DetectedAt           time.Time
	MinLon               float64
	MinLat               float64
	MaxLon               float64
	MaxLat               float64
	ErosionVolumeM3      float64
	DepositionVolumeM3   float64
	ChangeAreaM2         float64
	LoDThresholdM        float64
	CreatedAt            time.Time
}

// NetChangeM3 is the signed volume balance; positive values mean fresh
// deposition that can mobilize in the next event.
func (d Detection) NetChangeM3() float64 {
	return d.DepositionVolumeM3 - d.ErosionVolumeM3
}

// Validate checks detection fields at the feed boundary.
func (d Detection) Validate() error {
	if d.BaselineSnapshotID == "" || d.ComparisonSnapshotID == "" {
		return errors.New("terrain: missing snapshot reference")
	}
	if d.BaselineSnapshotID == d.ComparisonSnapshotID {
		return errors.New("terrain: baseline and comparison snapshots are identical")
	}
	if d.DetectedAt.IsZero() {
		return errors.New("terrain: missing detection time")
	}
	if d.MinLon >= d.MaxLon || d.MinLat >= d.MaxLat {
		return errors.New("terrain: degenerate bounding box")
	}
	if d.ErosionVolumeM3 < 0 || d.DepositionVolumeM3 < 0 {
		return errors.New("terrain: negative volume")
	}
	if d.ChangeAreaM2 <= 0 {
		return errors.New("terrain: invalid change area")
	}
	if d.LoDThresholdM <= 0 {
		return errors.New("terrain: invalid level-of-detection threshold")
	}
	return nil
}

// OverlapFraction returns the share of the source area's bounding box covered
// by the detection box, in [0,1].
func (d Detection) OverlapFraction(area *SourceArea) float64 {
	if area == nil || area.Boundary == nil {
		return 0
	}
	bounds := area.Boundary.Bounds()
	areaW := bounds.Max(0) - bounds.Min(0)
	areaH := bounds.Max(1) - bounds.Min(1)
	if areaW <= 0 || areaH <= 0 {
		return 0
	}
	overlapW := math.Min(d.MaxLon, bounds.Max(0)) - math.Max(d.MinLon, bounds.Min(0))
	overlapH := math.Min(d.MaxLat, bounds.Max(1)) - math.Max(d.MinLat, bounds.Min(1))
	if overlapW <= 0 || overlapH <= 0 {
		return 0
	}
	fraction := (overlapW * overlapH) / (areaW * areaH)
	if fraction > 1 {
		return 1
	}
	return fraction
}

// DecayMaterial applies exponential decay to the available material since the
// last update, with the given half-life.
func (a *SourceArea) DecayMaterial(now time.Time, halfLife time.Duration) {
	if a == nil || halfLife <= 0 {
		return
	}
	if a.MaterialUpdatedAt.IsZero() {
		a.MaterialUpdatedAt = now.UTC()
		return
	}
	elapsed := now.Sub(a.MaterialUpdatedAt)
	if elapsed <= 0 {
		return
	}
	factor := math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
	a.MaterialAvailability = clamp01(a.MaterialAvailability * factor)
	a.MaterialUpdatedAt = now.UTC()
}

// RechargeMaterial adds material from a change detection contribution.
func (a *SourceArea) RechargeMaterial(now time.Time, contribution float64) {
	if a == nil || contribution <= 0 {
		return
	}
	a.MaterialAvailability = clamp01(a.MaterialAvailability + contribution)
	a.MaterialUpdatedAt = now.UTC()
	a.UpdatedAt = now.UTC()
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// SourceAreaRepository persists source areas.
type SourceAreaRepository interface {
	Insert(ctx context.Context, area *SourceArea) error
	Update(ctx context.Context, area *SourceArea) error
	Delete(ctx context.Context, areaID string) error
	GetByID(ctx context.Context, areaID string) (*SourceArea, error)
	ListByLocation(ctx context.Context, locationID string) ([]SourceArea, error)
	ListAll(ctx context.Context) ([]SourceArea, error)
}

// DetectionRepository persists change detections.
type DetectionRepository interface {
	// Insert commits a detection unless its snapshot pair was already
	// recorded; the bool reports whether a row was written.
	Insert(ctx context.Context, detection *Detection) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]Detection, error)
}
