package terrain

import (
	"context"
	"errors"
	"time"
)

// Snapshot is one dated elevation or imagery capture of a monitored
// catchment. Snapshots are immutable once ingested; change detections and
// simulation runs reference them by id.
type Snapshot struct {
	ID          string
	LocationID  string
	CapturedAt  time.Time
	SourceKind  string
	ResolutionM float64
	MinLon      float64
	MinLat      float64
	MaxLon      float64
	MaxLat      float64
	RasterPath  string
	CreatedAt   time.Time
}

// Validate checks the fields required to register a snapshot.
func (s Snapshot) Validate() error {
	if s.LocationID == "" {
		return errors.New("terrain: missing location id")
	}
	if s.CapturedAt.IsZero() {
		return errors.New("terrain: missing capture time")
	}
	if s.SourceKind == "" {
		return errors.New("terrain: missing source kind")
	}
	if s.ResolutionM <= 0 {
		return errors.New("terrain: invalid resolution")
	}
	if s.MinLon >= s.MaxLon || s.MinLat >= s.MaxLat {
		return errors.New("terrain: degenerate snapshot extent")
	}
	if s.RasterPath == "" {
		return errors.New("terrain: missing raster path")
	}
	return nil
}

// SnapshotRepository persists terrain snapshots.
type SnapshotRepository interface {
	Insert(ctx context.Context, snapshot *Snapshot) error
	GetByID(ctx context.Context, snapshotID string) (*Snapshot, error)
	LatestByLocation(ctx context.Context, locationID string) (*Snapshot, error)
	ListByLocation(ctx context.Context, locationID string, limit int) ([]Snapshot, error)
}
