package risk

import (
	"context"
	"time"

	"github.com/twpayne/go-geom"
)

// Zone is a hazard zone materialized from a completed simulation run. Each
// run materializes at most one zone. RiskValue is the numeric score in [0,1]
// the level is bucketed from; the two are never set independently.
type Zone struct {
	ID                 string
	RunID              string
	LocationID         string
	RiskValue          float64
	Level              Level
	TriggerProbability float64
	FlowIntensity      float64
	Boundary           *geom.Polygon
	AffectedAreaM2     float64
	MaxDepthM          float64
	MaxVelocityMS      float64
	CreatedAt          time.Time
}

// ZoneRepository persists hazard zones.
type ZoneRepository interface {
	// Insert commits a zone unless its run already materialized one; the
	// bool reports whether a row was written.
	Insert(ctx context.Context, zone *Zone) (bool, error)
	ListByLocation(ctx context.Context, locationID string, limit int) ([]Zone, error)
	ListRecent(ctx context.Context, limit int) ([]Zone, error)
}

// AssessmentRepository persists risk assessments.
type AssessmentRepository interface {
	Insert(ctx context.Context, assessment *Assessment) error
	GetByID(ctx context.Context, assessmentID string) (*Assessment, error)
	LatestByLocation(ctx context.Context, locationID string) (*Assessment, error)
	LatestPerLocation(ctx context.Context) ([]Assessment, error)
	ListByEvent(ctx context.Context, eventID string) ([]Assessment, error)
}
