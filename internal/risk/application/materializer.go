package application

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"debrisflow-monitor/internal/observability/metrics"
	"debrisflow-monitor/internal/risk/application/events"
	risk "debrisflow-monitor/internal/risk/domain"
	simevents "debrisflow-monitor/internal/simulation/application/events"
)

// flowIntensitySaturation maps the depth-velocity product onto [0,1]: a flow
// intensity of 10 m2/s corresponds to a fully destructive debris flow.
const flowIntensitySaturation = 10.0

// AssessmentReader resolves the assessment that dispatched a run.
type AssessmentReader interface {
	GetByID(ctx context.Context, assessmentID string) (*risk.Assessment, error)
}

// Materializer turns completed simulation runs into hazard zones. A run
// materializes at most one zone; replayed completions are no-ops. The zone's
// level is always bucketed from its numeric risk value, never taken from the
// engine's label.
type Materializer struct {
	thresholds  risk.Thresholds
	zones       risk.ZoneRepository
	assessments AssessmentReader
	publisher   EventPublisher
	logger      *log.Logger
	clock       Clock
}

// NewMaterializer constructs a zone materializer.
func NewMaterializer(thresholds risk.Thresholds, zones risk.ZoneRepository, assessments AssessmentReader, publisher EventPublisher, logger *log.Logger, opts ...MaterializerOption) (*Materializer, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if zones == nil {
		return nil, errors.New("zone materializer: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	materializer := &Materializer{
		thresholds:  thresholds,
		zones:       zones,
		assessments: assessments,
		publisher:   publisher,
		logger:      logger,
		clock:       systemClock{},
	}
	for _, opt := range opts {
		opt(materializer)
	}
	return materializer, nil
}

// MaterializerOption customizes the materializer.
type MaterializerOption func(*Materializer)

// WithMaterializerClock assigns a clock.
func WithMaterializerClock(clock Clock) MaterializerOption {
	return func(m *Materializer) {
		m.clock = clock
	}
}

// HandleRunCompleted materializes the hazard zone for one completed run.
// The zone's risk value blends the dispatching assessment's score with the
// runout intensity the engine reported; without a resolvable assessment the
// runout intensity stands alone.
func (m *Materializer) HandleRunCompleted(ctx context.Context, completed simevents.RunCompleted) error {
	if m == nil {
		return errors.New("zone materializer: nil materializer")
	}

	flowIntensity := completed.MaxDepthM * completed.MaxVelocityMS
	runoutFactor := clampUnit(flowIntensity / flowIntensitySaturation)

	value := runoutFactor
	probability := 0.0
	if m.assessments != nil && completed.AssessmentID != "" {
		assessment, err := m.assessments.GetByID(ctx, completed.AssessmentID)
		if err != nil {
			m.logger.Printf("zone materializer: assessment lookup error: run=%s err=%v", completed.RunID, err)
		} else if assessment != nil {
			probability = assessment.TriggerProbability
			value = clampUnit(0.6*assessment.RiskValue + 0.4*runoutFactor)
		}
	}
	level := m.thresholds.LevelFor(value)

	zone := &risk.Zone{
		ID:                 "zone-" + uuid.NewString(),
		RunID:              completed.RunID,
		LocationID:         completed.LocationID,
		RiskValue:          value,
		Level:              level,
		TriggerProbability: probability,
		FlowIntensity:      flowIntensity,
		AffectedAreaM2:     completed.AffectedAreaM2,
		MaxDepthM:          completed.MaxDepthM,
		MaxVelocityMS:      completed.MaxVelocityMS,
		CreatedAt:          m.clock.Now().UTC(),
	}
	if completed.BoundaryWKT != "" {
		boundary, err := parseBoundary(completed.BoundaryWKT)
		if err != nil {
			m.logger.Printf("zone materializer: boundary parse error: run=%s err=%v", completed.RunID, err)
		} else {
			zone.Boundary = boundary
		}
	}

	inserted, err := m.zones.Insert(ctx, zone)
	if err != nil {
		return fmt.Errorf("insert zone: %w", err)
	}
	if !inserted {
		// Replayed completion; the zone already exists.
		return nil
	}

	metrics.IncRiskZone()
	m.logger.Printf("zone materializer: zone created: run=%s location=%s value=%.2f level=%s area=%.0fm2",
		completed.RunID, completed.LocationID, value, level, completed.AffectedAreaM2)

	if m.publisher != nil {
		materialized := events.ZoneMaterialized{
			ZoneID:     zone.ID,
			RunID:      zone.RunID,
			LocationID: zone.LocationID,
			OccurredAt: zone.CreatedAt,
			RiskValue:  zone.RiskValue,
			Level:      string(zone.Level),
		}
		if err := m.publisher.Publish(ctx, materialized); err != nil {
			m.logger.Printf("zone materializer: publish error: run=%s err=%v", completed.RunID, err)
		}
	}
	return nil
}

func clampUnit(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func parseBoundary(raw string) (*geom.Polygon, error) {
	parsed, err := wkt.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	polygon, ok := parsed.(*geom.Polygon)
	if !ok {
		return nil, fmt.Errorf("unexpected geometry %T", parsed)
	}
	return polygon, nil
}
