package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"debrisflow-monitor/internal/observability/metrics"
	rainfallevents "debrisflow-monitor/internal/rainfall/application/events"
	"debrisflow-monitor/internal/risk/application/events"
	risk "debrisflow-monitor/internal/risk/domain"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// TerrainFactors carries the static and dynamic terrain inputs for one
// location.
type TerrainFactors struct {
	Susceptibility       float64
	MaterialAvailability float64
	Known                bool
}

// TerrainIndex resolves terrain factors per location.
type TerrainIndex interface {
	Factors(ctx context.Context, locationID string) (TerrainFactors, error)
}

// Evaluator recomputes the hazard level on every rainfall episode update.
// When terrain data is missing the evaluation still proceeds with neutral
// factors and is flagged as degraded.
type Evaluator struct {
	thresholds risk.Thresholds
	repo       risk.AssessmentRepository
	terrain    TerrainIndex
	publisher  EventPublisher
	logger     *log.Logger
	clock      Clock
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock assigns a clock.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		e.clock = clock
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(thresholds risk.Thresholds, repo risk.AssessmentRepository, terrain TerrainIndex, publisher EventPublisher, logger *log.Logger, opts ...EvaluatorOption) (*Evaluator, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, errors.New("risk evaluator: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	evaluator := &Evaluator{
		thresholds: thresholds,
		repo:       repo,
		terrain:    terrain,
		publisher:  publisher,
		logger:     logger,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator, nil
}

// HandleEventUpdated evaluates risk for one rainfall episode update.
func (e *Evaluator) HandleEventUpdated(ctx context.Context, updated rainfallevents.EventUpdated) error {
	if e == nil {
		return errors.New("risk evaluator: nil evaluator")
	}

	metrics.SetConsumerLag("risk_evaluator", e.clock.Now().Sub(updated.OccurredAt).Seconds())

	factors := TerrainFactors{Susceptibility: 0.5, MaterialAvailability: 0.5}
	degraded := true
	if e.terrain != nil {
		resolved, err := e.terrain.Factors(ctx, updated.LocationID)
		if err != nil {
			e.logger.Printf("risk evaluator: terrain lookup error: location=%s err=%v", updated.LocationID, err)
		} else if resolved.Known {
			factors = resolved
			degraded = false
		}
	}

	// The episode is judged by its strongest burst, not the instantaneous
	// rate, so a lull between bursts cannot clear an exceedance.
	intensity := updated.PeakIntensityMMHr
	if updated.IntensityMMHr > intensity {
		intensity = updated.IntensityMMHr
	}

	assessment := risk.Evaluate(e.thresholds, risk.Input{
		LocationID:           updated.LocationID,
		EventID:              updated.EventID,
		At:                   updated.OccurredAt,
		IntensityMMHr:        intensity,
		DurationHours:        updated.DurationHours,
		EventTotalMM:         updated.TotalRainfallMM,
		Antecedent24hMM:      updated.Antecedent24hMM,
		Antecedent7dMM:       updated.Antecedent7dMM,
		Susceptibility:       factors.Susceptibility,
		MaterialAvailability: factors.MaterialAvailability,
		DegradedTerrain:      degraded,
	})
	assessment.ID = "assess-" + uuid.NewString()
	assessment.CreatedAt = e.clock.Now().UTC()

	if err := e.repo.Insert(ctx, &assessment); err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}

	metrics.IncRiskAssessment(string(assessment.Level))
	metrics.SetRiskValue(assessment.LocationID, assessment.RiskValue)

	if assessment.Level.AtLeast(risk.LevelHigh) {
		e.logger.Printf("risk evaluator: elevated risk: location=%s level=%s exceedance=%.2f value=%.2f",
			assessment.LocationID, assessment.Level, assessment.Exceedance, assessment.RiskValue)
	}

	if e.publisher != nil {
		assessed := events.RiskAssessed{
			AssessmentID:       assessment.ID,
			LocationID:         assessment.LocationID,
			EventID:            assessment.EventID,
			OccurredAt:         assessment.At,
			ThresholdMMHr:      assessment.ThresholdMMHr,
			Exceedance:         assessment.Exceedance,
			TriggerProbability: assessment.TriggerProbability,
			Saturation:         assessment.Saturation,
			RiskValue:          assessment.RiskValue,
			Level:              string(assessment.Level),
			Degraded:           assessment.Degraded,
			Recommendation:     assessment.Recommendation,
		}
		if err := e.publisher.Publish(ctx, assessed); err != nil {
			e.logger.Printf("risk evaluator: publish error: location=%s err=%v", assessment.LocationID, err)
		}
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
