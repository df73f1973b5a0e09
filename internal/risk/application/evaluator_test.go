package application

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	rainfallevents "debrisflow-monitor/internal/rainfall/application/events"
	"debrisflow-monitor/internal/risk/application/events"
	risk "debrisflow-monitor/internal/risk/domain"
	simevents "debrisflow-monitor/internal/simulation/application/events"
)

type stubAssessmentRepo struct {
	mu       sync.Mutex
	inserted []risk.Assessment
	byID     map[string]risk.Assessment
}

func (s *stubAssessmentRepo) Insert(_ context.Context, assessment *risk.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, *assessment)
	if s.byID == nil {
		s.byID = make(map[string]risk.Assessment)
	}
	s.byID[assessment.ID] = *assessment
	return nil
}

func (s *stubAssessmentRepo) GetByID(_ context.Context, assessmentID string) (*risk.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if assessment, ok := s.byID[assessmentID]; ok {
		copied := assessment
		return &copied, nil
	}
	return nil, nil
}

func (s *stubAssessmentRepo) LatestByLocation(_ context.Context, _ string) (*risk.Assessment, error) {
	return nil, nil
}

func (s *stubAssessmentRepo) LatestPerLocation(_ context.Context) ([]risk.Assessment, error) {
	return nil, nil
}

func (s *stubAssessmentRepo) ListByEvent(_ context.Context, _ string) ([]risk.Assessment, error) {
	return nil, nil
}

type stubTerrainIndex struct {
	factors TerrainFactors
	err     error
}

func (s *stubTerrainIndex) Factors(_ context.Context, _ string) (TerrainFactors, error) {
	return s.factors, s.err
}

type stubPublisher struct {
	mu     sync.Mutex
	events []any
}

func (s *stubPublisher) Publish(_ context.Context, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubPublisher) assessed() []events.RiskAssessed {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []events.RiskAssessed
	for _, event := range s.events {
		if assessed, ok := event.(events.RiskAssessed); ok {
			result = append(result, assessed)
		}
	}
	return result
}

type stubZoneRepo struct {
	mu    sync.Mutex
	zones map[string]risk.Zone
}

func newStubZoneRepo() *stubZoneRepo {
	return &stubZoneRepo{zones: make(map[string]risk.Zone)}
}

func (s *stubZoneRepo) Insert(_ context.Context, zone *risk.Zone) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.zones[zone.RunID]; exists {
		return false, nil
	}
	s.zones[zone.RunID] = *zone
	return true, nil
}

func (s *stubZoneRepo) ListByLocation(_ context.Context, _ string, _ int) ([]risk.Zone, error) {
	return nil, nil
}

func (s *stubZoneRepo) ListRecent(_ context.Context, _ int) ([]risk.Zone, error) {
	return nil, nil
}

func testLogger() *log.Logger {
	return log.New(os.Stdout, "", 0)
}

func TestEvaluatorPublishesAssessment(t *testing.T) {
	repo := &stubAssessmentRepo{}
	terrain := &stubTerrainIndex{factors: TerrainFactors{Susceptibility: 0.9, MaterialAvailability: 0.8, Known: true}}
	publisher := &stubPublisher{}
	evaluator, err := NewEvaluator(risk.DefaultThresholds(), repo, terrain, publisher, testLogger())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	updated := rainfallevents.EventUpdated{
		EventID:        "rain-1",
		LocationID:     "loc-1",
		OccurredAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		IntensityMMHr:  20.0,
		DurationHours:  2.0,
		Antecedent7dMM: 10.0,
	}
	if err := evaluator.HandleEventUpdated(context.Background(), updated); err != nil {
		t.Fatalf("HandleEventUpdated: %v", err)
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 stored assessment, got %d", len(repo.inserted))
	}
	stored := repo.inserted[0]
	if stored.ID == "" {
		t.Fatalf("expected generated assessment id")
	}
	if stored.Degraded {
		t.Fatalf("expected full-confidence assessment with terrain data")
	}

	assessed := publisher.assessed()
	if len(assessed) != 1 {
		t.Fatalf("expected 1 RiskAssessed event, got %d", len(assessed))
	}
	if assessed[0].EventID != "rain-1" || assessed[0].LocationID != "loc-1" {
		t.Fatalf("unexpected event attribution: %+v", assessed[0])
	}
	if assessed[0].Exceedance <= 1.0 {
		t.Fatalf("expected exceedance above 1.0 at 20mm/hr over 2h, got %v", assessed[0].Exceedance)
	}
}

func TestEvaluatorDegradesWithoutTerrainData(t *testing.T) {
	repo := &stubAssessmentRepo{}
	terrain := &stubTerrainIndex{err: errors.New("terrain store down")}
	publisher := &stubPublisher{}
	evaluator, err := NewEvaluator(risk.DefaultThresholds(), repo, terrain, publisher, testLogger())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	updated := rainfallevents.EventUpdated{
		EventID:       "rain-1",
		LocationID:    "loc-1",
		OccurredAt:    time.Now().UTC(),
		IntensityMMHr: 20.0,
		DurationHours: 2.0,
	}
	if err := evaluator.HandleEventUpdated(context.Background(), updated); err != nil {
		t.Fatalf("HandleEventUpdated: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected evaluation despite terrain failure")
	}
	stored := repo.inserted[0]
	if !stored.Degraded {
		t.Fatalf("expected degraded assessment without terrain data")
	}
	if stored.MaterialAvailability != 0.5 || stored.Susceptibility != 0.5 {
		t.Fatalf("expected neutral fallback factors, got %+v", stored)
	}
}

func TestEvaluatorJudgesEpisodeByPeakIntensity(t *testing.T) {
	repo := &stubAssessmentRepo{}
	terrain := &stubTerrainIndex{factors: TerrainFactors{Susceptibility: 0.9, MaterialAvailability: 0.8, Known: true}}
	publisher := &stubPublisher{}
	evaluator, err := NewEvaluator(risk.DefaultThresholds(), repo, terrain, publisher, testLogger())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	// A lull after a violent burst: instantaneous intensity has dropped but
	// the episode peak is well above the duration threshold.
	updated := rainfallevents.EventUpdated{
		EventID:           "rain-1",
		LocationID:        "loc-1",
		OccurredAt:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		IntensityMMHr:     2.0,
		PeakIntensityMMHr: 20.0,
		DurationHours:     2.0,
	}
	if err := evaluator.HandleEventUpdated(context.Background(), updated); err != nil {
		t.Fatalf("HandleEventUpdated: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 stored assessment, got %d", len(repo.inserted))
	}
	if got := repo.inserted[0].Exceedance; got <= 1.0 {
		t.Fatalf("expected exceedance from the 20mm/hr peak, got %v", got)
	}
}

func TestMaterializerIsIdempotentPerRun(t *testing.T) {
	zones := newStubZoneRepo()
	assessments := &stubAssessmentRepo{}
	publisher := &stubPublisher{}
	materializer, err := NewMaterializer(risk.DefaultThresholds(), zones, assessments, publisher, testLogger())
	if err != nil {
		t.Fatalf("NewMaterializer: %v", err)
	}

	completed := simevents.RunCompleted{
		RunID:          "run-1",
		LocationID:     "loc-1",
		EventID:        "rain-1",
		OccurredAt:     time.Now().UTC(),
		AffectedAreaM2: 15000,
		MaxDepthM:      1.5,
		MaxVelocityMS:  4.0,
		RiskLevel:      "high",
		BoundaryWKT:    "POLYGON ((0 0, 0 1, 1 1, 1 0, 0 0))",
	}
	if err := materializer.HandleRunCompleted(context.Background(), completed); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if err := materializer.HandleRunCompleted(context.Background(), completed); err != nil {
		t.Fatalf("replayed completion: %v", err)
	}

	if len(zones.zones) != 1 {
		t.Fatalf("expected a single zone per run, got %d", len(zones.zones))
	}
	zone := zones.zones["run-1"]
	// Without a resolvable assessment the value is the runout factor alone:
	// 1.5m x 4.0m/s against the 10 m2/s saturation gives 0.6.
	if math.Abs(zone.RiskValue-0.6) > 1e-9 {
		t.Fatalf("expected risk value 0.6, got %v", zone.RiskValue)
	}
	if zone.Level != risk.LevelHigh {
		t.Fatalf("expected high level zone, got %s", zone.Level)
	}
	if zone.Boundary == nil {
		t.Fatalf("expected parsed boundary polygon")
	}

	materializedCount := 0
	for _, event := range publisher.events {
		if materialized, ok := event.(events.ZoneMaterialized); ok {
			if materialized.RiskValue != zone.RiskValue {
				t.Fatalf("expected event to carry the zone's risk value, got %v", materialized.RiskValue)
			}
			materializedCount++
		}
	}
	if materializedCount != 1 {
		t.Fatalf("expected 1 ZoneMaterialized event, got %d", materializedCount)
	}
}

func TestMaterializerBucketsLevelFromNumericScore(t *testing.T) {
	zones := newStubZoneRepo()
	assessments := &stubAssessmentRepo{}
	publisher := &stubPublisher{}
	thresholds := risk.DefaultThresholds()
	materializer, err := NewMaterializer(thresholds, zones, assessments, publisher, testLogger())
	if err != nil {
		t.Fatalf("NewMaterializer: %v", err)
	}

	if err := assessments.Insert(context.Background(), &risk.Assessment{
		ID:                 "assess-1",
		LocationID:         "loc-1",
		RiskValue:          0.9,
		TriggerProbability: 0.7,
		Level:              risk.LevelCritical,
	}); err != nil {
		t.Fatalf("seed assessment: %v", err)
	}

	// The engine's free-form label is ignored: the level comes from the
	// blended numeric score, never from the string the engine reports.
	completed := simevents.RunCompleted{
		RunID:          "run-1",
		LocationID:     "loc-1",
		AssessmentID:   "assess-1",
		OccurredAt:     time.Now().UTC(),
		AffectedAreaM2: 8000,
		MaxDepthM:      0.5,
		MaxVelocityMS:  1.0,
		RiskLevel:      "catastrophic-superflow",
	}
	if err := materializer.HandleRunCompleted(context.Background(), completed); err != nil {
		t.Fatalf("HandleRunCompleted: %v", err)
	}

	zone := zones.zones["run-1"]
	// 0.6*0.9 assessment blend + 0.4*0.05 runout = 0.56.
	if math.Abs(zone.RiskValue-0.56) > 1e-9 {
		t.Fatalf("expected blended risk value 0.56, got %v", zone.RiskValue)
	}
	if zone.Level != thresholds.LevelFor(zone.RiskValue) {
		t.Fatalf("expected level bucketed from the score, got %s for %v", zone.Level, zone.RiskValue)
	}
	if zone.Level != risk.LevelHigh {
		t.Fatalf("expected high, got %s", zone.Level)
	}
	if zone.TriggerProbability != 0.7 {
		t.Fatalf("expected trigger probability from the assessment, got %v", zone.TriggerProbability)
	}
	if math.Abs(zone.FlowIntensity-0.5) > 1e-9 {
		t.Fatalf("expected flow intensity 0.5 m2/s, got %v", zone.FlowIntensity)
	}
}
