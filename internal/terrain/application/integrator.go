package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"debrisflow-monitor/internal/observability/metrics"
	riskapp "debrisflow-monitor/internal/risk/application"
	terrain "debrisflow-monitor/internal/terrain/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// IntegratorConfig tunes how change detections feed material availability.
type IntegratorConfig struct {
	// MaterialHalfLife governs the exponential decay of loose material when
	// nothing recharges it, and discounts detections by their age.
	MaterialHalfLife time.Duration
	// MaxDetectionAge drops stale feed records instead of applying them.
	MaxDetectionAge time.Duration
	// ReferenceVolumeM3 normalizes a detection's net volume change onto
	// [0,1]: a net deposition of this size counts as a full recharge.
	ReferenceVolumeM3 float64
}

// DefaultIntegratorConfig returns the standard integrator tuning.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfig{
		MaterialHalfLife:  180 * 24 * time.Hour,
		MaxDetectionAge:   30 * 24 * time.Hour,
		ReferenceVolumeM3: 5000,
	}
}

// Integrator folds snapshot-pair change detections into per-area material
// availability and serves the terrain factors the risk evaluator consumes.
// It also owns the snapshot inventory the detections reference.
type Integrator struct {
	areas      terrain.SourceAreaRepository
	detections terrain.DetectionRepository
	snapshots  terrain.SnapshotRepository
	logger     *log.Logger
	clock      Clock
	config     IntegratorConfig
}

// IntegratorOption customizes the integrator.
type IntegratorOption func(*Integrator)

// WithClock assigns a clock.
func WithClock(clock Clock) IntegratorOption {
	return func(i *Integrator) {
		i.clock = clock
	}
}

// NewIntegrator constructs an integrator.
func NewIntegrator(areas terrain.SourceAreaRepository, detections terrain.DetectionRepository, snapshots terrain.SnapshotRepository, config IntegratorConfig, logger *log.Logger, opts ...IntegratorOption) (*Integrator, error) {
	if areas == nil {
		return nil, errors.New("terrain integrator: nil area repository")
	}
	if detections == nil {
		return nil, errors.New("terrain integrator: nil detection repository")
	}
	if snapshots == nil {
		return nil, errors.New("terrain integrator: nil snapshot repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	if config.MaterialHalfLife <= 0 {
		config.MaterialHalfLife = DefaultIntegratorConfig().MaterialHalfLife
	}
	if config.ReferenceVolumeM3 <= 0 {
		config.ReferenceVolumeM3 = DefaultIntegratorConfig().ReferenceVolumeM3
	}
	integrator := &Integrator{
		areas:      areas,
		detections: detections,
		snapshots:  snapshots,
		logger:     logger,
		clock:      systemClock{},
		config:     config,
	}
	for _, opt := range opts {
		opt(integrator)
	}
	return integrator, nil
}

// RegisterSnapshot records one immutable terrain capture.
func (i *Integrator) RegisterSnapshot(ctx context.Context, snapshot terrain.Snapshot) (*terrain.Snapshot, error) {
	if i == nil {
		return nil, errors.New("terrain integrator: nil integrator")
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	if snapshot.ID == "" {
		snapshot.ID = "snap-" + uuid.NewString()
	}
	snapshot.CreatedAt = i.clock.Now().UTC()
	if err := i.snapshots.Insert(ctx, &snapshot); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	i.logger.Printf("terrain integrator: snapshot registered: snapshot=%s location=%s source=%s",
		snapshot.ID, snapshot.LocationID, snapshot.SourceKind)
	return &snapshot, nil
}

// LatestSnapshotID resolves the newest snapshot for a location, empty when
// none was ingested yet.
func (i *Integrator) LatestSnapshotID(ctx context.Context, locationID string) (string, error) {
	if i == nil {
		return "", errors.New("terrain integrator: nil integrator")
	}
	snapshot, err := i.snapshots.LatestByLocation(ctx, locationID)
	if err != nil {
		return "", err
	}
	if snapshot == nil {
		return "", nil
	}
	return snapshot.ID, nil
}

// ApplyDetection records one detection and recharges every overlapping source
// area. The contribution is the net deposition normalized against the
// reference volume, scaled by the covered fraction and discounted by the
// detection's age; erosion-dominated diffs recharge nothing.
func (i *Integrator) ApplyDetection(ctx context.Context, detection terrain.Detection) (int, error) {
	if i == nil {
		return 0, errors.New("terrain integrator: nil integrator")
	}
	if err := detection.Validate(); err != nil {
		return 0, err
	}
	now := i.clock.Now().UTC()
	age := now.Sub(detection.DetectedAt)
	if i.config.MaxDetectionAge > 0 && age > i.config.MaxDetectionAge {
		return 0, fmt.Errorf("terrain integrator: detection older than %s", i.config.MaxDetectionAge)
	}
	for _, snapshotID := range []string{detection.BaselineSnapshotID, detection.ComparisonSnapshotID} {
		snapshot, err := i.snapshots.GetByID(ctx, snapshotID)
		if err != nil {
			return 0, fmt.Errorf("resolve snapshot: %w", err)
		}
		if snapshot == nil {
			return 0, fmt.Errorf("terrain integrator: unknown snapshot %s", snapshotID)
		}
	}
	if detection.ID == "" {
		detection.ID = "det-" + uuid.NewString()
	}
	detection.CreatedAt = now
	inserted, err := i.detections.Insert(ctx, &detection)
	if err != nil {
		return 0, fmt.Errorf("insert detection: %w", err)
	}
	if !inserted {
		// The snapshot pair was already applied; a replay must not recharge
		// twice.
		return 0, nil
	}
	metrics.IncChangeDetection()

	magnitude := clamp01(detection.NetChangeM3() / i.config.ReferenceVolumeM3)
	if age > 0 {
		magnitude *= math.Pow(0.5, age.Hours()/i.config.MaterialHalfLife.Hours())
	}
	if magnitude <= 0 {
		return 0, nil
	}

	areas, err := i.areas.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list source areas: %w", err)
	}

	updated := 0
	for idx := range areas {
		area := &areas[idx]
		fraction := detection.OverlapFraction(area)
		if fraction <= 0 {
			continue
		}
		area.DecayMaterial(now, i.config.MaterialHalfLife)
		area.RechargeMaterial(now, fraction*magnitude)
		if err := i.areas.Update(ctx, area); err != nil {
			return updated, fmt.Errorf("update source area %s: %w", area.ID, err)
		}
		metrics.IncMaterialUpdate()
		updated++
		i.logger.Printf("terrain integrator: material recharged: area=%s fraction=%.2f net=%.0fm3 material=%.2f",
			area.ID, fraction, detection.NetChangeM3(), area.MaterialAvailability)
	}
	return updated, nil
}

// DecaySweep applies time decay to every source area. Run periodically so
// material drains even without new detections.
func (i *Integrator) DecaySweep(ctx context.Context) error {
	if i == nil {
		return errors.New("terrain integrator: nil integrator")
	}
	areas, err := i.areas.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list source areas: %w", err)
	}
	now := i.clock.Now().UTC()
	for idx := range areas {
		area := &areas[idx]
		before := area.MaterialAvailability
		area.DecayMaterial(now, i.config.MaterialHalfLife)
		if area.MaterialAvailability == before {
			continue
		}
		if err := i.areas.Update(ctx, area); err != nil {
			return fmt.Errorf("update source area %s: %w", area.ID, err)
		}
		metrics.IncMaterialUpdate()
	}
	return nil
}

// Run drives the decay sweep until the context is canceled.
func (i *Integrator) Run(ctx context.Context, interval time.Duration) {
	if i == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.DecaySweep(ctx); err != nil {
				i.logger.Printf("terrain integrator: decay sweep error: %v", err)
			}
		}
	}
}

// Factors aggregates a location's source areas into the inputs the risk
// evaluator needs. Susceptibility takes the worst area; material takes the
// mean so one recharged gully does not dominate a stable catchment.
func (i *Integrator) Factors(ctx context.Context, locationID string) (riskapp.TerrainFactors, error) {
	if i == nil {
		return riskapp.TerrainFactors{}, errors.New("terrain integrator: nil integrator")
	}
	areas, err := i.areas.ListByLocation(ctx, locationID)
	if err != nil {
		return riskapp.TerrainFactors{}, err
	}
	if len(areas) == 0 {
		return riskapp.TerrainFactors{}, nil
	}
	now := i.clock.Now().UTC()
	maxSusceptibility := 0.0
	materialSum := 0.0
	for idx := range areas {
		area := areas[idx]
		area.DecayMaterial(now, i.config.MaterialHalfLife)
		if area.Susceptibility > maxSusceptibility {
			maxSusceptibility = area.Susceptibility
		}
		materialSum += area.MaterialAvailability
	}
	return riskapp.TerrainFactors{
		Susceptibility:       maxSusceptibility,
		MaterialAvailability: materialSum / float64(len(areas)),
		Known:                true,
	}, nil
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

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
