package application

import (
	"context"
	"log"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/twpayne/go-geom"

	terrain "debrisflow-monitor/internal/terrain/domain"
)

type stubAreaRepo struct {
	mu    sync.Mutex
	areas map[string]terrain.SourceArea
}

func newStubAreaRepo() *stubAreaRepo {
	return &stubAreaRepo{areas: make(map[string]terrain.SourceArea)}
}

func (s *stubAreaRepo) Insert(_ context.Context, area *terrain.SourceArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas[area.ID] = *area
	return nil
}

func (s *stubAreaRepo) Update(_ context.Context, area *terrain.SourceArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas[area.ID] = *area
	return nil
}

func (s *stubAreaRepo) Delete(_ context.Context, areaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.areas, areaID)
	return nil
}

func (s *stubAreaRepo) GetByID(_ context.Context, areaID string) (*terrain.SourceArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if area, ok := s.areas[areaID]; ok {
		copied := area
		return &copied, nil
	}
	return nil, nil
}

func (s *stubAreaRepo) ListByLocation(_ context.Context, locationID string) ([]terrain.SourceArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []terrain.SourceArea
	for _, area := range s.areas {
		if area.LocationID == locationID {
			result = append(result, area)
		}
	}
	return result, nil
}

func (s *stubAreaRepo) ListAll(_ context.Context) ([]terrain.SourceArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []terrain.SourceArea
	for _, area := range s.areas {
		result = append(result, area)
	}
	return result, nil
}

type stubDetectionRepo struct {
	mu       sync.Mutex
	inserted []terrain.Detection
	pairs    map[string]struct{}
}

func (s *stubDetectionRepo) Insert(_ context.Context, detection *terrain.Detection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairs == nil {
		s.pairs = make(map[string]struct{})
	}
	pair := detection.BaselineSnapshotID + "|" + detection.ComparisonSnapshotID
	if _, exists := s.pairs[pair]; exists {
		return false, nil
	}
	s.pairs[pair] = struct{}{}
	s.inserted = append(s.inserted, *detection)
	return true, nil
}

func (s *stubDetectionRepo) ListRecent(_ context.Context, _ int) ([]terrain.Detection, error) {
	return nil, nil
}

type stubSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[string]terrain.Snapshot
}

func newStubSnapshotRepo() *stubSnapshotRepo {
	return &stubSnapshotRepo{snapshots: make(map[string]terrain.Snapshot)}
}

func (s *stubSnapshotRepo) Insert(_ context.Context, snapshot *terrain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.ID] = *snapshot
	return nil
}

func (s *stubSnapshotRepo) GetByID(_ context.Context, snapshotID string) (*terrain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot, ok := s.snapshots[snapshotID]; ok {
		copied := snapshot
		return &copied, nil
	}
	return nil, nil
}

func (s *stubSnapshotRepo) LatestByLocation(_ context.Context, locationID string) (*terrain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *terrain.Snapshot
	for _, snapshot := range s.snapshots {
		if snapshot.LocationID != locationID {
			continue
		}
		if latest == nil || snapshot.CapturedAt.After(latest.CapturedAt) {
			copied := snapshot
			latest = &copied
		}
	}
	return latest, nil
}

func (s *stubSnapshotRepo) ListByLocation(_ context.Context, locationID string, _ int) ([]terrain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []terrain.Snapshot
	for _, snapshot := range s.snapshots {
		if snapshot.LocationID == locationID {
			result = append(result, snapshot)
		}
	}
	return result, nil
}

type frozenClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *frozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *frozenClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func unitSquare(minLon, minLat, size float64) *geom.Polygon {
	polygon := geom.NewPolygonFlat(geom.XY, []float64{
		minLon, minLat,
		minLon + size, minLat,
		minLon + size, minLat + size,
		minLon, minLat + size,
		minLon, minLat,
	}, []int{10})
	polygon.SetSRID(4326)
	return polygon
}

func seedArea(t *testing.T, repo *stubAreaRepo, id, locationID string, boundary *geom.Polygon, susceptibility, material float64, updatedAt time.Time) {
	t.Helper()
	repo.areas[id] = terrain.SourceArea{
		ID:                   id,
		LocationID:           locationID,
		Name:                 id,
		Boundary:             boundary,
		Susceptibility:       susceptibility,
		MaterialAvailability: material,
		MaterialUpdatedAt:    updatedAt,
	}
}

func seedSnapshot(t *testing.T, repo *stubSnapshotRepo, id, locationID string, capturedAt time.Time) {
	t.Helper()
	repo.snapshots[id] = terrain.Snapshot{
		ID:          id,
		LocationID:  locationID,
		CapturedAt:  capturedAt,
		SourceKind:  "lidar",
		ResolutionM: 0.5,
		MinLon:      0, MinLat: 0, MaxLon: 1, MaxLat: 1,
		RasterPath: "dem/" + id + ".tif",
	}
}

func newTestIntegrator(t *testing.T, areas *stubAreaRepo, detections *stubDetectionRepo, snapshots *stubSnapshotRepo, clock Clock) *Integrator {
	t.Helper()
	integrator, err := NewIntegrator(areas, detections, snapshots, DefaultIntegratorConfig(), log.New(os.Stdout, "", 0), WithClock(clock))
	if err != nil {
		t.Fatalf("NewIntegrator: %v", err)
	}
	return integrator
}

func testDetection(baseline, comparison string, detectedAt time.Time) terrain.Detection {
	return terrain.Detection{
		BaselineSnapshotID:   baseline,
		ComparisonSnapshotID: comparison,
		DoDRasterPath:        "dod/" + baseline + "-" + comparison + ".tif",
		DetectedAt:           detectedAt,
		MinLon:               0, MinLat: 0, MaxLon: 1, MaxLat: 1,
		ErosionVolumeM3:    500,
		DepositionVolumeM3: 2500,
		ChangeAreaM2:       12000,
		LoDThresholdM:      0.15,
	}
}

func TestApplyDetectionRechargesOverlappingAreas(t *testing.T) {
	areas := newStubAreaRepo()
	detections := &stubDetectionRepo{}
	snapshots := newStubSnapshotRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &frozenClock{now: now}

	// The detection box fully covers area a, half covers area b, misses c.
	seedArea(t, areas, "a", "loc-1", unitSquare(0, 0, 1), 0.8, 0.2, now)
	seedArea(t, areas, "b", "loc-1", unitSquare(0.5, 0, 1), 0.6, 0.2, now)
	seedArea(t, areas, "c", "loc-2", unitSquare(10, 10, 1), 0.9, 0.2, now)
	seedSnapshot(t, snapshots, "snap-base", "loc-1", now.Add(-30*24*time.Hour))
	seedSnapshot(t, snapshots, "snap-comp", "loc-1", now.Add(-time.Hour))

	integrator := newTestIntegrator(t, areas, detections, snapshots, clock)

	// Net change 2000 m3 against the 5000 m3 reference gives magnitude 0.4;
	// DetectedAt == now so no age discount applies.
	updated, err := integrator.ApplyDetection(context.Background(), testDetection("snap-base", "snap-comp", now))
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if updated != 2 {
		t.Fatalf("expected 2 areas updated, got %d", updated)
	}
	if len(detections.inserted) != 1 {
		t.Fatalf("expected stored detection")
	}
	if detections.inserted[0].ID == "" {
		t.Fatalf("expected generated detection id")
	}

	a := areas.areas["a"]
	if math.Abs(a.MaterialAvailability-0.6) > 1e-9 {
		t.Fatalf("expected full overlap recharge 0.2+0.4, got %v", a.MaterialAvailability)
	}
	b := areas.areas["b"]
	if math.Abs(b.MaterialAvailability-0.4) > 1e-9 {
		t.Fatalf("expected half overlap recharge 0.2+0.2, got %v", b.MaterialAvailability)
	}
	c := areas.areas["c"]
	if c.MaterialAvailability != 0.2 {
		t.Fatalf("expected untouched area, got %v", c.MaterialAvailability)
	}
}

func TestApplyDetectionIgnoresReplayedSnapshotPair(t *testing.T) {
	areas := newStubAreaRepo()
	detections := &stubDetectionRepo{}
	snapshots := newStubSnapshotRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &frozenClock{now: now}

	seedArea(t, areas, "a", "loc-1", unitSquare(0, 0, 1), 0.8, 0.2, now)
	seedSnapshot(t, snapshots, "snap-base", "loc-1", now.Add(-30*24*time.Hour))
	seedSnapshot(t, snapshots, "snap-comp", "loc-1", now.Add(-time.Hour))
	integrator := newTestIntegrator(t, areas, detections, snapshots, clock)

	if _, err := integrator.ApplyDetection(context.Background(), testDetection("snap-base", "snap-comp", now)); err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	first := areas.areas["a"].MaterialAvailability

	// A redelivered feed record for the same snapshot pair must not recharge
	// a second time.
	updated, err := integrator.ApplyDetection(context.Background(), testDetection("snap-base", "snap-comp", now))
	if err != nil {
		t.Fatalf("ApplyDetection replay: %v", err)
	}
	if updated != 0 {
		t.Fatalf("expected replay to update nothing, got %d", updated)
	}
	if got := areas.areas["a"].MaterialAvailability; got != first {
		t.Fatalf("expected material unchanged after replay, got %v", got)
	}
	if len(detections.inserted) != 1 {
		t.Fatalf("expected single stored detection, got %d", len(detections.inserted))
	}
}

func TestApplyDetectionErosionDominatedRechargesNothing(t *testing.T) {
	areas := newStubAreaRepo()
	detections := &stubDetectionRepo{}
	snapshots := newStubSnapshotRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &frozenClock{now: now}

	seedArea(t, areas, "a", "loc-1", unitSquare(0, 0, 1), 0.8, 0.5, now)
	seedSnapshot(t, snapshots, "snap-base", "loc-1", now.Add(-30*24*time.Hour))
	seedSnapshot(t, snapshots, "snap-comp", "loc-1", now.Add(-time.Hour))
	integrator := newTestIntegrator(t, areas, detections, snapshots, clock)

	detection := testDetection("snap-base", "snap-comp", now)
	detection.ErosionVolumeM3 = 3000
	detection.DepositionVolumeM3 = 1000

	updated, err := integrator.ApplyDetection(context.Background(), detection)
	if err != nil {
		t.Fatalf("ApplyDetection: %v", err)
	}
	if updated != 0 {
		t.Fatalf("expected no recharge from net erosion, got %d updates", updated)
	}
	// The detection itself is still recorded.
	if len(detections.inserted) != 1 {
		t.Fatalf("expected stored detection")
	}
	if got := areas.areas["a"].MaterialAvailability; got != 0.5 {
		t.Fatalf("expected material unchanged, got %v", got)
	}
}

func TestApplyDetectionRejectsInvalidFeed(t *testing.T) {
	areas := newStubAreaRepo()
	detections := &stubDetectionRepo{}
	snapshots := newStubSnapshotRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &frozenClock{now: now}
	seedSnapshot(t, snapshots, "snap-base", "loc-1", now.Add(-30*24*time.Hour))
	seedSnapshot(t, snapshots, "snap-comp", "loc-1", now.Add(-time.Hour))
	integrator := newTestIntegrator(t, areas, detections, snapshots, clock)

	// Degenerate box.
	degenerate := testDetection("snap-base", "snap-comp", now)
	degenerate.MinLon, degenerate.MaxLon = 1, 0
	if _, err := integrator.ApplyDetection(context.Background(), degenerate); err == nil {
		t.Fatalf("expected error for degenerate box")
	}

	// Stale detection beyond the feed age limit.
	if _, err := integrator.ApplyDetection(context.Background(), testDetection("snap-base", "snap-comp", now.Add(-60*24*time.Hour))); err == nil {
		t.Fatalf("expected error for stale detection")
	}

	// A snapshot reference that was never ingested.
	if _, err := integrator.ApplyDetection(context.Background(), testDetection("snap-base", "snap-ghost", now)); err == nil {
		t.Fatalf("expected error for unknown snapshot")
	}
	if len(detections.inserted) != 0 {
		t.Fatalf("expected no stored detections")
	}
}

func TestRegisterSnapshotAndLatest(t *testing.T) {
	areas := newStubAreaRepo()
	detections := &stubDetectionRepo{}
	snapshots := newStubSnapshotRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &frozenClock{now: now}
	integrator := newTestIntegrator(t, areas, detections, snapshots, clock)

	older, err := integrator.RegisterSnapshot(context.Background(), terrain.Snapshot{
		LocationID:  "loc-1",
		CapturedAt:  now.Add(-48 * time.Hour),
		SourceKind:  "lidar",
		ResolutionM: 0.5,
		MinLon:      0, MinLat: 0, MaxLon: 1, MaxLat: 1,
		RasterPath: "dem/older.tif",
	})
	if err != nil {
		t.Fatalf("RegisterSnapshot: %v", err)
	}
	if older.ID == "" {
		t.Fatalf("expected generated snapshot id")
	}

	newer, err := integrator.RegisterSnapshot(context.Background(), terrain.Snapshot{
		LocationID:  "loc-1",
		CapturedAt:  now.Add(-time.Hour),
		SourceKind:  "uav",
		ResolutionM: 0.2,
		MinLon:      0, MinLat: 0, MaxLon: 1, MaxLat: 1,
		RasterPath: "dem/newer.tif",
	})
	if err != nil {
		t.Fatalf("RegisterSnapshot: %v", err)
	}

	latest, err := integrator.LatestSnapshotID(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("LatestSnapshotID: %v", err)
	}
	if latest != newer.ID {
		t.Fatalf("expected latest snapshot %s, got %s", newer.ID, latest)
	}

	none, err := integrator.LatestSnapshotID(context.Background(), "loc-none")
	if err != nil {
		t.Fatalf("LatestSnapshotID: %v", err)
	}
	if none != "" {
		t.Fatalf("expected empty id for unmapped location, got %s", none)
	}

	if _, err := integrator.RegisterSnapshot(context.Background(), terrain.Snapshot{LocationID: "loc-1"}); err == nil {
		t.Fatalf("expected validation error for incomplete snapshot")
	}
}

func TestDecaySweepHalvesMaterialAtHalfLife(t *testing.T) {
	areas := newStubAreaRepo()
	detections := &stubDetectionRepo{}
	snapshots := newStubSnapshotRepo()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &frozenClock{now: start}
	seedArea(t, areas, "a", "loc-1", unitSquare(0, 0, 1), 0.8, 0.8, start)
	integrator := newTestIntegrator(t, areas, detections, snapshots, clock)

	clock.set(start.Add(180 * 24 * time.Hour))
	if err := integrator.DecaySweep(context.Background()); err != nil {
		t.Fatalf("DecaySweep: %v", err)
	}
	a := areas.areas["a"]
	if math.Abs(a.MaterialAvailability-0.4) > 1e-9 {
		t.Fatalf("expected material halved after one half-life, got %v", a.MaterialAvailability)
	}
}

func TestFactorsAggregation(t *testing.T) {
	areas := newStubAreaRepo()
	detections := &stubDetectionRepo{}
	snapshots := newStubSnapshotRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &frozenClock{now: now}
	seedArea(t, areas, "a", "loc-1", unitSquare(0, 0, 1), 0.9, 0.6, now)
	seedArea(t, areas, "b", "loc-1", unitSquare(2, 2, 1), 0.5, 0.2, now)
	integrator := newTestIntegrator(t, areas, detections, snapshots, clock)

	factors, err := integrator.Factors(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("Factors: %v", err)
	}
	if !factors.Known {
		t.Fatalf("expected known factors")
	}
	if factors.Susceptibility != 0.9 {
		t.Fatalf("expected worst-area susceptibility 0.9, got %v", factors.Susceptibility)
	}
	if math.Abs(factors.MaterialAvailability-0.4) > 1e-9 {
		t.Fatalf("expected mean material 0.4, got %v", factors.MaterialAvailability)
	}

	unknown, err := integrator.Factors(context.Background(), "loc-none")
	if err != nil {
		t.Fatalf("Factors unknown: %v", err)
	}
	if unknown.Known {
		t.Fatalf("expected unknown factors for unmapped location")
	}
}

func TestDetectionOverlapFraction(t *testing.T) {
	area := terrain.SourceArea{Boundary: unitSquare(0, 0, 2)}
	detection := terrain.Detection{MinLon: 1, MinLat: 1, MaxLon: 3, MaxLat: 3}
	if got := detection.OverlapFraction(&area); math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("expected overlap 0.25, got %v", got)
	}
	miss := terrain.Detection{MinLon: 5, MinLat: 5, MaxLon: 6, MaxLat: 6}
	if got := miss.OverlapFraction(&area); got != 0 {
		t.Fatalf("expected no overlap, got %v", got)
	}
}
