package application

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"debrisflow-monitor/internal/weather/application/events"
	weather "debrisflow-monitor/internal/weather/domain"
)

type stubObservationRepo struct {
	mu       sync.Mutex
	inserted []weather.Observation
	failures int
	latest   map[string]time.Time
}

func newStubObservationRepo() *stubObservationRepo {
	return &stubObservationRepo{latest: make(map[string]time.Time)}
}

func (s *stubObservationRepo) Insert(_ context.Context, obs *weather.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("transient store error")
	}
	s.inserted = append(s.inserted, *obs)
	return nil
}

func (s *stubObservationRepo) LatestTimestamp(_ context.Context, locationID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.latest[locationID]
	return ts, ok, nil
}

func (s *stubObservationRepo) ListRange(_ context.Context, locationID string, from, to time.Time) ([]weather.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []weather.Observation
	for _, obs := range s.inserted {
		if obs.LocationID != locationID {
			continue
		}
		if obs.Timestamp.Before(from) || obs.Timestamp.After(to) {
			continue
		}
		result = append(result, obs)
	}
	return result, nil
}

func (s *stubObservationRepo) ListRecent(_ context.Context, locationID string, limit int) ([]weather.Observation, error) {
	return nil, nil
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

func (s *stubPublisher) accepted() []events.ObservationAccepted {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []events.ObservationAccepted
	for _, event := range s.events {
		if accepted, ok := event.(events.ObservationAccepted); ok {
			result = append(result, accepted)
		}
	}
	return result
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestService(t *testing.T, repo *stubObservationRepo, publisher *stubPublisher, clock *fixedClock) *Service {
	t.Helper()
	service, err := NewService(repo, publisher, log.New(os.Stdout, "", 0), WithClock(clock), WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func TestIngestRejectsOutOfOrderAndDuplicate(t *testing.T) {
	repo := newStubObservationRepo()
	publisher := &stubPublisher{}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: base}
	service := newTestService(t, repo, publisher, clock)

	obs := weather.Observation{LocationID: "loc-1", Timestamp: base, RainfallMM: 1.0}
	if err := service.Ingest(context.Background(), obs); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	dup := obs
	if err := service.Ingest(context.Background(), dup); !errors.Is(err, weather.ErrDuplicateTimestamp) {
		t.Fatalf("expected ErrDuplicateTimestamp, got %v", err)
	}

	old := obs
	old.Timestamp = base.Add(-time.Minute)
	if err := service.Ingest(context.Background(), old); !errors.Is(err, weather.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(repo.inserted))
	}
}

func TestIngestSeedsLastTimestampFromStore(t *testing.T) {
	repo := newStubObservationRepo()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.latest["loc-1"] = base

	publisher := &stubPublisher{}
	clock := &fixedClock{now: base}
	service := newTestService(t, repo, publisher, clock)

	stale := weather.Observation{LocationID: "loc-1", Timestamp: base.Add(-time.Hour), RainfallMM: 1.0}
	if err := service.Ingest(context.Background(), stale); !errors.Is(err, weather.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder from seeded state, got %v", err)
	}
}

func TestIngestPublishesWindowTotals(t *testing.T) {
	repo := newStubObservationRepo()
	publisher := &stubPublisher{}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: base}
	service := newTestService(t, repo, publisher, clock)

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * 20 * time.Minute)
		clock.set(at)
		obs := weather.Observation{LocationID: "loc-1", Timestamp: at, RainfallMM: 2.0, IntensityMMHr: 6.0}
		if err := service.Ingest(context.Background(), obs); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	accepted := publisher.accepted()
	if len(accepted) != 3 {
		t.Fatalf("expected 3 events, got %d", len(accepted))
	}
	last := accepted[2]
	if last.Sum1hMM != 6.0 {
		t.Fatalf("expected 1h sum 6.0, got %v", last.Sum1hMM)
	}
	if last.Sum24hMM != 6.0 || last.Sum7dMM != 6.0 {
		t.Fatalf("unexpected totals: %+v", last)
	}
	if last.ObservationID == "" {
		t.Fatalf("expected generated observation id")
	}
}

func TestIngestRetriesTransientStoreErrors(t *testing.T) {
	repo := newStubObservationRepo()
	repo.failures = 2
	publisher := &stubPublisher{}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: base}
	service := newTestService(t, repo, publisher, clock)

	obs := weather.Observation{LocationID: "loc-1", Timestamp: base, RainfallMM: 1.0}
	if err := service.Ingest(context.Background(), obs); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 insert after retries, got %d", len(repo.inserted))
	}
}

func TestIngestBatchReportsRejected(t *testing.T) {
	repo := newStubObservationRepo()
	publisher := &stubPublisher{}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: base}
	service := newTestService(t, repo, publisher, clock)

	batch := []weather.Observation{
		{LocationID: "loc-1", Timestamp: base, RainfallMM: 1.0},
		{LocationID: "loc-1", Timestamp: base, RainfallMM: 1.0},
		{LocationID: "", Timestamp: base.Add(time.Minute), RainfallMM: 1.0},
		{LocationID: "loc-1", Timestamp: base.Add(time.Minute), RainfallMM: -2.0},
		{LocationID: "loc-1", Timestamp: base.Add(2 * time.Minute), RainfallMM: 0.5},
	}
	report, err := service.IngestBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IngestBatch: %v", err)
	}
	if report.Accepted != 2 {
		t.Fatalf("expected 2 accepted, got %d", report.Accepted)
	}
	if report.Rejected != 3 {
		t.Fatalf("expected 3 rejected, got %d", report.Rejected)
	}
}

func TestRehydrateRebuildsWindows(t *testing.T) {
	repo := newStubObservationRepo()
	publisher := &stubPublisher{}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fixedClock{now: base}

	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i-4) * time.Hour)
		repo.inserted = append(repo.inserted, weather.Observation{
			LocationID: "loc-1", Timestamp: at, RainfallMM: 5.0,
		})
	}

	service := newTestService(t, repo, publisher, clock)
	if err := service.Rehydrate(context.Background(), []string{"loc-1"}); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	totals, err := service.WindowTotals(context.Background(), "loc-1")
	if err != nil {
		t.Fatalf("WindowTotals: %v", err)
	}
	if totals.Day1 != 20.0 {
		t.Fatalf("expected 24h total 20.0 after rehydrate, got %v", totals.Day1)
	}
}
