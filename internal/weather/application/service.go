package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	"debrisflow-monitor/internal/observability/metrics"
	"debrisflow-monitor/internal/weather/application/events"
	weather "debrisflow-monitor/internal/weather/domain"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// IngestReport summarizes a batch ingest.
type IngestReport struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// Service validates and commits observations and maintains the per-location
// rolling rainfall windows. Ingestion for a single location is serialized;
// different locations proceed in parallel.
type Service struct {
	repo      weather.ObservationRepository
	publisher EventPublisher
	logger    *log.Logger
	clock     Clock

	retryAttempts int
	retryBackoff  time.Duration

	mu        sync.Mutex
	locations map[string]*locationState
}

type locationState struct {
	mu      sync.Mutex
	windows *weather.WindowSet
	lastTS  time.Time
	seeded  bool
}

// ServiceOption customizes the ingest service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithRetry configures transient store retry behavior at the ingest boundary.
func WithRetry(attempts int, backoff time.Duration) ServiceOption {
	return func(s *Service) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if backoff > 0 {
			s.retryBackoff = backoff
		}
	}
}

// NewService constructs the ingest service.
func NewService(repo weather.ObservationRepository, publisher EventPublisher, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("weather: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		repo:          repo,
		publisher:     publisher,
		logger:        logger,
		clock:         systemClock{},
		retryAttempts: 3,
		retryBackoff:  200 * time.Millisecond,
		locations:     make(map[string]*locationState),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Ingest validates and commits a single observation.
func (s *Service) Ingest(ctx context.Context, obs weather.Observation) error {
	if s == nil {
		return errors.New("weather: nil service")
	}
	start := s.clock.Now()
	err := s.ingest(ctx, obs)
	elapsed := s.clock.Now().Sub(start).Seconds()
	if err != nil {
		metrics.ObserveIngestLatency("error", elapsed)
		return err
	}
	metrics.ObserveIngestLatency("success", elapsed)
	return nil
}

// IngestBatch commits a batch, reporting rejected records without aborting
// the remainder.
func (s *Service) IngestBatch(ctx context.Context, batch []weather.Observation) (IngestReport, error) {
	if s == nil {
		return IngestReport{}, errors.New("weather: nil service")
	}
	report := IngestReport{}
	for _, obs := range batch {
		if err := s.Ingest(ctx, obs); err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Accepted++
	}
	return report, nil
}

// WindowTotals returns the current rolling sums for a location.
func (s *Service) WindowTotals(ctx context.Context, locationID string) (weather.WindowTotals, error) {
	if s == nil {
		return weather.WindowTotals{}, errors.New("weather: nil service")
	}
	state, err := s.locationFor(ctx, locationID)
	if err != nil {
		return weather.WindowTotals{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.windows.Totals(s.clock.Now()), nil
}

// Rehydrate reloads the rolling windows from stored observations, used at
// startup so antecedent totals survive a restart.
func (s *Service) Rehydrate(ctx context.Context, locationIDs []string) error {
	if s == nil {
		return errors.New("weather: nil service")
	}
	now := s.clock.Now().UTC()
	for _, locationID := range locationIDs {
		if locationID == "" {
			continue
		}
		observations, err := s.repo.ListRange(ctx, locationID, now.Add(-7*24*time.Hour), now)
		if err != nil {
			return err
		}
		state, err := s.locationFor(ctx, locationID)
		if err != nil {
			return err
		}
		state.mu.Lock()
		state.windows = weather.NewWindowSet()
		for _, obs := range observations {
			state.windows.Add(obs.Timestamp, obs.RainfallMM)
			if obs.Timestamp.After(state.lastTS) {
				state.lastTS = obs.Timestamp
			}
		}
		state.seeded = true
		state.mu.Unlock()
		s.logger.Printf("weather rehydrate: location=%s observations=%d", locationID, len(observations))
	}
	return nil
}

func (s *Service) ingest(ctx context.Context, obs weather.Observation) error {
	if err := obs.Validate(); err != nil {
		metrics.IncIngestError()
		metrics.IncIngestRejected(rejectReason(err))
		return err
	}
	obs.Timestamp = obs.Timestamp.UTC()

	state, err := s.locationFor(ctx, obs.LocationID)
	if err != nil {
		metrics.IncIngestError()
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.seeded {
		latest, found, err := s.repo.LatestTimestamp(ctx, obs.LocationID)
		if err != nil {
			metrics.IncIngestError()
			return err
		}
		if found {
			state.lastTS = latest
		}
		state.seeded = true
	}

	if !state.lastTS.IsZero() {
		if obs.Timestamp.Equal(state.lastTS) {
			metrics.IncIngestError()
			metrics.IncIngestRejected("duplicate_timestamp")
			return weather.ErrDuplicateTimestamp
		}
		if obs.Timestamp.Before(state.lastTS) {
			metrics.IncIngestError()
			metrics.IncIngestRejected("out_of_order")
			return weather.ErrOutOfOrder
		}
	}

	if obs.ID == "" {
		obs.ID = buildObservationID(obs.LocationID, obs.Timestamp)
	}
	obs.CreatedAt = s.clock.Now().UTC()

	if err := s.insertWithRetry(ctx, &obs); err != nil {
		metrics.IncIngestError()
		return err
	}

	state.lastTS = obs.Timestamp
	state.windows.Add(obs.Timestamp, obs.RainfallMM)
	totals := state.windows.Totals(obs.Timestamp)

	metrics.IncIngestSuccess()

	if s.publisher != nil {
		accepted := events.ObservationAccepted{
			ObservationID: obs.ID,
			LocationID:    obs.LocationID,
			OccurredAt:    obs.Timestamp,
			RainfallMM:    obs.RainfallMM,
			IntensityMMHr: obs.IntensityMMHr,
			Sum1hMM:       totals.Hour1,
			Sum24hMM:      totals.Day1,
			Sum7dMM:       totals.Day7,
			Source:        obs.Source,
		}
		if err := s.publisher.Publish(ctx, accepted); err != nil {
			s.logger.Printf("weather ingest: publish error: location=%s err=%v", obs.LocationID, err)
		}
	}
	return nil
}

// insertWithRetry retries transient store errors at the ingest boundary only.
func (s *Service) insertWithRetry(ctx context.Context, obs *weather.Observation) error {
	var err error
	backoff := s.retryBackoff
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = s.repo.Insert(ctx, obs)
		if err == nil {
			return nil
		}
	}
	return err
}

func (s *Service) locationFor(_ context.Context, locationID string) (*locationState, error) {
	if locationID == "" {
		return nil, weather.ErrMissingLocation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.locations[locationID]
	if !ok {
		state = &locationState{windows: weather.NewWindowSet()}
		s.locations[locationID] = state
	}
	return state, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, weather.ErrNegativeRainfall):
		return "negative_rainfall"
	case errors.Is(err, weather.ErrMissingLocation):
		return "missing_location"
	default:
		return "invalid"
	}
}

func buildObservationID(locationID string, ts time.Time) string {
	sum := sha1.Sum([]byte(locationID + "|" + ts.Format(time.RFC3339Nano)))
	return "obs-" + hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
