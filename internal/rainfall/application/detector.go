package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"debrisflow-monitor/internal/observability/metrics"
	"debrisflow-monitor/internal/rainfall/application/events"
	rainfall "debrisflow-monitor/internal/rainfall/domain"
	weatherevents "debrisflow-monitor/internal/weather/application/events"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// DetectorConfig carries the onset and closure thresholds.
type DetectorConfig struct {
	// OnsetIntensityMMHr opens an episode when instantaneous intensity
	// reaches this value.
	OnsetIntensityMMHr float64
	// OnsetSum1hMM opens an episode when the rolling 1h sum reaches this
	// value even at low instantaneous intensity.
	OnsetSum1hMM float64
	// InactivityGap closes an episode once this long passes without
	// qualifying rainfall. Rain arriving exactly at the gap boundary still
	// extends the episode.
	InactivityGap time.Duration
	// ExceedanceLatch latches the threshold flag on the open episode when an
	// assessment reports at least this exceedance ratio.
	ExceedanceLatch float64
}

// DefaultDetectorConfig returns the standard detector thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		OnsetIntensityMMHr: 0.2,
		OnsetSum1hMM:       1.0,
		InactivityGap:      2 * time.Hour,
		ExceedanceLatch:    1.0,
	}
}

// Detector runs the rainfall event state machine. All transitions for one
// location are serialized behind a per-location lock, so an episode can never
// be opened or closed twice.
type Detector struct {
	repo      rainfall.EventRepository
	publisher EventPublisher
	logger    *log.Logger
	clock     Clock
	config    DetectorConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// DetectorOption customizes the detector.
type DetectorOption func(*Detector)

// WithClock assigns a clock.
func WithClock(clock Clock) DetectorOption {
	return func(d *Detector) {
		d.clock = clock
	}
}

// NewDetector constructs a detector.
func NewDetector(repo rainfall.EventRepository, publisher EventPublisher, config DetectorConfig, logger *log.Logger, opts ...DetectorOption) (*Detector, error) {
	if repo == nil {
		return nil, errors.New("rainfall detector: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	if config.OnsetIntensityMMHr <= 0 && config.OnsetSum1hMM <= 0 {
		return nil, errors.New("rainfall detector: no onset threshold configured")
	}
	if config.InactivityGap <= 0 {
		config.InactivityGap = DefaultDetectorConfig().InactivityGap
	}
	if config.ExceedanceLatch <= 0 {
		config.ExceedanceLatch = DefaultDetectorConfig().ExceedanceLatch
	}
	detector := &Detector{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		clock:     systemClock{},
		config:    config,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(detector)
	}
	return detector, nil
}

// HandleObservation advances the state machine for one accepted observation.
func (d *Detector) HandleObservation(ctx context.Context, accepted weatherevents.ObservationAccepted) error {
	if d == nil {
		return errors.New("rainfall detector: nil detector")
	}
	if accepted.LocationID == "" {
		return errors.New("rainfall detector: missing location id")
	}
	lock := d.lockFor(accepted.LocationID)
	lock.Lock()
	defer lock.Unlock()

	metrics.SetConsumerLag("rainfall_detector", d.clock.Now().Sub(accepted.OccurredAt).Seconds())

	event, err := d.repo.GetActive(ctx, accepted.LocationID)
	if err != nil {
		return fmt.Errorf("load active event: %w", err)
	}

	if event != nil {
		elapsed := accepted.OccurredAt.Sub(event.LastRainfallAt)
		if elapsed > d.config.InactivityGap {
			if err := d.closeEvent(ctx, event, accepted.OccurredAt); err != nil {
				return err
			}
			event = nil
		}
	}

	if event != nil {
		if err := event.Accumulate(accepted.OccurredAt, accepted.RainfallMM, accepted.IntensityMMHr); err != nil {
			return err
		}
		if err := d.repo.Update(ctx, event); err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		metrics.IncDetectorTransition("extended")
		d.publish(ctx, events.EventUpdated{
			EventID:           event.ID,
			LocationID:        event.LocationID,
			OccurredAt:        accepted.OccurredAt,
			TotalRainfallMM:   event.TotalRainfallMM,
			DurationHours:     event.DurationHours(),
			IntensityMMHr:     accepted.IntensityMMHr,
			PeakIntensityMMHr: event.PeakIntensityMMHr,
			Antecedent24hMM:   clampNonNegative(accepted.Sum24hMM - event.TotalRainfallMM),
			Antecedent7dMM:    clampNonNegative(accepted.Sum7dMM - event.TotalRainfallMM),
		})
		return nil
	}

	if !d.qualifiesAsOnset(accepted) {
		return nil
	}

	now := d.clock.Now().UTC()
	event = &rainfall.Event{
		ID:                buildEventID(accepted.LocationID, accepted.OccurredAt),
		LocationID:        accepted.LocationID,
		Status:            rainfall.StatusActive,
		StartedAt:         accepted.OccurredAt.UTC(),
		LastRainfallAt:    accepted.OccurredAt.UTC(),
		TotalRainfallMM:   accepted.RainfallMM,
		PeakIntensityMMHr: accepted.IntensityMMHr,
		Antecedent7dMM:    clampNonNegative(accepted.Sum7dMM - accepted.RainfallMM),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := d.repo.Insert(ctx, event); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	metrics.IncDetectorTransition("opened")
	metrics.AddActiveEvents(1)
	d.logger.Printf("rainfall detector: event opened: location=%s event=%s intensity=%.2f", event.LocationID, event.ID, accepted.IntensityMMHr)
	d.publish(ctx, events.EventOpened{
		EventID:        event.ID,
		LocationID:     event.LocationID,
		OccurredAt:     event.StartedAt,
		IntensityMMHr:  accepted.IntensityMMHr,
		Antecedent7dMM: event.Antecedent7dMM,
	})
	d.publish(ctx, events.EventUpdated{
		EventID:           event.ID,
		LocationID:        event.LocationID,
		OccurredAt:        event.StartedAt,
		TotalRainfallMM:   event.TotalRainfallMM,
		DurationHours:     0,
		IntensityMMHr:     accepted.IntensityMMHr,
		PeakIntensityMMHr: event.PeakIntensityMMHr,
		Antecedent24hMM:   clampNonNegative(accepted.Sum24hMM - accepted.RainfallMM),
		Antecedent7dMM:    event.Antecedent7dMM,
	})
	return nil
}

// ApplyAssessment latches the threshold flag on the open episode when the
// exceedance ratio crosses the configured latch. The latch survives until
// closure even if later assessments fall back below it.
func (d *Detector) ApplyAssessment(ctx context.Context, locationID, eventID string, exceedance float64) error {
	if d == nil {
		return errors.New("rainfall detector: nil detector")
	}
	if exceedance < d.config.ExceedanceLatch {
		return nil
	}
	lock := d.lockFor(locationID)
	lock.Lock()
	defer lock.Unlock()

	event, err := d.repo.GetActive(ctx, locationID)
	if err != nil {
		return fmt.Errorf("load active event: %w", err)
	}
	if event == nil || (eventID != "" && event.ID != eventID) {
		// The episode already closed; the closure event carried the flag.
		return nil
	}
	if err := event.MarkExceeded(exceedance); err != nil {
		return err
	}
	if err := d.repo.Update(ctx, event); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// CloseInactive sweeps open episodes whose inactivity gap elapsed on the wall
// clock, covering locations whose stations simply stopped reporting.
func (d *Detector) CloseInactive(ctx context.Context) error {
	if d == nil {
		return errors.New("rainfall detector: nil detector")
	}
	active, err := d.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active events: %w", err)
	}
	now := d.clock.Now().UTC()
	for i := range active {
		event := active[i]
		if now.Sub(event.LastRainfallAt) <= d.config.InactivityGap {
			continue
		}
		lock := d.lockFor(event.LocationID)
		lock.Lock()
		current, err := d.repo.GetActive(ctx, event.LocationID)
		if err == nil && current != nil && current.ID == event.ID {
			err = d.closeEvent(ctx, current, now)
		}
		lock.Unlock()
		if err != nil {
			d.logger.Printf("rainfall detector: close sweep error: location=%s err=%v", event.LocationID, err)
		}
	}
	return nil
}

// Run drives the inactivity sweep until the context is canceled.
func (d *Detector) Run(ctx context.Context, interval time.Duration) {
	if d == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.CloseInactive(ctx); err != nil {
				d.logger.Printf("rainfall detector: sweep error: %v", err)
			}
		}
	}
}

func (d *Detector) closeEvent(ctx context.Context, event *rainfall.Event, now time.Time) error {
	if err := event.Close(now); err != nil {
		return err
	}
	if err := d.repo.Update(ctx, event); err != nil {
		return fmt.Errorf("close event: %w", err)
	}
	metrics.IncDetectorTransition("closed")
	metrics.AddActiveEvents(-1)
	d.logger.Printf("rainfall detector: event closed: location=%s event=%s total=%.1fmm exceeded=%t",
		event.LocationID, event.ID, event.TotalRainfallMM, event.ThresholdExceeded)
	d.publish(ctx, events.EventClosed{
		EventID:           event.ID,
		LocationID:        event.LocationID,
		OccurredAt:        now.UTC(),
		StartedAt:         event.StartedAt,
		EndedAt:           *event.EndedAt,
		TotalRainfallMM:   event.TotalRainfallMM,
		PeakIntensityMMHr: event.PeakIntensityMMHr,
		DurationHours:     event.DurationHours(),
		ThresholdExceeded: event.ThresholdExceeded,
		PeakExceedance:    event.PeakExceedance,
	})
	return nil
}

func (d *Detector) qualifiesAsOnset(accepted weatherevents.ObservationAccepted) bool {
	if d.config.OnsetIntensityMMHr > 0 && accepted.IntensityMMHr >= d.config.OnsetIntensityMMHr {
		return true
	}
	if d.config.OnsetSum1hMM > 0 && accepted.Sum1hMM >= d.config.OnsetSum1hMM {
		return true
	}
	return false
}

func (d *Detector) publish(ctx context.Context, event any) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Printf("rainfall detector: publish error: %v", err)
	}
}

func (d *Detector) lockFor(locationID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[locationID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[locationID] = lock
	}
	return lock
}

func clampNonNegative(value float64) float64 {
	if value < 0 {
		return 0
	}
	return value
}

func buildEventID(locationID string, at time.Time) string {
	sum := sha1.Sum([]byte(locationID + "|" + at.UTC().Format(time.RFC3339Nano)))
	return "rain-" + hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
