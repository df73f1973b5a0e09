package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"debrisflow-monitor/internal/observability/metrics"
	riskevents "debrisflow-monitor/internal/risk/application/events"
	risk "debrisflow-monitor/internal/risk/domain"
	"debrisflow-monitor/internal/simulation/application/events"
	simulation "debrisflow-monitor/internal/simulation/domain"
	"debrisflow-monitor/internal/simulation/executor"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SnapshotIndex resolves the newest terrain snapshot for a location, so a
// run is pinned to the terrain state it simulates.
type SnapshotIndex interface {
	LatestSnapshotID(ctx context.Context, locationID string) (string, error)
}

// Dispatcher creates simulation runs. One logical trigger creates exactly one
// run: replayed threshold events collapse on the dedupe key, and a run is
// submitted to the engine only after its row exists.
type Dispatcher struct {
	repo      simulation.RunRepository
	engine    executor.Engine
	publisher EventPublisher
	snapshots SnapshotIndex
	logger    *log.Logger
	clock     Clock
	config    Config
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock assigns a clock.
func WithClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithSnapshotIndex assigns the terrain snapshot lookup.
func WithSnapshotIndex(snapshots SnapshotIndex) DispatcherOption {
	return func(d *Dispatcher) {
		d.snapshots = snapshots
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(repo simulation.RunRepository, engine executor.Engine, publisher EventPublisher, config Config, logger *log.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, errors.New("simulation dispatcher: nil repository")
	}
	if engine == nil {
		return nil, errors.New("simulation dispatcher: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	dispatcher := &Dispatcher{
		repo:      repo,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
		clock:     systemClock{},
		config:    config.withDefaults(),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// HandleRiskAssessed dispatches a threshold-triggered run when the assessment
// crosses any dispatch criterion.
func (d *Dispatcher) HandleRiskAssessed(ctx context.Context, assessed riskevents.RiskAssessed) error {
	if d == nil {
		return errors.New("simulation dispatcher: nil dispatcher")
	}
	if !d.shouldDispatch(assessed) {
		return nil
	}
	run := simulation.Run{
		LocationID:   assessed.LocationID,
		EventID:      assessed.EventID,
		AssessmentID: assessed.AssessmentID,
		Trigger:      simulation.TriggerThreshold,
	}
	_, err := d.dispatch(ctx, run)
	if errors.Is(err, simulation.ErrDuplicateDispatch) {
		// The episode already has a run in flight or done.
		return nil
	}
	return err
}

// DispatchManual creates an operator-requested run. A location with a run
// already in flight is rejected rather than queued twice.
func (d *Dispatcher) DispatchManual(ctx context.Context, locationID, requestedBy string, params *simulation.Params) (*simulation.Run, error) {
	if d == nil {
		return nil, errors.New("simulation dispatcher: nil dispatcher")
	}
	if locationID == "" {
		return nil, errors.New("simulation dispatcher: missing location id")
	}
	inFlight, err := d.repo.HasInFlight(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("check in-flight runs: %w", err)
	}
	if inFlight {
		return nil, simulation.ErrDuplicateDispatch
	}
	run := simulation.Run{
		LocationID:  locationID,
		Trigger:     simulation.TriggerManual,
		RequestedBy: requestedBy,
	}
	if params != nil {
		run.Params = *params
	}
	return d.dispatch(ctx, run)
}

// DispatchScheduled creates the periodic baseline run for a location.
func (d *Dispatcher) DispatchScheduled(ctx context.Context, locationID string, day time.Time) (*simulation.Run, error) {
	if d == nil {
		return nil, errors.New("simulation dispatcher: nil dispatcher")
	}
	if locationID == "" {
		return nil, errors.New("simulation dispatcher: missing location id")
	}
	run := simulation.Run{
		LocationID: locationID,
		// The day stamp makes one scheduled run per location per day.
		EventID: day.UTC().Format("2006-01-02"),
		Trigger: simulation.TriggerScheduled,
	}
	return d.dispatch(ctx, run)
}

func (d *Dispatcher) dispatch(ctx context.Context, run simulation.Run) (*simulation.Run, error) {
	now := d.clock.Now().UTC()
	if run.ID == "" {
		run.ID = "run-" + uuid.NewString()
	}
	if !run.Trigger.Valid() {
		return nil, fmt.Errorf("simulation dispatcher: invalid trigger %q", run.Trigger)
	}
	if run.Params == (simulation.Params{}) {
		run.Params = d.config.Params
	}
	if run.SnapshotID == "" && d.snapshots != nil {
		snapshotID, err := d.snapshots.LatestSnapshotID(ctx, run.LocationID)
		if err != nil {
			d.logger.Printf("simulation dispatcher: snapshot lookup error: location=%s err=%v", run.LocationID, err)
		} else {
			run.SnapshotID = snapshotID
		}
	}
	run.Status = simulation.StatusPending
	run.SubmittedAt = now
	run.CreatedAt = now
	run.UpdatedAt = now

	created, err := d.repo.CreateIfAbsent(ctx, &run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if !created {
		return nil, simulation.ErrDuplicateDispatch
	}

	metrics.IncSimulationRun("dispatched")
	metrics.AddRunsInFlight(1)
	d.logger.Printf("simulation dispatcher: run created: run=%s location=%s trigger=%s", run.ID, run.LocationID, run.Trigger)

	engineJobID, err := d.engine.Submit(ctx, run)
	if err != nil {
		// The run row stays pending; the supervisor retries submission.
		d.logger.Printf("simulation dispatcher: submit error: run=%s err=%v", run.ID, err)
	} else if err := d.repo.MarkRunning(ctx, run.ID, engineJobID, d.clock.Now().UTC()); err != nil {
		d.logger.Printf("simulation dispatcher: mark running error: run=%s err=%v", run.ID, err)
	} else {
		run.Status = simulation.StatusRunning
		run.EngineJobID = engineJobID
	}

	if d.publisher != nil {
		dispatched := events.RunDispatched{
			RunID:      run.ID,
			LocationID: run.LocationID,
			SnapshotID: run.SnapshotID,
			EventID:    run.EventID,
			Trigger:    string(run.Trigger),
			OccurredAt: now,
		}
		if err := d.publisher.Publish(ctx, dispatched); err != nil {
			d.logger.Printf("simulation dispatcher: publish error: run=%s err=%v", run.ID, err)
		}
	}
	return &run, nil
}

func (d *Dispatcher) shouldDispatch(assessed riskevents.RiskAssessed) bool {
	if risk.Level(assessed.Level).AtLeast(risk.Level(d.config.TriggerLevel)) {
		return true
	}
	if assessed.Exceedance >= d.config.TriggerExceedance {
		return true
	}
	if assessed.Saturation >= d.config.TriggerSaturation {
		return true
	}
	return false
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
