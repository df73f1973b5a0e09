package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"debrisflow-monitor/internal/observability/metrics"
	"debrisflow-monitor/internal/simulation/application/events"
	simulation "debrisflow-monitor/internal/simulation/domain"
	"debrisflow-monitor/internal/simulation/executor"
)

// Supervisor drives in-flight runs to a terminal state: it retries stuck
// submissions, polls the engine, enforces the run timeout and publishes the
// terminal event exactly once per run.
type Supervisor struct {
	repo      simulation.RunRepository
	engine    executor.Engine
	publisher EventPublisher
	logger    *log.Logger
	clock     Clock
	config    Config
}

// SupervisorOption customizes the supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorClock assigns a clock.
func WithSupervisorClock(clock Clock) SupervisorOption {
	return func(s *Supervisor) {
		s.clock = clock
	}
}

// NewSupervisor constructs a supervisor.
func NewSupervisor(repo simulation.RunRepository, engine executor.Engine, publisher EventPublisher, config Config, logger *log.Logger, opts ...SupervisorOption) (*Supervisor, error) {
	if repo == nil {
		return nil, errors.New("simulation supervisor: nil repository")
	}
	if engine == nil {
		return nil, errors.New("simulation supervisor: nil engine")
	}
	if logger == nil {
		logger = log.Default()
	}
	supervisor := &Supervisor{
		repo:      repo,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
		clock:     systemClock{},
		config:    config.withDefaults(),
	}
	for _, opt := range opts {
		opt(supervisor)
	}
	return supervisor, nil
}

// Run polls until the context is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				s.logger.Printf("simulation supervisor: poll error: %v", err)
			}
		}
	}
}

// Poll advances every in-flight run one step.
func (s *Supervisor) Poll(ctx context.Context) error {
	if s == nil {
		return errors.New("simulation supervisor: nil supervisor")
	}
	inFlight, err := s.repo.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("list in-flight runs: %w", err)
	}
	for i := range inFlight {
		run := inFlight[i]
		if err := s.step(ctx, &run); err != nil {
			s.logger.Printf("simulation supervisor: step error: run=%s err=%v", run.ID, err)
		}
	}
	return nil
}

func (s *Supervisor) step(ctx context.Context, run *simulation.Run) error {
	now := s.clock.Now().UTC()

	if now.Sub(run.SubmittedAt) > s.config.RunTimeout {
		if run.EngineJobID != "" {
			if err := s.engine.Cancel(ctx, run.EngineJobID); err != nil {
				s.logger.Printf("simulation supervisor: cancel after timeout error: run=%s err=%v", run.ID, err)
			}
		}
		return s.finish(ctx, run, simulation.StatusFailed, nil,
			fmt.Sprintf("timed out after %s", s.config.RunTimeout))
	}

	if run.Status == simulation.StatusPending && run.EngineJobID == "" {
		engineJobID, err := s.engine.Submit(ctx, *run)
		if err != nil {
			return fmt.Errorf("resubmit: %w", err)
		}
		if err := s.repo.MarkRunning(ctx, run.ID, engineJobID, now); err != nil {
			return fmt.Errorf("mark running: %w", err)
		}
		run.EngineJobID = engineJobID
		run.Status = simulation.StatusRunning
		return nil
	}

	status, err := s.engine.Status(ctx, run.EngineJobID)
	if err != nil {
		if errors.Is(err, executor.ErrJobNotFound) {
			return s.finish(ctx, run, simulation.StatusFailed, nil, "engine lost the job")
		}
		return fmt.Errorf("poll status: %w", err)
	}

	switch status.State {
	case executor.JobQueued, executor.JobRunning:
		return nil
	case executor.JobSucceeded:
		return s.finish(ctx, run, simulation.StatusCompleted, status.Result, "")
	case executor.JobCanceled:
		return s.finish(ctx, run, simulation.StatusCanceled, nil, "canceled on engine")
	default:
		reason := status.Error
		if reason == "" {
			reason = "engine reported failure"
		}
		return s.finish(ctx, run, simulation.StatusFailed, nil, reason)
	}
}

// CancelRun aborts an in-flight run on operator request.
func (s *Supervisor) CancelRun(ctx context.Context, runID, canceledBy string) error {
	if s == nil {
		return errors.New("simulation supervisor: nil supervisor")
	}
	run, err := s.repo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return simulation.ErrRunNotFound
	}
	if run.Status.Terminal() {
		return simulation.ErrNotCancelable
	}
	if run.EngineJobID != "" {
		if err := s.engine.Cancel(ctx, run.EngineJobID); err != nil {
			s.logger.Printf("simulation supervisor: engine cancel error: run=%s err=%v", run.ID, err)
		}
	}
	if err := s.finish(ctx, run, simulation.StatusCanceled, nil, "canceled by "+canceledBy); err != nil {
		return err
	}
	if s.publisher != nil {
		canceled := events.RunCanceled{
			RunID:      run.ID,
			LocationID: run.LocationID,
			OccurredAt: s.clock.Now().UTC(),
			CanceledBy: canceledBy,
		}
		if err := s.publisher.Publish(ctx, canceled); err != nil {
			s.logger.Printf("simulation supervisor: publish error: run=%s err=%v", run.ID, err)
		}
	}
	return nil
}

// finish moves the run to a terminal state. The repository transition is the
// idempotency point: only the caller that wins the transition publishes the
// terminal event.
func (s *Supervisor) finish(ctx context.Context, run *simulation.Run, status simulation.RunStatus, result *simulation.Result, errMsg string) error {
	now := s.clock.Now().UTC()
	transitioned, err := s.repo.FinishTerminal(ctx, run.ID, status, result, errMsg, now)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if !transitioned {
		return nil
	}

	duration := now.Sub(run.SubmittedAt).Seconds()
	metrics.IncSimulationRun(string(status))
	metrics.AddRunsInFlight(-1)
	metrics.ObserveSimulationDuration(duration)
	s.logger.Printf("simulation supervisor: run %s: run=%s location=%s duration=%.0fs", status, run.ID, run.LocationID, duration)

	if s.publisher == nil {
		return nil
	}
	switch status {
	case simulation.StatusCompleted:
		completed := events.RunCompleted{
			RunID:           run.ID,
			LocationID:      run.LocationID,
			SnapshotID:      run.SnapshotID,
			EventID:         run.EventID,
			AssessmentID:    run.AssessmentID,
			OccurredAt:      now,
			DurationSeconds: duration,
		}
		if result != nil {
			completed.AffectedAreaM2 = result.AffectedAreaM2
			completed.MaxDepthM = result.MaxDepthM
			completed.MaxVelocityMS = result.MaxVelocityMS
			completed.RiskLevel = result.RiskLevel
			completed.BoundaryWKT = result.BoundaryWKT
		}
		if err := s.publisher.Publish(ctx, completed); err != nil {
			s.logger.Printf("simulation supervisor: publish error: run=%s err=%v", run.ID, err)
		}
	case simulation.StatusFailed:
		failed := events.RunFailed{
			RunID:      run.ID,
			LocationID: run.LocationID,
			EventID:    run.EventID,
			OccurredAt: now,
			Reason:     errMsg,
		}
		if err := s.publisher.Publish(ctx, failed); err != nil {
			s.logger.Printf("simulation supervisor: publish error: run=%s err=%v", run.ID, err)
		}
	}
	return nil
}
