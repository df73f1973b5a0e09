package application

import (
	"context"
	"errors"
	"log"
	"time"

	simulation "debrisflow-monitor/internal/simulation/domain"
)

// Scheduler dispatches one baseline run per configured location per day.
type Scheduler struct {
	dispatcher *Dispatcher
	logger     *log.Logger
	clock      Clock
	hourUTC    int
	locations  []string
}

// NewScheduler constructs a scheduler.
func NewScheduler(dispatcher *Dispatcher, config Config, logger *log.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if dispatcher == nil {
		return nil, errors.New("simulation scheduler: nil dispatcher")
	}
	if logger == nil {
		logger = log.Default()
	}
	config = config.withDefaults()
	scheduler := &Scheduler{
		dispatcher: dispatcher,
		logger:     logger,
		clock:      systemClock{},
		hourUTC:    config.ScheduledRunHourUTC,
		locations:  config.ScheduledLocations,
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	return scheduler, nil
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock assigns a clock.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// Run waits for the daily mark and dispatches until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || len(s.locations) == 0 {
		return
	}
	for {
		next := s.nextRunTime(s.clock.Now().UTC())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.DispatchDue(ctx, next)
		}
	}
}

// DispatchDue dispatches the baseline run for every configured location.
// Duplicate days collapse on the run dedupe key.
func (s *Scheduler) DispatchDue(ctx context.Context, day time.Time) {
	for _, locationID := range s.locations {
		_, err := s.dispatcher.DispatchScheduled(ctx, locationID, day)
		if errors.Is(err, simulation.ErrDuplicateDispatch) {
			continue
		}
		if err != nil {
			s.logger.Printf("simulation scheduler: dispatch error: location=%s err=%v", locationID, err)
			continue
		}
		s.logger.Printf("simulation scheduler: baseline run dispatched: location=%s day=%s", locationID, day.Format("2006-01-02"))
	}
}

func (s *Scheduler) nextRunTime(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
