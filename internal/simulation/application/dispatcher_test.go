package application

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	riskevents "debrisflow-monitor/internal/risk/application/events"
	"debrisflow-monitor/internal/simulation/application/events"
	simulation "debrisflow-monitor/internal/simulation/domain"
	"debrisflow-monitor/internal/simulation/executor"
)

type stubRunRepo struct {
	mu      sync.Mutex
	byID    map[string]*simulation.Run
	byKey   map[string]string
	failing bool
}

func newStubRunRepo() *stubRunRepo {
	return &stubRunRepo{byID: make(map[string]*simulation.Run), byKey: make(map[string]string)}
}

func (s *stubRunRepo) CreateIfAbsent(_ context.Context, run *simulation.Run) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, errors.New("store down")
	}
	key := run.DedupeKey()
	if _, exists := s.byKey[key]; exists {
		return false, nil
	}
	copied := *run
	s.byID[run.ID] = &copied
	s.byKey[key] = run.ID
	return true, nil
}

func (s *stubRunRepo) MarkRunning(_ context.Context, runID, engineJobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.byID[runID]
	if !ok || run.Status != simulation.StatusPending {
		return nil
	}
	run.Status = simulation.StatusRunning
	run.EngineJobID = engineJobID
	started := at
	run.StartedAt = &started
	return nil
}

func (s *stubRunRepo) FinishTerminal(_ context.Context, runID string, status simulation.RunStatus, result *simulation.Result, errMsg string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.byID[runID]
	if !ok {
		return false, nil
	}
	if run.Status.Terminal() {
		return false, nil
	}
	run.Status = status
	run.Result = result
	run.Error = errMsg
	finished := at
	run.FinishedAt = &finished
	return true, nil
}

func (s *stubRunRepo) GetByID(_ context.Context, runID string) (*simulation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.byID[runID]; ok {
		copied := *run
		return &copied, nil
	}
	return nil, nil
}

func (s *stubRunRepo) HasInFlight(_ context.Context, locationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.byID {
		if run.LocationID == locationID && !run.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRunRepo) ListInFlight(_ context.Context) ([]simulation.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []simulation.Run
	for _, run := range s.byID {
		if !run.Status.Terminal() {
			result = append(result, *run)
		}
	}
	return result, nil
}

func (s *stubRunRepo) ListRecent(_ context.Context, _ string, _ int) ([]simulation.Run, error) {
	return nil, nil
}

type stubEngine struct {
	mu        sync.Mutex
	submitted []string
	statuses  map[string]executor.JobStatus
	canceled  []string
	submitErr error
}

func newStubEngine() *stubEngine {
	return &stubEngine{statuses: make(map[string]executor.JobStatus)}
}

func (s *stubEngine) Submit(_ context.Context, run simulation.Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	jobID := "job-" + run.ID
	s.submitted = append(s.submitted, jobID)
	if _, ok := s.statuses[jobID]; !ok {
		s.statuses[jobID] = executor.JobStatus{State: executor.JobQueued}
	}
	return jobID, nil
}

func (s *stubEngine) Status(_ context.Context, engineJobID string) (executor.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[engineJobID]
	if !ok {
		return executor.JobStatus{}, executor.ErrJobNotFound
	}
	return status, nil
}

func (s *stubEngine) Cancel(_ context.Context, engineJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, engineJobID)
	return nil
}

func (s *stubEngine) setStatus(jobID string, status executor.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[jobID] = status
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(match func(any) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if match(event) {
			n++
		}
	}
	return n
}

type stubSnapshotIndex struct {
	mu     sync.Mutex
	latest map[string]string
}

func (s *stubSnapshotIndex) LatestSnapshotID(_ context.Context, locationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[locationID], nil
}

func (s *stubSnapshotIndex) set(locationID, snapshotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		s.latest = make(map[string]string)
	}
	s.latest[locationID] = snapshotID
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *tickClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStack(t *testing.T) (*stubRunRepo, *stubEngine, *recordingPublisher, *tickClock, *Dispatcher, *Supervisor) {
	t.Helper()
	repo := newStubRunRepo()
	engine := newStubEngine()
	publisher := &recordingPublisher{}
	clock := &tickClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	logger := log.New(os.Stdout, "", 0)
	dispatcher, err := NewDispatcher(repo, engine, publisher, DefaultConfig(), logger, WithClock(clock))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	supervisor, err := NewSupervisor(repo, engine, publisher, DefaultConfig(), logger, WithSupervisorClock(clock))
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	return repo, engine, publisher, clock, dispatcher, supervisor
}

func highRiskEvent(eventID string) riskevents.RiskAssessed {
	return riskevents.RiskAssessed{
		AssessmentID: "assess-1",
		LocationID:   "loc-1",
		EventID:      eventID,
		OccurredAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Exceedance:   1.4,
		Saturation:   0.5,
		RiskValue:    0.8,
		Level:        "high",
	}
}

func TestDispatcherCreatesRunOnHighRisk(t *testing.T) {
	repo, engine, publisher, _, dispatcher, _ := newTestStack(t)

	if err := dispatcher.HandleRiskAssessed(context.Background(), highRiskEvent("rain-1")); err != nil {
		t.Fatalf("HandleRiskAssessed: %v", err)
	}

	runs, _ := repo.ListInFlight(context.Background())
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Trigger != simulation.TriggerThreshold {
		t.Fatalf("expected threshold trigger, got %s", runs[0].Trigger)
	}
	if runs[0].Status != simulation.StatusRunning {
		t.Fatalf("expected run submitted and running, got %s", runs[0].Status)
	}
	if runs[0].Params.FrictionMu != 0.25 {
		t.Fatalf("expected default engine params, got %+v", runs[0].Params)
	}
	if len(engine.submitted) != 1 {
		t.Fatalf("expected 1 engine submission, got %d", len(engine.submitted))
	}
	dispatched := publisher.count(func(e any) bool { _, ok := e.(events.RunDispatched); return ok })
	if dispatched != 1 {
		t.Fatalf("expected 1 RunDispatched, got %d", dispatched)
	}
}

func TestDispatcherSkipsLowRisk(t *testing.T) {
	repo, _, _, _, dispatcher, _ := newTestStack(t)

	low := highRiskEvent("rain-1")
	low.Level = "low"
	low.Exceedance = 0.3
	low.Saturation = 0.2
	if err := dispatcher.HandleRiskAssessed(context.Background(), low); err != nil {
		t.Fatalf("HandleRiskAssessed: %v", err)
	}
	runs, _ := repo.ListInFlight(context.Background())
	if len(runs) != 0 {
		t.Fatalf("expected no run below dispatch criteria, got %d", len(runs))
	}
}

func TestDispatcherSaturationAloneTriggers(t *testing.T) {
	repo, _, _, _, dispatcher, _ := newTestStack(t)

	soaked := highRiskEvent("rain-1")
	soaked.Level = "moderate"
	soaked.Exceedance = 0.6
	soaked.Saturation = 0.8
	if err := dispatcher.HandleRiskAssessed(context.Background(), soaked); err != nil {
		t.Fatalf("HandleRiskAssessed: %v", err)
	}
	runs, _ := repo.ListInFlight(context.Background())
	if len(runs) != 1 {
		t.Fatalf("expected saturation criterion to trigger, got %d runs", len(runs))
	}
}

func TestDispatcherDeduplicatesReplayedTriggers(t *testing.T) {
	repo, engine, _, _, dispatcher, _ := newTestStack(t)

	for i := 0; i < 3; i++ {
		if err := dispatcher.HandleRiskAssessed(context.Background(), highRiskEvent("rain-1")); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	runs, _ := repo.ListInFlight(context.Background())
	if len(runs) != 1 {
		t.Fatalf("expected a single run for replayed triggers, got %d", len(runs))
	}
	if len(engine.submitted) != 1 {
		t.Fatalf("expected a single engine submission, got %d", len(engine.submitted))
	}

	// A different episode at the same location dispatches again.
	if err := dispatcher.HandleRiskAssessed(context.Background(), highRiskEvent("rain-2")); err != nil {
		t.Fatalf("second episode: %v", err)
	}
	runs, _ = repo.ListInFlight(context.Background())
	if len(runs) != 2 {
		t.Fatalf("expected a new run for a new episode, got %d", len(runs))
	}
}

func TestDispatcherDeduplicatesPerSnapshotPair(t *testing.T) {
	repo := newStubRunRepo()
	engine := newStubEngine()
	publisher := &recordingPublisher{}
	clock := &tickClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	index := &stubSnapshotIndex{}
	index.set("loc-1", "snap-1")
	dispatcher, err := NewDispatcher(repo, engine, publisher, DefaultConfig(), log.New(os.Stdout, "", 0), WithClock(clock), WithSnapshotIndex(index))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := dispatcher.HandleRiskAssessed(context.Background(), highRiskEvent("rain-1")); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	runs, _ := repo.ListInFlight(context.Background())
	if len(runs) != 1 {
		t.Fatalf("expected one run per terrain-and-episode pair, got %d", len(runs))
	}
	if runs[0].SnapshotID != "snap-1" {
		t.Fatalf("expected run pinned to snap-1, got %q", runs[0].SnapshotID)
	}

	// Fresh terrain for the same episode is a new pair and dispatches again.
	index.set("loc-1", "snap-2")
	if err := dispatcher.HandleRiskAssessed(context.Background(), highRiskEvent("rain-1")); err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	runs, _ = repo.ListInFlight(context.Background())
	if len(runs) != 2 {
		t.Fatalf("expected a new run after a new snapshot, got %d", len(runs))
	}
}

func TestManualDispatchRejectedWhileRunInFlight(t *testing.T) {
	_, engine, _, _, dispatcher, supervisor := newTestStack(t)

	run, err := dispatcher.DispatchManual(context.Background(), "loc-1", "operator@ops", nil)
	if err != nil {
		t.Fatalf("DispatchManual: %v", err)
	}

	// A concurrent rerun request for the same location is rejected while the
	// first run has not reached a terminal state.
	if _, err := dispatcher.DispatchManual(context.Background(), "loc-1", "other@ops", nil); !errors.Is(err, simulation.ErrDuplicateDispatch) {
		t.Fatalf("expected ErrDuplicateDispatch, got %v", err)
	}

	// Another location is unaffected.
	if _, err := dispatcher.DispatchManual(context.Background(), "loc-2", "operator@ops", nil); err != nil {
		t.Fatalf("DispatchManual loc-2: %v", err)
	}

	// Once the run finishes, the operator may trigger again.
	engine.setStatus("job-"+run.ID, executor.JobStatus{
		State:  executor.JobSucceeded,
		Result: &simulation.Result{AffectedAreaM2: 100, MaxDepthM: 0.3, RiskLevel: "low"},
	})
	if err := supervisor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := dispatcher.DispatchManual(context.Background(), "loc-1", "operator@ops", nil); err != nil {
		t.Fatalf("expected rerun after completion, got %v", err)
	}
}

func TestSupervisorCompletesRun(t *testing.T) {
	repo, engine, publisher, _, dispatcher, supervisor := newTestStack(t)

	run, err := dispatcher.DispatchManual(context.Background(), "loc-1", "operator@ops", nil)
	if err != nil {
		t.Fatalf("DispatchManual: %v", err)
	}
	engine.setStatus("job-"+run.ID, executor.JobStatus{
		State: executor.JobSucceeded,
		Result: &simulation.Result{
			AffectedAreaM2: 12000,
			MaxDepthM:      1.5,
			RiskLevel:      "high",
			BoundaryWKT:    "POLYGON ((0 0, 0 1, 1 1, 1 0, 0 0))",
		},
	})

	if err := supervisor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), run.ID)
	if stored.Status != simulation.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	completed := publisher.count(func(e any) bool { _, ok := e.(events.RunCompleted); return ok })
	if completed != 1 {
		t.Fatalf("expected 1 RunCompleted, got %d", completed)
	}

	// A second poll after completion publishes nothing new.
	if err := supervisor.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if publisher.count(func(e any) bool { _, ok := e.(events.RunCompleted); return ok }) != 1 {
		t.Fatalf("expected terminal event exactly once")
	}
}

func TestSupervisorTimesOutStuckRun(t *testing.T) {
	repo, engine, publisher, clock, dispatcher, supervisor := newTestStack(t)

	run, err := dispatcher.DispatchManual(context.Background(), "loc-1", "operator@ops", nil)
	if err != nil {
		t.Fatalf("DispatchManual: %v", err)
	}
	// Engine keeps reporting running past the timeout.
	engine.setStatus("job-"+run.ID, executor.JobStatus{State: executor.JobRunning})
	clock.advance(31 * time.Minute)

	if err := supervisor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), run.ID)
	if stored.Status != simulation.StatusFailed {
		t.Fatalf("expected failed after timeout, got %s", stored.Status)
	}
	if len(engine.canceled) != 1 {
		t.Fatalf("expected engine cancel on timeout")
	}
	failed := publisher.count(func(e any) bool { _, ok := e.(events.RunFailed); return ok })
	if failed != 1 {
		t.Fatalf("expected 1 RunFailed, got %d", failed)
	}
}

func TestSupervisorRetriesStuckSubmission(t *testing.T) {
	repo, engine, _, _, dispatcher, supervisor := newTestStack(t)

	// First submission fails; the run stays pending without an engine job.
	engine.submitErr = errors.New("engine unreachable")
	run, err := dispatcher.DispatchManual(context.Background(), "loc-1", "operator@ops", nil)
	if err != nil {
		t.Fatalf("DispatchManual: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), run.ID)
	if stored.Status != simulation.StatusPending {
		t.Fatalf("expected pending after failed submit, got %s", stored.Status)
	}

	engine.mu.Lock()
	engine.submitErr = nil
	engine.mu.Unlock()
	if err := supervisor.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	stored, _ = repo.GetByID(context.Background(), run.ID)
	if stored.Status != simulation.StatusRunning {
		t.Fatalf("expected running after resubmission, got %s", stored.Status)
	}
}

func TestCancelRun(t *testing.T) {
	repo, engine, publisher, _, dispatcher, supervisor := newTestStack(t)

	run, err := dispatcher.DispatchManual(context.Background(), "loc-1", "operator@ops", nil)
	if err != nil {
		t.Fatalf("DispatchManual: %v", err)
	}
	if err := supervisor.CancelRun(context.Background(), run.ID, "operator@ops"); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), run.ID)
	if stored.Status != simulation.StatusCanceled {
		t.Fatalf("expected canceled, got %s", stored.Status)
	}
	if len(engine.canceled) != 1 {
		t.Fatalf("expected engine cancel call")
	}
	canceled := publisher.count(func(e any) bool { _, ok := e.(events.RunCanceled); return ok })
	if canceled != 1 {
		t.Fatalf("expected 1 RunCanceled, got %d", canceled)
	}

	// Canceling a finished run is rejected.
	if err := supervisor.CancelRun(context.Background(), run.ID, "operator@ops"); !errors.Is(err, simulation.ErrNotCancelable) {
		t.Fatalf("expected ErrNotCancelable, got %v", err)
	}
	if err := supervisor.CancelRun(context.Background(), "run-missing", "operator@ops"); !errors.Is(err, simulation.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSchedulerDailyDedupe(t *testing.T) {
	repo, _, _, _, dispatcher, _ := newTestStack(t)

	config := DefaultConfig()
	config.ScheduledLocations = []string{"loc-1", "loc-2"}
	scheduler, err := NewScheduler(dispatcher, config, log.New(os.Stdout, "", 0))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	day := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	scheduler.DispatchDue(context.Background(), day)
	scheduler.DispatchDue(context.Background(), day)

	runs, _ := repo.ListInFlight(context.Background())
	if len(runs) != 2 {
		t.Fatalf("expected one run per location per day, got %d", len(runs))
	}

	scheduler.DispatchDue(context.Background(), day.Add(24*time.Hour))
	runs, _ = repo.ListInFlight(context.Background())
	if len(runs) != 4 {
		t.Fatalf("expected new runs on the next day, got %d", len(runs))
	}
}

func TestRunStatusTransitions(t *testing.T) {
	if !simulation.StatusPending.CanTransition(simulation.StatusRunning) {
		t.Fatalf("pending -> running should be legal")
	}
	if !simulation.StatusRunning.CanTransition(simulation.StatusCompleted) {
		t.Fatalf("running -> completed should be legal")
	}
	if simulation.StatusCompleted.CanTransition(simulation.StatusFailed) {
		t.Fatalf("terminal states must not transition")
	}
	if simulation.StatusPending.CanTransition(simulation.StatusCompleted) {
		t.Fatalf("pending -> completed skips the engine")
	}
}
