package simulation

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateDispatch indicates a run already exists for the dedupe key.
var ErrDuplicateDispatch = errors.New("simulation: duplicate dispatch")

// ErrRunNotFound indicates an operation on an unknown run.
var ErrRunNotFound = errors.New("simulation: run not found")

// ErrNotCancelable indicates a cancel on a run that already finished.
var ErrNotCancelable = errors.New("simulation: run not cancelable")

// TriggerType identifies what started a run.
type TriggerType string

const (
	TriggerThreshold TriggerType = "threshold"
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// Valid reports whether the trigger is one of the known kinds.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerThreshold, TriggerManual, TriggerScheduled:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a simulation run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether a status change is legal. Terminal states
// never transition again.
func (s RunStatus) CanTransition(to RunStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCanceled
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// Params are the runout-engine parameters for one run.
type Params struct {
	FrictionModel     string  `yaml:"friction_model" json:"friction_model"`
	FrictionMu        float64 `yaml:"friction_mu" json:"friction_mu"`
	MassToDragM       float64 `yaml:"mass_to_drag_m" json:"mass_to_drag_m"`
	Iterations        int     `yaml:"iterations" json:"iterations"`
	SlopeThresholdDeg float64 `yaml:"slope_threshold_deg" json:"slope_threshold_deg"`
	WalkExponent      float64 `yaml:"walk_exponent" json:"walk_exponent"`
	Persistence       float64 `yaml:"persistence" json:"persistence"`
}

// DefaultParams returns the calibrated engine defaults.
func DefaultParams() Params {
	return Params{
		FrictionModel:     "voellmy",
		FrictionMu:        0.25,
		MassToDragM:       200,
		Iterations:        1000,
		SlopeThresholdDeg: 40.0,
		WalkExponent:      3.0,
		Persistence:       1.5,
	}
}

// Result carries the engine outputs of a completed run.
type Result struct {
	AffectedAreaM2 float64
	MaxDepthM      float64
	MaxVelocityMS  float64
	RiskLevel      string
	BoundaryWKT    string
}

// Run is one simulation job from dispatch to terminal state.
type Run struct {
	ID           string
	LocationID   string
	SnapshotID   string
	EventID      string
	AssessmentID string
	Trigger      TriggerType
	Status       RunStatus
	EngineJobID  string
	Params       Params
	Result       *Result
	Error        string
	RequestedBy  string
	SubmittedAt  time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DedupeKey identifies the logical trigger so retried or replayed triggers
// map onto the same run. Automatic triggers key on the (terrain snapshot,
// rainfall event) pair, falling back to the location while no snapshot was
// ingested yet. Manual triggers carry a unique key per request; their
// in-flight exclusivity is enforced at dispatch instead, since an operator
// may rerun a location once the previous run finished.
func (r Run) DedupeKey() string {
	if r.Trigger == TriggerManual {
		return string(TriggerManual) + ":" + r.ID
	}
	anchor := r.SnapshotID
	if anchor == "" {
		anchor = r.LocationID
	}
	return string(r.Trigger) + ":" + anchor + ":" + r.EventID
}

// RunRepository persists simulation runs.
type RunRepository interface {
	// CreateIfAbsent inserts the run unless its dedupe key is taken; the
	// bool reports whether a row was written.
	CreateIfAbsent(ctx context.Context, run *Run) (bool, error)
	// MarkRunning moves a pending run to running and records the engine job.
	MarkRunning(ctx context.Context, runID, engineJobID string, at time.Time) error
	// FinishTerminal moves an in-flight run to a terminal status. The bool
	// reports whether this call performed the transition; a run already in a
	// terminal state is left untouched.
	FinishTerminal(ctx context.Context, runID string, status RunStatus, result *Result, errMsg string, at time.Time) (bool, error)
	GetByID(ctx context.Context, runID string) (*Run, error)
	ListInFlight(ctx context.Context) ([]Run, error)
	// HasInFlight reports whether any pending or running run exists for the
	// location.
	HasInFlight(ctx context.Context, locationID string) (bool, error)
	ListRecent(ctx context.Context, locationID string, limit int) ([]Run, error)
}
