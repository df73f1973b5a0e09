package domain

import (
	"context"
	"errors"
	"time"
)

// AlertType classifies operator alerts.
type AlertType string

const (
	// TypeRiskEscalation marks a location whose risk level rose past moderate.
	TypeRiskEscalation AlertType = "risk_escalation"
	// TypeSimulationFailed marks a run that failed or timed out.
	TypeSimulationFailed AlertType = "simulation_failed"
	// TypeEventSummary marks a closed rainfall episode that exceeded the
	// intensity-duration threshold.
	TypeEventSummary AlertType = "event_summary"
)

// Valid reports whether the type is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case TypeRiskEscalation, TypeSimulationFailed, TypeEventSummary:
		return true
	}
	return false
}

// Severity orders alerts for operator triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank maps severities to a comparable order.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

var (
	// ErrAlertNotFound is returned when an alert id resolves to nothing.
	ErrAlertNotFound = errors.New("alerts: alert not found")
	// ErrAlreadyAcknowledged is returned on a second acknowledgement.
	ErrAlreadyAcknowledged = errors.New("alerts: alert already acknowledged")
)

// Alert is an operator-facing notification. It is created by the alert
// manager and mutated only by acknowledgement.
type Alert struct {
	ID             string
	Type           AlertType
	Severity       Severity
	LocationID     string
	Message        string
	Recommendation string
	RelatedRunID   string
	RelatedEventID string
	Occurrences    int
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Acknowledged reports whether an operator has acknowledged the alert.
func (a *Alert) Acknowledged() bool {
	return a != nil && a.AcknowledgedAt != nil
}

// Acknowledge records the operator action. The transition is one-way: an
// acknowledged alert is never reopened, a recurrence creates a new alert.
func (a *Alert) Acknowledge(by string, at time.Time) error {
	if a == nil {
		return ErrAlertNotFound
	}
	if a.Acknowledged() {
		return ErrAlreadyAcknowledged
	}
	at = at.UTC()
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	a.UpdatedAt = at
	return nil
}

// Refresh folds a recurrence into an existing unacknowledged alert.
func (a *Alert) Refresh(message string, at time.Time) {
	if a == nil {
		return
	}
	if message != "" {
		a.Message = message
	}
	a.Occurrences++
	a.UpdatedAt = at.UTC()
}

// AlertRepository persists alerts.
type AlertRepository interface {
	Insert(ctx context.Context, alert *Alert) error
	Update(ctx context.Context, alert *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	// FindOpen returns the unacknowledged alert of the given type whose
	// related run or event matches relatedID, nil when absent.
	FindOpen(ctx context.Context, alertType AlertType, relatedID string) (*Alert, error)
	ListRecent(ctx context.Context, locationID string, unacknowledgedOnly bool, limit int) ([]Alert, error)
}
