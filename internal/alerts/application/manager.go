package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	alerts "debrisflow-monitor/internal/alerts/domain"
	"debrisflow-monitor/internal/observability/metrics"
	rainevents "debrisflow-monitor/internal/rainfall/application/events"
	riskevents "debrisflow-monitor/internal/risk/application/events"
	risk "debrisflow-monitor/internal/risk/domain"
	simevents "debrisflow-monitor/internal/simulation/application/events"

	"github.com/google/uuid"
)

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Manager derives operator alerts from risk, simulation and rainfall state
// transitions. Alerts of the same type for the same related entity collapse
// into one unacknowledged alert; acknowledged alerts are never reopened.
type Manager struct {
	repo     alerts.AlertRepository
	notifier AlertNotifier
	logger   *log.Logger
	clock    Clock

	mu        sync.Mutex
	lastLevel map[string]risk.Level
}

// ManagerOption customizes the manager.
type ManagerOption func(*Manager)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager constructs an alert manager.
func NewManager(repo alerts.AlertRepository, logger *log.Logger, opts ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("alert manager: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	manager := &Manager{
		repo:      repo,
		logger:    logger,
		clock:     systemClock{},
		lastLevel: make(map[string]risk.Level),
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager, nil
}

// HandleRiskAssessed raises an escalation alert when a location's risk level
// rises past moderate. Assessments at or below the previous level only move
// the comparison baseline.
func (m *Manager) HandleRiskAssessed(ctx context.Context, evt riskevents.RiskAssessed) error {
	if m == nil {
		return errors.New("alert manager: nil manager")
	}
	level := risk.Level(evt.Level)

	m.mu.Lock()
	previous := m.lastLevel[evt.LocationID]
	m.lastLevel[evt.LocationID] = level
	m.mu.Unlock()

	if level.Rank() <= previous.Rank() || !level.AtLeast(risk.LevelHigh) {
		return nil
	}

	severity := alerts.SeverityWarning
	if level == risk.LevelCritical {
		severity = alerts.SeverityCritical
	}
	return m.raise(ctx, alerts.Alert{
		Type:           alerts.TypeRiskEscalation,
		Severity:       severity,
		LocationID:     evt.LocationID,
		RelatedEventID: evt.EventID,
		Recommendation: evt.Recommendation,
		Message: fmt.Sprintf("risk level at %s escalated %s -> %s (risk value %.2f, exceedance %.2f)",
			evt.LocationID, labelOrNone(previous), evt.Level, evt.RiskValue, evt.Exceedance),
	})
}

// HandleRunFailed raises an alert for a failed or timed-out simulation run.
func (m *Manager) HandleRunFailed(ctx context.Context, evt simevents.RunFailed) error {
	if m == nil {
		return errors.New("alert manager: nil manager")
	}
	return m.raise(ctx, alerts.Alert{
		Type:           alerts.TypeSimulationFailed,
		Severity:       alerts.SeverityCritical,
		LocationID:     evt.LocationID,
		RelatedRunID:   evt.RunID,
		RelatedEventID: evt.EventID,
		Recommendation: "Review the engine job log and retrigger the run manually once resolved.",
		Message:        fmt.Sprintf("simulation run %s at %s failed: %s", evt.RunID, evt.LocationID, evt.Reason),
	})
}

// HandleEventClosed raises a summary alert when a rainfall episode closes
// after having exceeded the intensity-duration threshold.
func (m *Manager) HandleEventClosed(ctx context.Context, evt rainevents.EventClosed) error {
	if m == nil {
		return errors.New("alert manager: nil manager")
	}
	if !evt.ThresholdExceeded {
		return nil
	}
	return m.raise(ctx, alerts.Alert{
		Type:           alerts.TypeEventSummary,
		Severity:       alerts.SeverityWarning,
		LocationID:     evt.LocationID,
		RelatedEventID: evt.EventID,
		Recommendation: "Inspect the channel and source areas before the next rainfall.",
		Message: fmt.Sprintf("rainfall event %s at %s closed after %.1fh, total %.1fmm, peak exceedance %.2f",
			evt.EventID, evt.LocationID, evt.DurationHours, evt.TotalRainfallMM, evt.PeakExceedance),
	})
}

// Acknowledge records the operator action. The transition is one-way.
func (m *Manager) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) (*alerts.Alert, error) {
	if m == nil {
		return nil, errors.New("alert manager: nil manager")
	}
	alert, err := m.repo.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrAlertNotFound
	}
	if err := alert.Acknowledge(acknowledgedBy, m.clock.Now()); err != nil {
		return nil, err
	}
	if err := m.repo.Update(ctx, alert); err != nil {
		return nil, err
	}
	metrics.IncAlertEvent("acknowledged")
	m.logger.Printf("alert manager: acknowledged: alert=%s by=%s", alert.ID, acknowledgedBy)
	m.notify(ctx, "acknowledged", *alert)
	return alert, nil
}

// List returns recent alerts, newest first.
func (m *Manager) List(ctx context.Context, locationID string, unacknowledgedOnly bool, limit int) ([]alerts.Alert, error) {
	if m == nil {
		return nil, errors.New("alert manager: nil manager")
	}
	return m.repo.ListRecent(ctx, locationID, unacknowledgedOnly, limit)
}

// raise creates the alert unless an unacknowledged alert of the same type
// already references the same entity, in which case that alert is refreshed.
func (m *Manager) raise(ctx context.Context, alert alerts.Alert) error {
	now := m.clock.Now().UTC()
	relatedID := alert.RelatedRunID
	if relatedID == "" {
		relatedID = alert.RelatedEventID
	}

	if relatedID != "" {
		existing, err := m.repo.FindOpen(ctx, alert.Type, relatedID)
		if err != nil {
			return fmt.Errorf("find open alert: %w", err)
		}
		if existing != nil {
			existing.Refresh(alert.Message, now)
			if err := m.repo.Update(ctx, existing); err != nil {
				return fmt.Errorf("refresh alert: %w", err)
			}
			metrics.IncAlertEvent("refreshed")
			m.notify(ctx, "refreshed", *existing)
			return nil
		}
	}

	alert.ID = "alert-" + uuid.NewString()
	alert.Occurrences = 1
	alert.CreatedAt = now
	alert.UpdatedAt = now
	if err := m.repo.Insert(ctx, &alert); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	metrics.IncAlertEvent("created")
	m.logger.Printf("alert manager: raised: alert=%s type=%s severity=%s location=%s",
		alert.ID, alert.Type, alert.Severity, alert.LocationID)
	m.notify(ctx, "created", alert)
	return nil
}

func (m *Manager) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

func labelOrNone(level risk.Level) string {
	if level == "" {
		return "none"
	}
	return string(level)
}
