package rainfall

import (
	"context"
	"errors"
	"time"
)

// ErrNoActiveEvent indicates an operation on a location without an open event.
var ErrNoActiveEvent = errors.New("rainfall: no active event")

// ErrEventClosed indicates a mutation on an already closed event.
var ErrEventClosed = errors.New("rainfall: event already closed")

// EventStatus is the lifecycle state of a rainfall event.
type EventStatus string

const (
	StatusActive EventStatus = "active"
	StatusClosed EventStatus = "closed"
)

// Event is one contiguous rainfall episode at a monitored location. A new
// episode opens when precipitation resumes after the inactivity gap, so two
// episodes at the same location are always distinct records.
type Event struct {
	ID                string
	LocationID        string
	Status            EventStatus
	StartedAt         time.Time
	LastRainfallAt    time.Time
	EndedAt           *time.Time
	TotalRainfallMM   float64
	PeakIntensityMMHr float64
	Antecedent7dMM    float64
	ThresholdExceeded bool
	PeakExceedance    float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Accumulate folds one qualifying observation into the event.
func (e *Event) Accumulate(at time.Time, rainfallMM, intensityMMHr float64) error {
	if e == nil {
		return errors.New("rainfall: nil event")
	}
	if e.Status == StatusClosed {
		return ErrEventClosed
	}
	e.TotalRainfallMM += rainfallMM
	if intensityMMHr > e.PeakIntensityMMHr {
		e.PeakIntensityMMHr = intensityMMHr
	}
	if rainfallMM > 0 {
		e.LastRainfallAt = at.UTC()
	}
	e.UpdatedAt = at.UTC()
	return nil
}

// MarkExceeded latches the threshold flag and keeps the highest exceedance
// seen during the event. The latch never clears while the event is open.
func (e *Event) MarkExceeded(exceedance float64) error {
	if e == nil {
		return errors.New("rainfall: nil event")
	}
	if e.Status == StatusClosed {
		return ErrEventClosed
	}
	e.ThresholdExceeded = true
	if exceedance > e.PeakExceedance {
		e.PeakExceedance = exceedance
	}
	return nil
}

// Close ends the event at the last qualifying rainfall time.
func (e *Event) Close(now time.Time) error {
	if e == nil {
		return errors.New("rainfall: nil event")
	}
	if e.Status == StatusClosed {
		return ErrEventClosed
	}
	ended := e.LastRainfallAt
	if ended.IsZero() {
		ended = now.UTC()
	}
	e.Status = StatusClosed
	e.EndedAt = &ended
	e.UpdatedAt = now.UTC()
	return nil
}

// DurationHours is the event span from onset to the last qualifying rainfall.
func (e *Event) DurationHours() float64 {
	if e == nil || e.LastRainfallAt.IsZero() {
		return 0
	}
	hours := e.LastRainfallAt.Sub(e.StartedAt).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

// EventRepository persists rainfall events.
type EventRepository interface {
	Insert(ctx context.Context, event *Event) error
	Update(ctx context.Context, event *Event) error
	GetActive(ctx context.Context, locationID string) (*Event, error)
	ListActive(ctx context.Context) ([]Event, error)
	GetByID(ctx context.Context, eventID string) (*Event, error)
	ListRecent(ctx context.Context, locationID string, limit int) ([]Event, error)
}
