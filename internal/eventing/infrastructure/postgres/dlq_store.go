package postgres

import (
	"context"
	"database/sql"
	"errors"

	"debrisflow-monitor/internal/eventing"
)

// DLQStore persists events that could not be delivered.
type DLQStore struct {
	db *sql.DB
}

// NewDLQStore constructs a dead-letter store.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db}
}

// RecordFailure stores a failed envelope with the delivery error.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dead_letter_events (event_id, event_type, location_id, payload, error, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())`,
		env.EventID, env.EventType, env.LocationID, []byte(env.Payload), message)
	return err
}
