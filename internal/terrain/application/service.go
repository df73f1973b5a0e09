package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"debrisflow-monitor/internal/audit"
	"debrisflow-monitor/internal/auth"
	terrain "debrisflow-monitor/internal/terrain/domain"
)

// Service manages the source-area inventory.
type Service struct {
	areas   terrain.SourceAreaRepository
	auditor audit.Logger
	logger  *log.Logger
	clock   Clock
}

// NewService constructs the source-area service.
func NewService(areas terrain.SourceAreaRepository, auditor audit.Logger, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if areas == nil {
		return nil, errors.New("terrain service: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	service := &Service{
		areas:   areas,
		auditor: auditor,
		logger:  logger,
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithServiceClock assigns a clock.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// CreateSourceArea registers a new source area.
func (s *Service) CreateSourceArea(ctx context.Context, area terrain.SourceArea) (*terrain.SourceArea, error) {
	if s == nil {
		return nil, errors.New("terrain service: nil service")
	}
	if err := area.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	if area.ID == "" {
		area.ID = "area-" + uuid.NewString()
	}
	if area.MaterialUpdatedAt.IsZero() {
		area.MaterialUpdatedAt = now
	}
	area.CreatedAt = now
	area.UpdatedAt = now
	if err := s.areas.Insert(ctx, &area); err != nil {
		return nil, fmt.Errorf("insert source area: %w", err)
	}
	s.logAudit(ctx, "source_area.create", area)
	return &area, nil
}

// UpdateSourceArea rewrites an existing source area.
func (s *Service) UpdateSourceArea(ctx context.Context, area terrain.SourceArea) (*terrain.SourceArea, error) {
	if s == nil {
		return nil, errors.New("terrain service: nil service")
	}
	if area.ID == "" {
		return nil, errors.New("terrain service: missing area id")
	}
	if err := area.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.areas.GetByID(ctx, area.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("terrain service: area %s not found", area.ID)
	}
	area.CreatedAt = existing.CreatedAt
	area.UpdatedAt = s.clock.Now().UTC()
	if area.MaterialUpdatedAt.IsZero() {
		area.MaterialUpdatedAt = existing.MaterialUpdatedAt
	}
	if err := s.areas.Update(ctx, &area); err != nil {
		return nil, fmt.Errorf("update source area: %w", err)
	}
	s.logAudit(ctx, "source_area.update", area)
	return &area, nil
}

// DeleteSourceArea removes a source area from the inventory.
func (s *Service) DeleteSourceArea(ctx context.Context, areaID string) error {
	if s == nil {
		return errors.New("terrain service: nil service")
	}
	if areaID == "" {
		return errors.New("terrain service: missing area id")
	}
	existing, err := s.areas.GetByID(ctx, areaID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if err := s.areas.Delete(ctx, areaID); err != nil {
		return fmt.Errorf("delete source area: %w", err)
	}
	s.logAudit(ctx, "source_area.delete", *existing)
	return nil
}

// GetSourceArea loads one source area, nil when absent.
func (s *Service) GetSourceArea(ctx context.Context, areaID string) (*terrain.SourceArea, error) {
	if s == nil {
		return nil, errors.New("terrain service: nil service")
	}
	return s.areas.GetByID(ctx, areaID)
}

// ListSourceAreas returns the areas for one location, or all areas when the
// location is empty.
func (s *Service) ListSourceAreas(ctx context.Context, locationID string) ([]terrain.SourceArea, error) {
	if s == nil {
		return nil, errors.New("terrain service: nil service")
	}
	if locationID == "" {
		return s.areas.ListAll(ctx)
	}
	return s.areas.ListByLocation(ctx, locationID)
}

func (s *Service) logAudit(ctx context.Context, action string, area terrain.SourceArea) {
	if s.auditor == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"name":           area.Name,
		"slope_deg":      area.SlopeDeg,
		"susceptibility": area.Susceptibility,
		"material":       area.MaterialAvailability,
	})
	entry := audit.Entry{
		ID:           audit.NewID(),
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: "source_area",
		ResourceID:   area.ID,
		LocationID:   area.LocationID,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.auditor.Log(ctx, entry); err != nil {
		s.logger.Printf("terrain service: audit error: %v", err)
	}
}
