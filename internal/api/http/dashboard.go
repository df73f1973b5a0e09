package apihttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	alerts "debrisflow-monitor/internal/alerts/domain"
	rainfall "debrisflow-monitor/internal/rainfall/domain"
	risk "debrisflow-monitor/internal/risk/domain"
)

// DashboardHandler projects the current hazard state for operators: the
// latest assessment per location, open rainfall episodes, recent hazard
// zones and the unacknowledged alert count.
type DashboardHandler struct {
	assessments risk.AssessmentRepository
	events      rainfall.EventRepository
	zones       risk.ZoneRepository
	alerts      alerts.AlertRepository
	logger      *log.Logger
}

// NewDashboardHandler constructs a handler.
func NewDashboardHandler(assessments risk.AssessmentRepository, events rainfall.EventRepository, zones risk.ZoneRepository, alertsRepo alerts.AlertRepository, logger *log.Logger) (*DashboardHandler, error) {
	if assessments == nil {
		return nil, errors.New("dashboard handler: nil assessment repository")
	}
	if events == nil {
		return nil, errors.New("dashboard handler: nil event repository")
	}
	if zones == nil {
		return nil, errors.New("dashboard handler: nil zone repository")
	}
	if alertsRepo == nil {
		return nil, errors.New("dashboard handler: nil alert repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DashboardHandler{
		assessments: assessments,
		events:      events,
		zones:       zones,
		alerts:      alertsRepo,
		logger:      logger,
	}, nil
}

// ServeHTTP handles GET /api/v1/dashboard.
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	latest, err := h.assessments.LatestPerLocation(r.Context())
	if err != nil {
		h.logger.Printf("dashboard handler: assessments error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	active, err := h.events.ListActive(r.Context())
	if err != nil {
		h.logger.Printf("dashboard handler: events error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	zones, err := h.zones.ListRecent(r.Context(), 20)
	if err != nil {
		h.logger.Printf("dashboard handler: zones error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	open, err := h.alerts.ListRecent(r.Context(), "", true, 200)
	if err != nil {
		h.logger.Printf("dashboard handler: alerts error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	response := dashboardResponse{
		GeneratedAt:          time.Now().UTC(),
		UnacknowledgedAlerts: len(open),
		Locations:            make([]locationRiskDTO, 0, len(latest)),
		ActiveEvents:         make([]activeEventDTO, 0, len(active)),
		RecentZones:          make([]zoneDTO, 0, len(zones)),
	}
	for _, assessment := range latest {
		response.Locations = append(response.Locations, locationRiskDTO{
			LocationID:     assessment.LocationID,
			Level:          string(assessment.Level),
			RiskValue:      assessment.RiskValue,
			Exceedance:     assessment.Exceedance,
			Saturation:     assessment.Saturation,
			Degraded:       assessment.Degraded,
			Recommendation: assessment.Recommendation,
			AssessedAt:     assessment.At,
		})
	}
	for _, event := range active {
		response.ActiveEvents = append(response.ActiveEvents, activeEventDTO{
			EventID:           event.ID,
			LocationID:        event.LocationID,
			StartedAt:         event.StartedAt,
			LastRainfallAt:    event.LastRainfallAt,
			TotalRainfallMM:   event.TotalRainfallMM,
			PeakIntensityMMHr: event.PeakIntensityMMHr,
			DurationHours:     event.DurationHours(),
			ThresholdExceeded: event.ThresholdExceeded,
		})
	}
	for _, zone := range zones {
		response.RecentZones = append(response.RecentZones, zoneDTO{
			ZoneID:         zone.ID,
			RunID:          zone.RunID,
			LocationID:     zone.LocationID,
			RiskValue:      zone.RiskValue,
			Level:          string(zone.Level),
			AffectedAreaM2: zone.AffectedAreaM2,
			MaxDepthM:      zone.MaxDepthM,
			CreatedAt:      zone.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

type dashboardResponse struct {
	GeneratedAt          time.Time         `json:"generated_at"`
	UnacknowledgedAlerts int               `json:"unacknowledged_alerts"`
	Locations            []locationRiskDTO `json:"locations"`
	ActiveEvents         []activeEventDTO  `json:"active_events"`
	RecentZones          []zoneDTO         `json:"recent_zones"`
}

type locationRiskDTO struct {
	LocationID     string    `json:"location_id"`
	Level          string    `json:"level"`
	RiskValue      float64   `json:"risk_value"`
	Exceedance     float64   `json:"exceedance"`
	Saturation     float64   `json:"saturation"`
	Degraded       bool      `json:"degraded"`
	Recommendation string    `json:"recommendation,omitempty"`
	AssessedAt     time.Time `json:"assessed_at"`
}

type activeEventDTO struct {
	EventID           string    `json:"event_id"`
	LocationID        string    `json:"location_id"`
	StartedAt         time.Time `json:"started_at"`
	LastRainfallAt    time.Time `json:"last_rainfall_at"`
	TotalRainfallMM   float64   `json:"total_rainfall_mm"`
	PeakIntensityMMHr float64   `json:"peak_intensity_mm_hr"`
	DurationHours     float64   `json:"duration_hours"`
	ThresholdExceeded bool      `json:"threshold_exceeded"`
}

type zoneDTO struct {
	ZoneID         string    `json:"zone_id"`
	RunID          string    `json:"run_id"`
	LocationID     string    `json:"location_id"`
	RiskValue      float64   `json:"risk_value"`
	Level          string    `json:"level"`
	AffectedAreaM2 float64   `json:"affected_area_m2"`
	MaxDepthM      float64   `json:"max_depth_m"`
	CreatedAt      time.Time `json:"created_at"`
}
