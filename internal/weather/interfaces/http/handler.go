package weatherhttp

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"debrisflow-monitor/internal/weather/application"
	weather "debrisflow-monitor/internal/weather/domain"
)

// IngestHandler accepts weather station webhook payloads.
type IngestHandler struct {
	service *application.Service
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *application.Service, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("weather ingest: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// ServeHTTP ingests observation data.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("weather ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("weather ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	observations, err := req.toObservations()
	if err != nil {
		h.logger.Printf("weather ingest: invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	report, err := h.service.IngestBatch(r.Context(), observations)
	if err != nil {
		h.logger.Printf("weather ingest: batch error: %v", err)
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}
	if report.Accepted == 0 && report.Rejected > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(report)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

type ingestRequest struct {
	LocationID string        `json:"locationId"`
	Lon        float64       `json:"lon"`
	Lat        float64       `json:"lat"`
	Source     string        `json:"source"`
	TS         int64         `json:"ts"`
	Rainfall   *float64      `json:"rainfallMm"`
	Intensity  float64       `json:"intensityMmHr"`
	Points     []ingestPoint `json:"points"`
}

type ingestPoint struct {
	TS          int64    `json:"ts"`
	Rainfall    *float64 `json:"rainfallMm"`
	Intensity   float64  `json:"intensityMmHr"`
	Temperature *float64 `json:"temperatureC"`
	Humidity    *float64 `json:"humidityPct"`
	WindSpeed   *float64 `json:"windSpeedMs"`
}

func (r ingestRequest) toObservations() ([]weather.Observation, error) {
	if r.LocationID == "" {
		return nil, errors.New("missing locationId")
	}

	points := r.Points
	if len(points) == 0 && r.TS != 0 {
		points = []ingestPoint{{TS: r.TS, Rainfall: r.Rainfall, Intensity: r.Intensity}}
	}
	if len(points) == 0 {
		return nil, errors.New("no observation points")
	}

	source := r.Source
	if source == "" {
		source = "webhook"
	}

	observations := make([]weather.Observation, 0, len(points))
	for _, point := range points {
		ts, err := parseTimestamp(point.TS)
		if err != nil {
			return nil, err
		}
		if point.Rainfall == nil {
			return nil, errors.New("missing rainfallMm")
		}
		observations = append(observations, weather.Observation{
			LocationID:    r.LocationID,
			Lon:           r.Lon,
			Lat:           r.Lat,
			Timestamp:     ts,
			RainfallMM:    *point.Rainfall,
			IntensityMMHr: point.Intensity,
			TemperatureC:  point.Temperature,
			HumidityPct:   point.Humidity,
			WindSpeedMS:   point.WindSpeed,
			Source:        source,
		})
	}
	return observations, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}

// QueryHandler serves stored observations and window totals.
// Routes: /api/v1/weather/{locationID}/recent and /api/v1/weather/{locationID}/windows.
type QueryHandler struct {
	repo    weather.ObservationRepository
	service *application.Service
	logger  *log.Logger
}

// NewQueryHandler constructs a read handler.
func NewQueryHandler(repo weather.ObservationRepository, service *application.Service, logger *log.Logger) (*QueryHandler, error) {
	if repo == nil {
		return nil, errors.New("weather query: nil repository")
	}
	if service == nil {
		return nil, errors.New("weather query: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &QueryHandler{repo: repo, service: service, logger: logger}, nil
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/weather/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	locationID := parts[0]

	switch parts[1] {
	case "recent":
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		observations, err := h.repo.ListRecent(r.Context(), locationID, limit)
		if err != nil {
			h.logger.Printf("weather query: list recent error: %v", err)
			http.Error(w, "query error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"location_id": locationID, "observations": toObservationDTOs(observations)})
	case "windows":
		totals, err := h.service.WindowTotals(r.Context(), locationID)
		if err != nil {
			h.logger.Printf("weather query: windows error: %v", err)
			http.Error(w, "query error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"location_id": locationID,
			"sum_1h_mm":   totals.Hour1,
			"sum_24h_mm":  totals.Day1,
			"sum_7d_mm":   totals.Day7,
		})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type observationDTO struct {
	ID            string    `json:"id"`
	LocationID    string    `json:"location_id"`
	Timestamp     time.Time `json:"ts"`
	RainfallMM    float64   `json:"rainfall_mm"`
	IntensityMMHr float64   `json:"intensity_mm_hr"`
	TemperatureC  *float64  `json:"temperature_c,omitempty"`
	HumidityPct   *float64  `json:"humidity_pct,omitempty"`
	WindSpeedMS   *float64  `json:"wind_speed_ms,omitempty"`
	Source        string    `json:"source"`
}

func toObservationDTOs(observations []weather.Observation) []observationDTO {
	result := make([]observationDTO, 0, len(observations))
	for _, obs := range observations {
		result = append(result, observationDTO{
			ID:            obs.ID,
			LocationID:    obs.LocationID,
			Timestamp:     obs.Timestamp,
			RainfallMM:    obs.RainfallMM,
			IntensityMMHr: obs.IntensityMMHr,
			TemperatureC:  obs.TemperatureC,
			HumidityPct:   obs.HumidityPct,
			WindSpeedMS:   obs.WindSpeedMS,
			Source:        obs.Source,
		})
	}
	return result
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
