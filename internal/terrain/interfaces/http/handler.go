package terrainhttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/twpayne/go-geom"

	"debrisflow-monitor/internal/terrain/application"
	terrain "debrisflow-monitor/internal/terrain/domain"
)

// DetectionHandler accepts the remote-sensing change detection feed.
type DetectionHandler struct {
	integrator *application.Integrator
	logger     *log.Logger
}

// NewDetectionHandler constructs a feed handler.
func NewDetectionHandler(integrator *application.Integrator, logger *log.Logger) (*DetectionHandler, error) {
	if integrator == nil {
		return nil, errors.New("detection handler: nil integrator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DetectionHandler{integrator: integrator, logger: logger}, nil
}

type detectionRequest struct {
	BaselineSnapshotID   string    `json:"baseline_snapshot_id"`
	ComparisonSnapshotID string    `json:"comparison_snapshot_id"`
	DoDRasterPath        string    `json:"dod_raster_path"`
	DetectedAt           time.Time `json:"detected_at"`
	MinLon               float64   `json:"min_lon"`
	MinLat               float64   `json:"min_lat"`
	MaxLon               float64   `json:"max_lon"`
	MaxLat               float64   `json:"max_lat"`
	ErosionVolumeM3      float64   `json:"erosion_volume_m3"`
	DepositionVolumeM3   float64   `json:"deposition_volume_m3"`
	ChangeAreaM2         float64   `json:"change_area_m2"`
	LoDThresholdM        float64   `json:"lod_threshold_m"`
}

func (h *DetectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req detectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	updated, err := h.integrator.ApplyDetection(r.Context(), terrain.Detection{
		BaselineSnapshotID:   req.BaselineSnapshotID,
		ComparisonSnapshotID: req.ComparisonSnapshotID,
		DoDRasterPath:        req.DoDRasterPath,
		DetectedAt:           req.DetectedAt,
		MinLon:               req.MinLon,
		MinLat:               req.MinLat,
		MaxLon:               req.MaxLon,
		MaxLat:               req.MaxLat,
		ErosionVolumeM3:      req.ErosionVolumeM3,
		DepositionVolumeM3:   req.DepositionVolumeM3,
		ChangeAreaM2:         req.ChangeAreaM2,
		LoDThresholdM:        req.LoDThresholdM,
	})
	if err != nil {
		h.logger.Printf("detection handler: apply error: %v", err)
		http.Error(w, "invalid detection", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"areas_updated": updated})
}

// SnapshotHandler accepts the terrain snapshot ingest feed.
type SnapshotHandler struct {
	integrator *application.Integrator
	logger     *log.Logger
}

// NewSnapshotHandler constructs a snapshot ingest handler.
func NewSnapshotHandler(integrator *application.Integrator, logger *log.Logger) (*SnapshotHandler, error) {
	if integrator == nil {
		return nil, errors.New("snapshot handler: nil integrator")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SnapshotHandler{integrator: integrator, logger: logger}, nil
}

type snapshotRequest struct {
	LocationID  string    `json:"location_id"`
	CapturedAt  time.Time `json:"captured_at"`
	SourceKind  string    `json:"source_kind"`
	ResolutionM float64   `json:"resolution_m"`
	MinLon      float64   `json:"min_lon"`
	MinLat      float64   `json:"min_lat"`
	MaxLon      float64   `json:"max_lon"`
	MaxLat      float64   `json:"max_lat"`
	RasterPath  string    `json:"raster_path"`
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	snapshot, err := h.integrator.RegisterSnapshot(r.Context(), terrain.Snapshot{
		LocationID:  req.LocationID,
		CapturedAt:  req.CapturedAt,
		SourceKind:  req.SourceKind,
		ResolutionM: req.ResolutionM,
		MinLon:      req.MinLon,
		MinLat:      req.MinLat,
		MaxLon:      req.MaxLon,
		MaxLat:      req.MaxLat,
		RasterPath:  req.RasterPath,
	})
	if err != nil {
		h.logger.Printf("snapshot handler: register error: %v", err)
		http.Error(w, "invalid snapshot", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"snapshot_id": snapshot.ID})
}

// SourceAreaHandler manages the source-area inventory.
// Routes: /api/v1/source-areas and /api/v1/source-areas/{id}.
type SourceAreaHandler struct {
	service *application.Service
	logger  *log.Logger
}

// NewSourceAreaHandler constructs an inventory handler.
func NewSourceAreaHandler(service *application.Service, logger *log.Logger) (*SourceAreaHandler, error) {
	if service == nil {
		return nil, errors.New("source area handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SourceAreaHandler{service: service, logger: logger}, nil
}

func (h *SourceAreaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/source-areas"), "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case rest == "" && r.Method == http.MethodPost:
		h.create(w, r)
	case rest != "" && r.Method == http.MethodGet:
		h.get(w, r, rest)
	case rest != "" && r.Method == http.MethodPut:
		h.update(w, r, rest)
	case rest != "" && r.Method == http.MethodDelete:
		h.delete(w, r, rest)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type sourceAreaRequest struct {
	LocationID     string      `json:"locationId"`
	Name           string      `json:"name"`
	Ring           [][]float64 `json:"ring"`
	SlopeDeg       float64     `json:"slopeDeg"`
	Susceptibility float64     `json:"susceptibility"`
	Material       float64     `json:"materialAvailability"`
}

func (req sourceAreaRequest) toArea() (terrain.SourceArea, error) {
	boundary, err := ringToPolygon(req.Ring)
	if err != nil {
		return terrain.SourceArea{}, err
	}
	return terrain.SourceArea{
		LocationID:           req.LocationID,
		Name:                 req.Name,
		Boundary:             boundary,
		SlopeDeg:             req.SlopeDeg,
		Susceptibility:       req.Susceptibility,
		MaterialAvailability: req.Material,
	}, nil
}

func (h *SourceAreaHandler) create(w http.ResponseWriter, r *http.Request) {
	var req sourceAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	area, err := req.toArea()
	if err != nil {
		http.Error(w, "invalid geometry", http.StatusBadRequest)
		return
	}
	created, err := h.service.CreateSourceArea(r.Context(), area)
	if err != nil {
		h.logger.Printf("source area handler: create error: %v", err)
		http.Error(w, "create error", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, toAreaDTO(*created))
}

func (h *SourceAreaHandler) update(w http.ResponseWriter, r *http.Request, areaID string) {
	var req sourceAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	area, err := req.toArea()
	if err != nil {
		http.Error(w, "invalid geometry", http.StatusBadRequest)
		return
	}
	area.ID = areaID
	updated, err := h.service.UpdateSourceArea(r.Context(), area)
	if err != nil {
		h.logger.Printf("source area handler: update error: %v", err)
		http.Error(w, "update error", http.StatusBadRequest)
		return
	}
	writeJSON(w, toAreaDTO(*updated))
}

func (h *SourceAreaHandler) delete(w http.ResponseWriter, r *http.Request, areaID string) {
	if err := h.service.DeleteSourceArea(r.Context(), areaID); err != nil {
		h.logger.Printf("source area handler: delete error: %v", err)
		http.Error(w, "delete error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SourceAreaHandler) get(w http.ResponseWriter, r *http.Request, areaID string) {
	area, err := h.service.GetSourceArea(r.Context(), areaID)
	if err != nil {
		h.logger.Printf("source area handler: get error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if area == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toAreaDTO(*area))
}

func (h *SourceAreaHandler) list(w http.ResponseWriter, r *http.Request) {
	areas, err := h.service.ListSourceAreas(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		h.logger.Printf("source area handler: list error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	result := make([]areaDTO, 0, len(areas))
	for _, area := range areas {
		result = append(result, toAreaDTO(area))
	}
	writeJSON(w, map[string]any{"source_areas": result})
}

type areaDTO struct {
	ID             string      `json:"id"`
	LocationID     string      `json:"location_id"`
	Name           string      `json:"name"`
	Ring           [][]float64 `json:"ring,omitempty"`
	SlopeDeg       float64     `json:"slope_deg"`
	Susceptibility float64     `json:"susceptibility"`
	Material       float64     `json:"material_availability"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func toAreaDTO(area terrain.SourceArea) areaDTO {
	return areaDTO{
		ID:             area.ID,
		LocationID:     area.LocationID,
		Name:           area.Name,
		Ring:           polygonToRing(area.Boundary),
		SlopeDeg:       area.SlopeDeg,
		Susceptibility: area.Susceptibility,
		Material:       area.MaterialAvailability,
		UpdatedAt:      area.UpdatedAt,
	}
}

func ringToPolygon(ring [][]float64) (*geom.Polygon, error) {
	if len(ring) < 4 {
		return nil, errors.New("ring needs at least 4 vertices")
	}
	flat := make([]float64, 0, len(ring)*2)
	for _, vertex := range ring {
		if len(vertex) != 2 {
			return nil, errors.New("ring vertex is not a lon/lat pair")
		}
		flat = append(flat, vertex[0], vertex[1])
	}
	polygon := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	polygon.SetSRID(4326)
	return polygon, nil
}

func polygonToRing(polygon *geom.Polygon) [][]float64 {
	if polygon == nil || polygon.NumLinearRings() == 0 {
		return nil
	}
	coords := polygon.LinearRing(0).Coords()
	ring := make([][]float64, 0, len(coords))
	for _, coord := range coords {
		ring = append(ring, []float64{coord[0], coord[1]})
	}
	return ring
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
