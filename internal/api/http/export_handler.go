package apihttp

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	alerts "debrisflow-monitor/internal/alerts/domain"
	rainfall "debrisflow-monitor/internal/rainfall/domain"
	risk "debrisflow-monitor/internal/risk/domain"
)

// ExportHandler serves report downloads.
// Routes: /api/v1/exports/risk-report (PDF per location) and
// /api/v1/exports/alerts (XLSX workbook).
type ExportHandler struct {
	assessments risk.AssessmentRepository
	events      rainfall.EventRepository
	zones       risk.ZoneRepository
	alerts      alerts.AlertRepository
	logger      *log.Logger
}

// NewExportHandler constructs a handler.
func NewExportHandler(assessments risk.AssessmentRepository, events rainfall.EventRepository, zones risk.ZoneRepository, alertsRepo alerts.AlertRepository, logger *log.Logger) (*ExportHandler, error) {
	if assessments == nil || events == nil || zones == nil || alertsRepo == nil {
		return nil, errors.New("export handler: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{
		assessments: assessments,
		events:      events,
		zones:       zones,
		alerts:      alertsRepo,
		logger:      logger,
	}, nil
}

func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/exports"), "/")
	switch rest {
	case "risk-report":
		h.riskReport(w, r)
	case "alerts":
		h.alertWorkbook(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ExportHandler) riskReport(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("location")
	if locationID == "" {
		http.Error(w, "location is required", http.StatusBadRequest)
		return
	}

	assessment, err := h.assessments.LatestByLocation(r.Context(), locationID)
	if err != nil {
		h.logger.Printf("export handler: assessment error: location=%s err=%v", locationID, err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	events, err := h.events.ListRecent(r.Context(), locationID, 20)
	if err != nil {
		h.logger.Printf("export handler: events error: location=%s err=%v", locationID, err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	zones, err := h.zones.ListByLocation(r.Context(), locationID, 20)
	if err != nil {
		h.logger.Printf("export handler: zones error: location=%s err=%v", locationID, err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	payload, err := BuildRiskReportPDF(locationID, assessment, events, zones)
	if err != nil {
		h.logger.Printf("export handler: pdf error: location=%s err=%v", locationID, err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("risk-report-%s-%s.pdf", locationID, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (h *ExportHandler) alertWorkbook(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.ListRecent(r.Context(), r.URL.Query().Get("location"), false, 500)
	if err != nil {
		h.logger.Printf("export handler: alerts error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	zones, err := h.zones.ListRecent(r.Context(), 200)
	if err != nil {
		h.logger.Printf("export handler: zones error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	payload, err := BuildAlertsXLSX(list, zones)
	if err != nil {
		h.logger.Printf("export handler: xlsx error: %v", err)
		http.Error(w, "render error", http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("alerts-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}
