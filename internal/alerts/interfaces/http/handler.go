package alertshttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"debrisflow-monitor/internal/alerts/application"
	alerts "debrisflow-monitor/internal/alerts/domain"
	"debrisflow-monitor/internal/audit"
	"debrisflow-monitor/internal/auth"
)

// Handler serves the alert API.
// Routes: /api/v1/alerts and /api/v1/alerts/{id}/ack.
type Handler struct {
	manager *application.Manager
	auditor audit.Logger
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(manager *application.Manager, auditor audit.Logger, logger *log.Logger) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("alerts handler: nil manager")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{manager: manager, auditor: auditor, logger: logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/alerts"), "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case strings.HasSuffix(rest, "/ack") && r.Method == http.MethodPost:
		h.acknowledge(w, r, strings.TrimSuffix(rest, "/ack"))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	unackOnly := r.URL.Query().Get("unacknowledged") == "true"

	list, err := h.manager.List(r.Context(), r.URL.Query().Get("location"), unackOnly, limit)
	if err != nil {
		h.logger.Printf("alerts handler: list error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	result := make([]alertDTO, 0, len(list))
	for _, alert := range list {
		result = append(result, toAlertDTO(alert))
	}
	writeJSON(w, map[string]any{"alerts": result})
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request, alertID string) {
	alert, err := h.manager.Acknowledge(r.Context(), alertID, auth.SubjectFromContext(r.Context()))
	switch {
	case errors.Is(err, alerts.ErrAlertNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, alerts.ErrAlreadyAcknowledged):
		http.Error(w, "alert already acknowledged", http.StatusConflict)
	case err != nil:
		h.logger.Printf("alerts handler: ack error: alert=%s err=%v", alertID, err)
		http.Error(w, "acknowledge error", http.StatusInternalServerError)
	default:
		h.logAudit(r, alert)
		writeJSON(w, toAlertDTO(*alert))
	}
}

func (h *Handler) logAudit(r *http.Request, alert *alerts.Alert) {
	if h.auditor == nil || alert == nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "alert.acknowledge",
		ResourceType: "alert",
		ResourceID:   alert.ID,
		LocationID:   alert.LocationID,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.auditor.Log(r.Context(), entry); err != nil {
		h.logger.Printf("alerts handler: audit error: %v", err)
	}
}

type alertDTO struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Severity       string     `json:"severity"`
	LocationID     string     `json:"location_id"`
	Message        string     `json:"message"`
	Recommendation string     `json:"recommendation,omitempty"`
	RelatedRunID   string     `json:"related_run_id,omitempty"`
	RelatedEventID string     `json:"related_event_id,omitempty"`
	Occurrences    int        `json:"occurrences"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAlertDTO(alert alerts.Alert) alertDTO {
	return alertDTO{
		ID:             alert.ID,
		Type:           string(alert.Type),
		Severity:       string(alert.Severity),
		LocationID:     alert.LocationID,
		Message:        alert.Message,
		Recommendation: alert.Recommendation,
		RelatedRunID:   alert.RelatedRunID,
		RelatedEventID: alert.RelatedEventID,
		Occurrences:    alert.Occurrences,
		AcknowledgedBy: alert.AcknowledgedBy,
		AcknowledgedAt: alert.AcknowledgedAt,
		CreatedAt:      alert.CreatedAt,
		UpdatedAt:      alert.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
