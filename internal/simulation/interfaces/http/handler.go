package simulationhttp

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"debrisflow-monitor/internal/audit"
	"debrisflow-monitor/internal/auth"
	"debrisflow-monitor/internal/simulation/application"
	simulation "debrisflow-monitor/internal/simulation/domain"
)

// Handler serves the simulation run API.
// Routes: /api/v1/simulations, /api/v1/simulations/{id} and
// /api/v1/simulations/{id}/cancel.
type Handler struct {
	dispatcher *application.Dispatcher
	supervisor *application.Supervisor
	repo       simulation.RunRepository
	auditor    audit.Logger
	logger     *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(dispatcher *application.Dispatcher, supervisor *application.Supervisor, repo simulation.RunRepository, auditor audit.Logger, logger *log.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("simulation handler: nil dispatcher")
	}
	if supervisor == nil {
		return nil, errors.New("simulation handler: nil supervisor")
	}
	if repo == nil {
		return nil, errors.New("simulation handler: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{dispatcher: dispatcher, supervisor: supervisor, repo: repo, auditor: auditor, logger: logger}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/simulations"), "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.list(w, r)
	case rest == "" && r.Method == http.MethodPost:
		h.trigger(w, r)
	case strings.HasSuffix(rest, "/cancel") && r.Method == http.MethodPost:
		h.cancel(w, r, strings.TrimSuffix(rest, "/cancel"))
	case rest != "" && r.Method == http.MethodGet:
		h.get(w, r, rest)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type triggerRequest struct {
	LocationID string             `json:"locationId"`
	Params     *simulation.Params `json:"params,omitempty"`
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if req.LocationID == "" {
		http.Error(w, "missing locationId", http.StatusBadRequest)
		return
	}

	run, err := h.dispatcher.DispatchManual(r.Context(), req.LocationID, auth.SubjectFromContext(r.Context()), req.Params)
	if errors.Is(err, simulation.ErrDuplicateDispatch) {
		http.Error(w, "a run for this location is already in flight", http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Printf("simulation handler: trigger error: %v", err)
		http.Error(w, "dispatch error", http.StatusInternalServerError)
		return
	}
	h.logAudit(r, "simulation.trigger", run.ID, run.LocationID)
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, toRunDTO(*run))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, runID string) {
	err := h.supervisor.CancelRun(r.Context(), runID, auth.SubjectFromContext(r.Context()))
	switch {
	case errors.Is(err, simulation.ErrRunNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, simulation.ErrNotCancelable):
		http.Error(w, "run already finished", http.StatusConflict)
	case err != nil:
		h.logger.Printf("simulation handler: cancel error: run=%s err=%v", runID, err)
		http.Error(w, "cancel error", http.StatusInternalServerError)
	default:
		h.logAudit(r, "simulation.cancel", runID, "")
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) logAudit(r *http.Request, action, runID, locationID string) {
	if h.auditor == nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "simulation_run",
		ResourceID:   runID,
		LocationID:   locationID,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.auditor.Log(r.Context(), entry); err != nil {
		h.logger.Printf("simulation handler: audit error: %v", err)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := h.repo.GetByID(r.Context(), runID)
	if err != nil {
		h.logger.Printf("simulation handler: get error: run=%s err=%v", runID, err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toRunDTO(*run))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	runs, err := h.repo.ListRecent(r.Context(), r.URL.Query().Get("location"), limit)
	if err != nil {
		h.logger.Printf("simulation handler: list error: %v", err)
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	result := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		result = append(result, toRunDTO(run))
	}
	writeJSON(w, map[string]any{"runs": result})
}

type runDTO struct {
	ID             string     `json:"id"`
	LocationID     string     `json:"location_id"`
	SnapshotID     string     `json:"snapshot_id,omitempty"`
	EventID        string     `json:"event_id,omitempty"`
	Trigger        string     `json:"trigger"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	RequestedBy    string     `json:"requested_by,omitempty"`
	AffectedAreaM2 *float64   `json:"affected_area_m2,omitempty"`
	MaxDepthM      *float64   `json:"max_depth_m,omitempty"`
	RiskLevel      string     `json:"risk_level,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

func toRunDTO(run simulation.Run) runDTO {
	dto := runDTO{
		ID:          run.ID,
		LocationID:  run.LocationID,
		SnapshotID:  run.SnapshotID,
		EventID:     run.EventID,
		Trigger:     string(run.Trigger),
		Status:      string(run.Status),
		Error:       run.Error,
		RequestedBy: run.RequestedBy,
		SubmittedAt: run.SubmittedAt,
		FinishedAt:  run.FinishedAt,
	}
	if run.Result != nil {
		area := run.Result.AffectedAreaM2
		depth := run.Result.MaxDepthM
		dto.AffectedAreaM2 = &area
		dto.MaxDepthM = &depth
		dto.RiskLevel = run.Result.RiskLevel
	}
	return dto
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
