package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"content-pipeline-service/internal/entity"
	"content-pipeline-service/internal/service"
	"content-pipeline-service/internal/template"
)

type Handler struct {
	runSvc    *service.RunService
	templates *template.Registry
}

func NewHandler(runSvc *service.RunService, templates *template.Registry) *Handler {
	return &Handler{runSvc: runSvc, templates: templates}
}

type createRunDTO struct {
	TemplateID string         `json:"template_id"`
	Stage      string         `json:"stage"`
	Priority   *int           `json:"priority,omitempty"` // 0=low,1=normal,2=high (nil => default 1)
	Params     map[string]any `json:"params"`
	Units      []entity.Unit  `json:"units"`
}

type createRunResp struct {
	ID string `json:"id"`
}

type runResp struct {
	ID         string           `json:"id"`
	TemplateID string           `json:"template_id"`
	Stage      entity.Stage     `json:"stage"`
	Status     entity.RunStatus `json:"status"`
	Priority   int              `json:"priority"`
	Params     map[string]any   `json:"params"`
	Units      []entity.Unit    `json:"units"`
	Summary    map[string]any   `json:"summary,omitempty"`
	Error      *string          `json:"error,omitempty"`
	CreatedAt  string           `json:"created_at"`
	UpdatedAt  string           `json:"updated_at"`
}

// CreateRun godoc
// @Summary Create a pipeline run
// @Description Validates template parameters and units, stores the run (pending) and enqueues it for the orchestration worker.
// @Tags runs
// @Accept json
// @Produce json
// @Param request body createRunDTO true "run payload (priority: 0=low,1=normal,2=high)"
// @Success 201 {object} createRunResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var dto createRunDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	priority := 1
	if dto.Priority != nil {
		priority = *dto.Priority
	}

	id, err := h.runSvc.CreateRun(r.Context(), service.CreateRunRequest{
		TemplateID: dto.TemplateID,
		Stage:      entity.Stage(dto.Stage),
		Priority:   priority,
		Params:     dto.Params,
		Units:      dto.Units,
	})
	if err != nil {
		badRequest(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createRunResp{ID: id.String()})
}

// GetRun godoc
// @Summary Get run by id
// @Tags runs
// @Produce json
// @Param id path string true "run id (uuid)"
// @Success 200 {object} runResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	run, err := h.runSvc.GetRun(r.Context(), id)
	if err != nil {
		notFound(w, "run")
		return
	}

	resp := runResp{
		ID:         run.ID.String(),
		TemplateID: run.TemplateID,
		Stage:      run.Stage,
		Status:     run.Status,
		Priority:   run.Priority,
		Units:      run.Units,
		Error:      run.Error,
		CreatedAt:  run.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  run.UpdatedAt.Format(time.RFC3339),
	}
	if len(run.Params) > 0 {
		_ = json.Unmarshal(run.Params, &resp.Params)
	}
	if run.Status == entity.RunDone && len(run.Summary) > 0 {
		_ = json.Unmarshal(run.Summary, &resp.Summary)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRunSummary godoc
// @Summary Get the terminal summary of a run
// @Tags runs
// @Produce json
// @Param id path string true "run id (uuid)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /runs/{id}/summary [get]
func (h *Handler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return
	}

	run, err := h.runSvc.GetRun(r.Context(), id)
	if err != nil {
		notFound(w, "run")
		return
	}
	if run.Status != entity.RunDone {
		writeErr(w, http.StatusConflict, "run not done")
		return
	}

	// отдаем raw json без лишнего \n
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(run.Summary)
}

// ListTemplates godoc
// @Summary List declared job template ids
// @Tags templates
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /templates [get]
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"templates": h.templates.IDs()})
}

// GetTemplateDefaults godoc
// @Summary Get a template's declared defaults
// @Description Used by form UIs to pre-populate parameter fields.
// @Tags templates
// @Produce json
// @Param id path string true "template id"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} apiError
// @Router /templates/{id}/defaults [get]
func (h *Handler) GetTemplateDefaults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	defaults, err := h.templates.Defaults(id)
	if err != nil {
		if errors.Is(err, template.ErrUnknownTemplate) {
			notFound(w, "template")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, defaults)
}
