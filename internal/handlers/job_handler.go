package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/models"
	"github.com/bpasse/patine/internal/services/scheduler"
	"github.com/bpasse/patine/internal/stages"
)

// JobHandler serves the job queue endpoints.
type JobHandler struct {
	scheduler *scheduler.Service
	registry  *stages.Registry
	logger    arbor.ILogger
}

// NewJobHandler creates a job handler.
func NewJobHandler(sched *scheduler.Service, registry *stages.Registry, logger arbor.ILogger) *JobHandler {
	return &JobHandler{scheduler: sched, registry: registry, logger: logger}
}

// StepsHandler serves GET /steps: the public stage catalog.
func (h *JobHandler) StepsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.registry.Visible())
}

type createJobsRequest struct {
	PhotoIDs  []string                   `json:"photoIds" validate:"required,min=1"`
	Steps     []models.StageKey          `json:"steps"` // May be empty: such a job completes immediately
	Options   map[models.StageKey]string `json:"options"`
	Masks     map[string]string          `json:"masks"`
	CropRects map[string]string          `json:"cropRects"`
}

// CollectionHandler serves GET /jobs and POST /jobs. Listing doubles as the
// client heartbeat.
func (h *JobHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, h.scheduler.Jobs())
	case http.MethodPost:
		h.create(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *JobHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createJobsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "photoIds must not be empty")
		return
	}

	jobs, err := h.scheduler.CreateJobs(scheduler.CreateRequest{
		PhotoIDs:  req.PhotoIDs,
		Steps:     req.Steps,
		Options:   req.Options,
		Masks:     req.Masks,
		CropRects: req.CropRects,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// GetHandler serves GET /jobs/{id}.
func (h *JobHandler) GetHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	job, err := h.scheduler.Get(id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

type inputRequest struct {
	CropRect string `json:"cropRect"`
	Mask     string `json:"mask"`
}

// InputHandler serves POST /jobs/{id}/input.
func (h *JobHandler) InputHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req inputRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.scheduler.SubmitInput(id, req.CropRect, req.Mask); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteOK(w)
}

// SkipHandler serves POST /jobs/{id}/skip.
func (h *JobHandler) SkipHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.scheduler.SkipStep(id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteOK(w)
}

// BackHandler serves POST /jobs/{id}/back.
func (h *JobHandler) BackHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.scheduler.Rewind(id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteOK(w)
}

type retryRequest struct {
	Model string `json:"model"`
}

// RetryHandler serves POST /jobs/{id}/retry.
func (h *JobHandler) RetryHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req retryRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.scheduler.Retry(id, req.Model); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteOK(w)
}

// SkipFailedHandler serves POST /jobs/{id}/skip-failed.
func (h *JobHandler) SkipFailedHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.scheduler.SkipFailed(id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteOK(w)
}

// CancelHandler serves POST /jobs/{id}/cancel.
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.scheduler.Cancel(id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteOK(w)
}

// CancelAllHandler serves POST /jobs/cancel-all.
func (h *JobHandler) CancelAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	n := h.scheduler.CancelAll()
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "cancelled": n})
}

type reorderRequest struct {
	JobIDs []string `json:"jobIds" validate:"required"`
}

// ReorderHandler serves PUT /jobs/reorder.
func (h *JobHandler) ReorderHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}
	var req reorderRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "jobIds is required")
		return
	}
	h.scheduler.Reorder(req.JobIDs)
	WriteOK(w)
}
