package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/services/scheduler"
)

// SettingsHandler exposes the runtime-adjustable concurrency limit.
type SettingsHandler struct {
	scheduler *scheduler.Service
	logger    arbor.ILogger
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(sched *scheduler.Service, logger arbor.ILogger) *SettingsHandler {
	return &SettingsHandler{scheduler: sched, logger: logger}
}

type settingsPayload struct {
	MaxConcurrent      int `json:"maxConcurrent"`
	MaxConcurrentLimit int `json:"maxConcurrentLimit"`
}

// Handler serves GET /settings and PUT /settings. Out-of-range values are
// ignored; the response always reflects the effective setting.
func (h *SettingsHandler) Handler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req struct {
			MaxConcurrent int `json:"maxConcurrent"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		h.scheduler.SetMaxConcurrent(req.MaxConcurrent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	current, limit := h.scheduler.MaxConcurrent()
	WriteJSON(w, http.StatusOK, settingsPayload{
		MaxConcurrent:      current,
		MaxConcurrentLimit: limit,
	})
}
