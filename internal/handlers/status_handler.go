package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/services/status"
)

// StatusHandler serves the environment probe.
type StatusHandler struct {
	status *status.Service
	logger arbor.ILogger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(statusService *status.Service, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{status: statusService, logger: logger}
}

// Handler serves GET /status.
func (h *StatusHandler) Handler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.status.Report())
}
