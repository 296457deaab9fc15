package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bpasse/patine/internal/services/photos"
	"github.com/bpasse/patine/internal/services/scheduler"
)

// RequireMethod validates that the request uses the given method, writing
// a 405 otherwise.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes the standard `{ok:true}` acknowledgement.
func WriteOK(w http.ResponseWriter) error {
	return WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// DecodeJSON parses the request body into dst, writing a 400 on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// WriteServiceError maps service errors onto HTTP status codes. User errors
// never mutate state, so a 4xx here means the request was simply refused.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, photos.ErrPhotoNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrNotReady):
		WriteError(w, http.StatusServiceUnavailable,
			"worker environment is not installed yet")
	case errors.Is(err, scheduler.ErrIllegalTransition),
		errors.Is(err, scheduler.ErrNoPreviousManualStep),
		errors.Is(err, scheduler.ErrUnknownStage),
		errors.Is(err, scheduler.ErrUnknownModel),
		errors.Is(err, photos.ErrUnsupportedType),
		errors.Is(err, photos.ErrBadArtifactPath):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, photos.ErrFileTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
