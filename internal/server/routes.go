package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Photos
	mux.HandleFunc("/photos", s.app.PhotoHandler.CollectionHandler) // GET (list), POST (upload), DELETE (clear)
	mux.HandleFunc("/photos/import", s.app.PhotoHandler.ImportHandler)
	mux.HandleFunc("/photos/", s.handlePhotoRoutes) // DELETE /{id}, POST /{id}/crop
	mux.HandleFunc("/auto-crop/", s.handleAutoCropRoute)

	// Stage catalog
	mux.HandleFunc("/steps", s.app.JobHandler.StepsHandler)

	// Jobs
	mux.HandleFunc("/jobs", s.app.JobHandler.CollectionHandler) // GET (list+heartbeat), POST (create)
	mux.HandleFunc("/jobs/cancel-all", s.app.JobHandler.CancelAllHandler)
	mux.HandleFunc("/jobs/reorder", s.app.JobHandler.ReorderHandler)
	mux.HandleFunc("/jobs/", s.handleJobRoutes) // GET /{id} and action subpaths

	// Settings and environment probe
	mux.HandleFunc("/settings", s.app.SettingsHandler.Handler)
	mux.HandleFunc("/status", s.app.StatusHandler.Handler)

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Static artifacts
	uploads := http.FileServer(http.Dir(s.app.Config.Paths.Uploads))
	results := http.FileServer(http.Dir(s.app.Config.Paths.Results))
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", uploads))
	mux.Handle("/results/", http.StripPrefix("/results/", results))

	return mux
}

// handlePhotoRoutes routes /photos/{id} and /photos/{id}/crop.
func (s *Server) handlePhotoRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/photos/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.app.PhotoHandler.DeleteHandler(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "crop":
		s.app.PhotoHandler.CropHandler(w, r, parts[0])
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleAutoCropRoute routes /auto-crop/{photoId}.
func (s *Server) handleAutoCropRoute(w http.ResponseWriter, r *http.Request) {
	photoID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/auto-crop/"), "/")
	if photoID == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.PhotoHandler.AutoCropHandler(w, r, photoID)
}

// handleJobRoutes routes /jobs/{id} and its action subpaths.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.app.JobHandler.GetHandler(w, r, parts[0])
	case len(parts) == 2:
		id := parts[0]
		switch parts[1] {
		case "input":
			s.app.JobHandler.InputHandler(w, r, id)
		case "skip":
			s.app.JobHandler.SkipHandler(w, r, id)
		case "back":
			s.app.JobHandler.BackHandler(w, r, id)
		case "retry":
			s.app.JobHandler.RetryHandler(w, r, id)
		case "skip-failed":
			s.app.JobHandler.SkipFailedHandler(w, r, id)
		case "cancel":
			s.app.JobHandler.CancelHandler(w, r, id)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}
