package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/models"
	"github.com/bpasse/patine/internal/services/photos"
)

var validate = validator.New()

// PhotoHandler serves the photo catalog endpoints.
type PhotoHandler struct {
	photos *photos.Service
	logger arbor.ILogger
}

// NewPhotoHandler creates a photo handler.
func NewPhotoHandler(photoService *photos.Service, logger arbor.ILogger) *PhotoHandler {
	return &PhotoHandler{photos: photoService, logger: logger}
}

// CollectionHandler serves GET /photos, POST /photos and DELETE /photos.
func (h *PhotoHandler) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, http.StatusOK, h.photos.List())
	case http.MethodPost:
		h.upload(w, r)
	case http.MethodDelete:
		h.photos.Clear()
		WriteOK(w)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// upload stores the files from the multipart `photos` field.
func (h *PhotoHandler) upload(w http.ResponseWriter, r *http.Request) {
	// Header parse limit; each part is streamed to disk with its own cap.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		WriteError(w, http.StatusBadRequest, "no files in field 'photos'")
		return
	}
	if len(files) > photos.MaxUploadFiles {
		WriteError(w, http.StatusBadRequest, "too many files in one upload")
		return
	}

	uploaded := make([]*models.Photo, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "unreadable file part: "+err.Error())
			return
		}
		photo, err := h.photos.Save(header.Filename, header.Size, f)
		f.Close()
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		uploaded = append(uploaded, photo)
	}

	h.logger.Info().Int("count", len(uploaded)).Msg("Photos uploaded")
	WriteJSON(w, http.StatusOK, uploaded)
}

// DeleteHandler serves DELETE /photos/{id}.
func (h *PhotoHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}
	if err := h.photos.Delete(id); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteOK(w)
}

type importRequest struct {
	ResultPath string `json:"resultPath" validate:"required"`
}

// ImportHandler serves POST /photos/import: re-register a finished result
// as a fresh upload.
func (h *PhotoHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req importRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "resultPath is required")
		return
	}

	photo, err := h.photos.Import(req.ResultPath)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, photo)
}

type cropRequest struct {
	CropRect string `json:"cropRect" validate:"required"`
}

// CropHandler serves POST /photos/{id}/crop: synchronous crop producing a
// new photo.
func (h *PhotoHandler) CropHandler(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req cropRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "cropRect is required")
		return
	}

	photo, err := h.photos.Crop(r.Context(), id, req.CropRect)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, photo)
}

// AutoCropHandler serves GET /auto-crop/{photoId}.
func (h *PhotoHandler) AutoCropHandler(w http.ResponseWriter, r *http.Request, photoID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	bounds, err := h.photos.AutoCrop(r.Context(), photoID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, bounds)
}
