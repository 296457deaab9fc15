// Package photos manages the upload catalog: the in-memory photo records and
// the synchronous photo-level operations (crop, auto-crop, import) that do
// not go through the job scheduler.
package photos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	// Decoders for reading upload dimensions.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/interfaces"
	"github.com/bpasse/patine/internal/models"
	"github.com/bpasse/patine/internal/services/artifacts"
)

const (
	// MaxUploadFiles bounds one multipart upload request.
	MaxUploadFiles = 20
	// MaxFileSize is the per-file upload cap.
	MaxFileSize = 50 << 20
)

var (
	// ErrPhotoNotFound is returned for lookups of unknown photo ids.
	ErrPhotoNotFound = errors.New("photo not found")
	// ErrUnsupportedType is returned for uploads with a disallowed extension.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrFileTooLarge is returned for uploads over the per-file cap.
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrBadArtifactPath is returned when an import path is outside the
	// managed namespaces.
	ErrBadArtifactPath = errors.New("path is not a managed artifact")
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".tiff": true,
	".bmp":  true,
}

// CropBounds is the auto-crop worker's answer, in original-pixel coordinates.
type CropBounds struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Service is the photo catalog. Records live in memory only; the backing
// files live in the uploads directory and may be swept from under us.
type Service struct {
	artifacts *artifacts.Service
	invoker   interfaces.WorkerInvoker
	logger    arbor.ILogger

	mu     sync.RWMutex
	photos map[string]*models.Photo
}

// NewService creates the photo catalog.
func NewService(store *artifacts.Service, invoker interfaces.WorkerInvoker, logger arbor.ILogger) *Service {
	return &Service{
		artifacts: store,
		invoker:   invoker,
		logger:    logger,
		photos:    make(map[string]*models.Photo),
	}
}

// Save stores one uploaded file and registers it as a photo. The reader is
// copied to a fresh opaque filename; originalName only survives as the
// display name.
func (s *Service) Save(originalName string, size int64, r io.Reader) (*models.Photo, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
	if size > MaxFileSize {
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, originalName)
	}

	path := s.artifacts.NewUploadPath(ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	written, err := io.Copy(f, io.LimitReader(r, MaxFileSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.artifacts.Remove(path)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if written > MaxFileSize {
		s.artifacts.Remove(path)
		return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, originalName)
	}

	return s.register(path, originalName), nil
}

// register creates the photo record for a file already in uploads.
func (s *Service) register(path, displayName string) *models.Photo {
	photo := &models.Photo{
		ID:        common.NewPhotoID(),
		Filename:  filepath.Base(path),
		Name:      displayName,
		URL:       s.artifacts.URLFor(path),
		CreatedAt: time.Now(),
	}
	if w, h, err := readDimensions(path); err == nil {
		photo.Width = w
		photo.Height = h
	}

	s.mu.Lock()
	s.photos[photo.ID] = photo
	s.mu.Unlock()

	s.logger.Info().
		Str("photo_id", photo.ID).
		Str("name", displayName).
		Msg("Photo registered")

	return photo
}

// List returns all photos, newest first.
func (s *Service) List() []*models.Photo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Photo, 0, len(s.photos))
	for _, p := range s.photos {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Get returns one photo by id.
func (s *Service) Get(id string) (*models.Photo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.photos[id]
	if !ok {
		return nil, ErrPhotoNotFound
	}
	return p, nil
}

// Path returns the absolute file path backing a photo.
func (s *Service) Path(p *models.Photo) string {
	return filepath.Join(s.artifacts.UploadsDir(), p.Filename)
}

// Delete removes one photo record and its file.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	p, ok := s.photos[id]
	if ok {
		delete(s.photos, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrPhotoNotFound
	}
	s.artifacts.Remove(s.Path(p))
	return nil
}

// Clear removes every photo record and file.
func (s *Service) Clear() {
	s.mu.Lock()
	cleared := make([]*models.Photo, 0, len(s.photos))
	for _, p := range s.photos {
		cleared = append(cleared, p)
	}
	s.photos = make(map[string]*models.Photo)
	s.mu.Unlock()

	for _, p := range cleared {
		s.artifacts.Remove(s.Path(p))
	}
	s.logger.Info().Int("count", len(cleared)).Msg("Photo catalog cleared")
}

// PurgeMissing drops records whose backing file is gone. Called by the
// cleanup sweeper after the file sweep.
func (s *Service) PurgeMissing() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, p := range s.photos {
		if !s.artifacts.Exists(filepath.Join(s.artifacts.UploadsDir(), p.Filename)) {
			delete(s.photos, id)
			purged++
		}
	}
	return purged
}

// Import copies a /results/... or /uploads/... artifact into uploads as a
// new photo, so a finished restoration can feed another pipeline.
func (s *Service) Import(resultPath string) (*models.Photo, error) {
	src := s.artifacts.PathForURL(resultPath)
	if src == "" {
		return nil, ErrBadArtifactPath
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		ext = ".png"
	}
	dst := s.artifacts.NewUploadPath(ext)
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to copy artifact: %w", err)
	}

	return s.register(dst, filepath.Base(src)), nil
}

// Crop applies a crop to a photo synchronously and registers the output as
// a new photo. Unlike the crop pipeline stage this blocks the caller.
func (s *Service) Crop(ctx context.Context, id, cropRect string) (*models.Photo, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	output := s.artifacts.NewUploadPath(".png")
	args := []string{s.Path(p), output, cropRect}
	if _, err := s.invoker.Invoke(ctx, "crop.py", args, "crop_"+p.ID); err != nil {
		s.artifacts.Remove(output)
		return nil, err
	}

	return s.register(output, croppedName(p.Name)), nil
}

// AutoCrop asks the detection worker for the photo's content bounds.
func (s *Service) AutoCrop(ctx context.Context, id string) (*CropBounds, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	stdout, err := s.invoker.Invoke(ctx, "auto_crop.py", []string{s.Path(p)}, "autocrop_"+p.ID)
	if err != nil {
		return nil, err
	}

	var bounds CropBounds
	if err := json.Unmarshal(stdout, &bounds); err != nil {
		return nil, fmt.Errorf("auto-crop worker returned invalid bounds: %w", err)
	}
	return &bounds, nil
}

// croppedName derives the display name for a synchronous crop output.
func croppedName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_cropped.png"
}

// readDimensions decodes just the image header.
func readDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
