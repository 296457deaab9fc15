package artifacts

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/text/unicode/norm"

	"github.com/bpasse/patine/internal/common"
)

const (
	uploadsPrefix = "/uploads/"
	resultsPrefix = "/results/"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Service owns the artifact directories: uploads (photos and mask files),
// results (stage outputs) and masks (reserved for the bootstrap). It maps
// between absolute paths and the public /uploads, /results URL namespace.
type Service struct {
	uploadsDir string
	resultsDir string
	masksDir   string
	logger     arbor.ILogger
}

// NewService creates the artifact store, creating the directories if missing.
func NewService(cfg *common.Config, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		uploadsDir: cfg.Paths.Uploads,
		resultsDir: cfg.Paths.Results,
		masksDir:   cfg.Paths.Masks,
		logger:     logger,
	}

	for _, dir := range []string{s.uploadsDir, s.resultsDir, s.masksDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
		}
	}

	logger.Info().
		Str("uploads", s.uploadsDir).
		Str("results", s.resultsDir).
		Msg("Artifact directories ready")

	return s, nil
}

// UploadsDir returns the uploads directory path.
func (s *Service) UploadsDir() string { return s.uploadsDir }

// ResultsDir returns the results directory path.
func (s *Service) ResultsDir() string { return s.resultsDir }

// NewUploadPath allocates an opaque upload filename with the given
// extension (".jpg") and returns its absolute path.
func (s *Service) NewUploadPath(ext string) string {
	return filepath.Join(s.uploadsDir, uuid.New().String()+strings.ToLower(ext))
}

// StageOutputPath builds the on-disk path for a stage output:
// results/<sanitized-photoName>_<stagePrefix>_<jobShort>.png
func (s *Service) StageOutputPath(photoName, stagePrefix, jobID string) string {
	name := fmt.Sprintf("%s_%s_%s.png", SanitizeName(photoName), stagePrefix, common.ShortID(jobID))
	return filepath.Join(s.resultsDir, name)
}

// URLFor maps an absolute artifact path to its public URL, or "" when the
// path lives outside the managed directories.
func (s *Service) URLFor(path string) string {
	if path == "" {
		return ""
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	switch {
	case sameDir(dir, s.uploadsDir):
		return uploadsPrefix + base
	case sameDir(dir, s.resultsDir):
		return resultsPrefix + base
	default:
		return ""
	}
}

// PathForURL maps a public /uploads/... or /results/... URL back to the
// filesystem, or "" for anything else. The base name is flattened so a
// crafted URL cannot escape the artifact directories.
func (s *Service) PathForURL(url string) string {
	switch {
	case strings.HasPrefix(url, uploadsPrefix):
		return filepath.Join(s.uploadsDir, filepath.Base(url[len(uploadsPrefix):]))
	case strings.HasPrefix(url, resultsPrefix):
		return filepath.Join(s.resultsDir, filepath.Base(url[len(resultsPrefix):]))
	default:
		return ""
	}
}

// WriteMask decodes a data:image/png;base64,... payload into a fresh mask
// file under uploads and returns its path.
func (s *Service) WriteMask(dataURL string) (string, error) {
	idx := strings.Index(dataURL, "base64,")
	if idx < 0 {
		return "", fmt.Errorf("mask is not a base64 data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+len("base64,"):])
	if err != nil {
		return "", fmt.Errorf("failed to decode mask data: %w", err)
	}

	name := fmt.Sprintf("mask_%s.png", strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	path := filepath.Join(s.uploadsDir, name)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("failed to write mask file: %w", err)
	}
	return path, nil
}

// Remove deletes an artifact file. Missing files are not an error.
func (s *Service) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove artifact")
	}
}

// Exists reports whether an artifact file is present on disk.
func (s *Service) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// SanitizeName makes a display name safe for artifact filenames: diacritics
// are stripped, anything outside [A-Za-z0-9._-] collapses to a single "_",
// and leading/trailing underscores are trimmed.
func SanitizeName(name string) string {
	decomposed := norm.NFD.String(name)
	stripped := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, decomposed)

	cleaned := unsafeChars.ReplaceAllString(stripped, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "photo"
	}
	return cleaned
}

// sameDir compares directories tolerating relative vs cleaned forms.
func sameDir(a, b string) bool {
	ca, err1 := filepath.Abs(a)
	cb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ca == cb
}
