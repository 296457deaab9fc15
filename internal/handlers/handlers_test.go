package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/models"
	"github.com/bpasse/patine/internal/services/artifacts"
	"github.com/bpasse/patine/internal/services/events"
	"github.com/bpasse/patine/internal/services/photos"
	"github.com/bpasse/patine/internal/services/scheduler"
	"github.com/bpasse/patine/internal/stages"
)

type stubInvoker struct{}

func (stubInvoker) Invoke(context.Context, string, []string, string) ([]byte, error) {
	return nil, nil
}
func (stubInvoker) Cancel(string)         {}
func (stubInvoker) RunningJobs() []string { return nil }

func newTestHandlers(t *testing.T) (*JobHandler, *SettingsHandler) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	root := t.TempDir()
	cfg.Paths.Uploads = filepath.Join(root, "uploads")
	cfg.Paths.Results = filepath.Join(root, "results")
	cfg.Paths.Masks = filepath.Join(root, "masks")

	logger := common.GetLogger()
	store, err := artifacts.NewService(cfg, logger)
	require.NoError(t, err)

	registry := stages.NewRegistry()
	photoSvc := photos.NewService(store, stubInvoker{}, logger)
	sched := scheduler.NewService(
		cfg,
		registry,
		store,
		photoSvc,
		stubInvoker{},
		events.NewService(logger),
		func() bool { return true },
		logger,
	)
	t.Cleanup(sched.Stop)

	return NewJobHandler(sched, registry, logger), NewSettingsHandler(sched, logger)
}

func TestStepsHandlerReturnsCatalog(t *testing.T) {
	jobHandler, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/steps", nil)
	rec := httptest.NewRecorder()
	jobHandler.StepsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var catalog map[models.StageKey]models.StageInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	assert.Contains(t, catalog, models.StageCrop)
	assert.True(t, catalog[models.StageCrop].Manual)
	assert.Contains(t, catalog, models.StageColorize)
}

func TestStepsHandlerRejectsPost(t *testing.T) {
	jobHandler, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/steps", nil)
	rec := httptest.NewRecorder()
	jobHandler.StepsHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	_, settingsHandler := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	rec := httptest.NewRecorder()
	settingsHandler.Handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got settingsPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.MaxConcurrent)
	assert.Equal(t, 2, got.MaxConcurrentLimit)

	// Out-of-range values are ignored, the response reports the
	// effective setting.
	req = httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"maxConcurrent":99}`))
	rec = httptest.NewRecorder()
	settingsHandler.Handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.MaxConcurrent)

	req = httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"maxConcurrent":1}`))
	rec = httptest.NewRecorder()
	settingsHandler.Handler(rec, req)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.MaxConcurrent)
}

func TestJobNotFoundMapsTo404(t *testing.T) {
	jobHandler, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/ghost", nil)
	rec := httptest.NewRecorder()
	jobHandler.GetHandler(rec, req, "ghost")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOnUnknownJobMapsTo404(t *testing.T) {
	jobHandler, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/ghost/cancel", nil)
	rec := httptest.NewRecorder()
	jobHandler.CancelHandler(rec, req, "ghost")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateJobsValidationMapsTo400(t *testing.T) {
	jobHandler, _ := newTestHandlers(t)

	body := `{"photoIds":[],"steps":["face_restore"]}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	jobHandler.CollectionHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = `{"photoIds":["photo_x"],"steps":["sharpen"]}`
	req = httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec = httptest.NewRecorder()
	jobHandler.CollectionHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobsEmptyQueue(t *testing.T) {
	jobHandler, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	jobHandler.CollectionHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Empty(t, jobs)
}
