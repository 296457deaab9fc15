package cleanup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/services/artifacts"
	"github.com/bpasse/patine/internal/services/events"
	"github.com/bpasse/patine/internal/services/photos"
	"github.com/bpasse/patine/internal/services/scheduler"
	"github.com/bpasse/patine/internal/stages"
)

type nopInvoker struct{}

func (nopInvoker) Invoke(context.Context, string, []string, string) ([]byte, error) {
	return nil, nil
}
func (nopInvoker) Cancel(string)         {}
func (nopInvoker) RunningJobs() []string { return nil }

func newTestSweeper(t *testing.T) (*Service, *artifacts.Service, *photos.Service) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	root := t.TempDir()
	cfg.Paths.Uploads = filepath.Join(root, "uploads")
	cfg.Paths.Results = filepath.Join(root, "results")
	cfg.Paths.Masks = filepath.Join(root, "masks")
	cfg.Cleanup.MaxAge = time.Hour

	logger := common.GetLogger()
	store, err := artifacts.NewService(cfg, logger)
	require.NoError(t, err)

	photoSvc := photos.NewService(store, nopInvoker{}, logger)
	sched := scheduler.NewService(
		cfg,
		stages.NewRegistry(),
		store,
		photoSvc,
		nopInvoker{},
		events.NewService(logger),
		func() bool { return true },
		logger,
	)
	t.Cleanup(sched.Stop)

	return NewService(cfg, store, photoSvc, sched, logger), store, photoSvc
}

func ageFile(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestSweepRemovesOnlyAgedFiles(t *testing.T) {
	sweeper, store, _ := newTestSweeper(t)

	oldUpload := filepath.Join(store.UploadsDir(), "old.png")
	freshUpload := filepath.Join(store.UploadsDir(), "fresh.png")
	oldResult := filepath.Join(store.ResultsDir(), "old_face_abc123.png")
	require.NoError(t, os.WriteFile(oldUpload, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(freshUpload, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(oldResult, []byte("x"), 0644))
	ageFile(t, oldUpload, 2*time.Hour)
	ageFile(t, oldResult, 2*time.Hour)

	sweeper.Sweep()

	assert.NoFileExists(t, oldUpload)
	assert.NoFileExists(t, oldResult)
	assert.FileExists(t, freshUpload)
}

func TestSweepSparesMarkerFiles(t *testing.T) {
	sweeper, store, _ := newTestSweeper(t)

	marker := filepath.Join(store.UploadsDir(), ".gitkeep")
	require.NoError(t, os.WriteFile(marker, nil, 0644))
	ageFile(t, marker, 48*time.Hour)

	sweeper.Sweep()

	assert.FileExists(t, marker)
}

func TestSweepPurgesOrphanedPhotoRecords(t *testing.T) {
	sweeper, _, photoSvc := newTestSweeper(t)

	photo, err := photoSvc.Save("old.png", 4, bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	ageFile(t, photoSvc.Path(photo), 2*time.Hour)

	sweeper.Sweep()

	assert.Empty(t, photoSvc.List())
}

func TestSweepToleratesMissingDirectories(t *testing.T) {
	sweeper, store, _ := newTestSweeper(t)

	require.NoError(t, os.RemoveAll(store.UploadsDir()))
	require.NoError(t, os.RemoveAll(store.ResultsDir()))

	sweeper.Sweep()
}

func TestStartAndStop(t *testing.T) {
	sweeper, _, _ := newTestSweeper(t)

	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}
