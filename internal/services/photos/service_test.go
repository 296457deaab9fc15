package photos

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/services/artifacts"
)

// scriptedInvoker returns canned stdout per script name.
type scriptedInvoker struct {
	mu     sync.Mutex
	stdout map[string][]byte
	err    map[string]error
	calls  [][]string
}

func (f *scriptedInvoker) Invoke(_ context.Context, script string, args []string, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{script}, args...))
	if err := f.err[script]; err != nil {
		return nil, err
	}
	return f.stdout[script], nil
}

func (f *scriptedInvoker) Cancel(string) {}

func (f *scriptedInvoker) RunningJobs() []string { return nil }

func newTestService(t *testing.T) (*Service, *scriptedInvoker) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	root := t.TempDir()
	cfg.Paths.Uploads = filepath.Join(root, "uploads")
	cfg.Paths.Results = filepath.Join(root, "results")
	cfg.Paths.Masks = filepath.Join(root, "masks")

	logger := common.GetLogger()
	store, err := artifacts.NewService(cfg, logger)
	require.NoError(t, err)

	fake := &scriptedInvoker{stdout: make(map[string][]byte), err: make(map[string]error)}
	return NewService(store, fake, logger), fake
}

// pngBytes encodes a tiny real PNG so dimension probing has something to read.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestSaveAndList(t *testing.T) {
	s, _ := newTestService(t)

	data := pngBytes(t, 12, 8)
	photo, err := s.Save("Grand-père.png", int64(len(data)), bytes.NewReader(data))
	require.NoError(t, err)

	assert.NotEmpty(t, photo.ID)
	assert.Equal(t, "Grand-père.png", photo.Name)
	assert.NotEqual(t, photo.Name, photo.Filename)
	assert.Equal(t, 12, photo.Width)
	assert.Equal(t, 8, photo.Height)
	assert.FileExists(t, s.Path(photo))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, photo.ID, list[0].ID)
}

func TestSaveRejectsBadExtension(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Save("malware.exe", 4, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Save("archive.zip", 4, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Save("noextension", 4, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSaveRejectsOversizedFile(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Save("huge.png", MaxFileSize+1, bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestDeleteAndClear(t *testing.T) {
	s, _ := newTestService(t)

	p1, err := s.Save("a.png", 4, bytes.NewReader([]byte("aaaa")))
	require.NoError(t, err)
	p2, err := s.Save("b.jpg", 4, bytes.NewReader([]byte("bbbb")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(p1.ID))
	assert.NoFileExists(t, s.Path(p1))
	assert.ErrorIs(t, s.Delete(p1.ID), ErrPhotoNotFound)

	s.Clear()
	assert.Empty(t, s.List())
	assert.NoFileExists(t, s.Path(p2))
}

func TestPurgeMissing(t *testing.T) {
	s, _ := newTestService(t)

	p1, err := s.Save("a.png", 4, bytes.NewReader([]byte("aaaa")))
	require.NoError(t, err)
	_, err = s.Save("b.png", 4, bytes.NewReader([]byte("bbbb")))
	require.NoError(t, err)

	require.NoError(t, os.Remove(s.Path(p1)))

	assert.Equal(t, 1, s.PurgeMissing())
	require.Len(t, s.List(), 1)
	_, err = s.Get(p1.ID)
	assert.ErrorIs(t, err, ErrPhotoNotFound)
}

func TestImport(t *testing.T) {
	s, _ := newTestService(t)

	// Plant a finished result in the results directory.
	resultPath := filepath.Join(s.artifacts.ResultsDir(), "photo_face_abc123.png")
	require.NoError(t, os.WriteFile(resultPath, []byte("result-bytes"), 0644))

	photo, err := s.Import("/results/photo_face_abc123.png")
	require.NoError(t, err)
	assert.Equal(t, "photo_face_abc123.png", photo.Name)

	copied, err := os.ReadFile(s.Path(photo))
	require.NoError(t, err)
	assert.Equal(t, []byte("result-bytes"), copied)

	_, err = s.Import("/elsewhere/evil.png")
	assert.ErrorIs(t, err, ErrBadArtifactPath)

	_, err = s.Import("/results/never-existed.png")
	assert.Error(t, err)
}

func TestCropRegistersNewPhoto(t *testing.T) {
	s, fake := newTestService(t)

	p, err := s.Save("portrait.png", 4, bytes.NewReader([]byte("orig")))
	require.NoError(t, err)

	cropped, err := s.Crop(context.Background(), p.ID, "10,10,200,200")
	require.NoError(t, err)
	assert.Equal(t, "portrait_cropped.png", cropped.Name)
	assert.NotEqual(t, p.ID, cropped.ID)
	assert.Len(t, s.List(), 2)

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, "crop.py", call[0])
	assert.Equal(t, s.Path(p), call[1])
	assert.Equal(t, "10,10,200,200", call[3])
}

func TestAutoCropParsesWorkerBounds(t *testing.T) {
	s, fake := newTestService(t)
	fake.stdout["auto_crop.py"] = []byte(`{"x":14,"y":9,"w":620,"h":480}`)

	p, err := s.Save("old.png", 4, bytes.NewReader([]byte("orig")))
	require.NoError(t, err)

	bounds, err := s.AutoCrop(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, &CropBounds{X: 14, Y: 9, W: 620, H: 480}, bounds)
}

func TestAutoCropRejectsGarbageOutput(t *testing.T) {
	s, fake := newTestService(t)
	fake.stdout["auto_crop.py"] = []byte("Traceback (most recent call last): ...")

	p, err := s.Save("old.png", 4, bytes.NewReader([]byte("orig")))
	require.NoError(t, err)

	_, err = s.AutoCrop(context.Background(), p.ID)
	assert.Error(t, err)
}

func TestCropUnknownPhoto(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Crop(context.Background(), "photo_missing", "1,1,2,2")
	assert.ErrorIs(t, err, ErrPhotoNotFound)

	_, err = s.AutoCrop(context.Background(), "photo_missing")
	assert.ErrorIs(t, err, ErrPhotoNotFound)
}
