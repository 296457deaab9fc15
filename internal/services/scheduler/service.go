// Package scheduler is the admission and dispatch engine: it owns the job
// store, decides which pending jobs may advance, drives each job's state
// machine through the worker invoker and records stage results.
//
// The job map is guarded by one mutex and the scheduler is its single
// writer; pipeline goroutines re-enter through that lock at every step
// boundary, so readers always observe a consistent snapshot.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/interfaces"
	"github.com/bpasse/patine/internal/models"
	"github.com/bpasse/patine/internal/services/artifacts"
	"github.com/bpasse/patine/internal/services/photos"
	"github.com/bpasse/patine/internal/stages"
)

// CreateRequest is one job-creation call: a batch of photos pushed through
// the same pipeline. Masks and CropRects are keyed by photo id and seed the
// manual-stage inputs so jobs can run unattended.
type CreateRequest struct {
	PhotoIDs  []string
	Steps     []models.StageKey
	Options   map[models.StageKey]string
	Masks     map[string]string
	CropRects map[string]string
}

// Service is the scheduler.
type Service struct {
	registry  *stages.Registry
	artifacts *artifacts.Service
	photos    *photos.Service
	invoker   interfaces.WorkerInvoker
	events    interfaces.EventService
	logger    arbor.ILogger
	ready     func() bool

	mu            sync.Mutex
	jobs          map[string]*models.Job
	nextPriority  int
	maxConcurrent int
	maxLimit      int

	heartbeatTimeout time.Duration
	lastHeartbeat    atomic.Int64 // unix nanos
	stopHeartbeat    chan struct{}
	heartbeatOnce    sync.Once
}

// NewService creates the scheduler. ready gates job admission on the worker
// environment probe.
func NewService(
	cfg *common.Config,
	registry *stages.Registry,
	store *artifacts.Service,
	photoCatalog *photos.Service,
	invoker interfaces.WorkerInvoker,
	events interfaces.EventService,
	ready func() bool,
	logger arbor.ILogger,
) *Service {
	s := &Service{
		registry:         registry,
		artifacts:        store,
		photos:           photoCatalog,
		invoker:          invoker,
		events:           events,
		logger:           logger,
		ready:            ready,
		jobs:             make(map[string]*models.Job),
		maxConcurrent:    cfg.Jobs.MaxConcurrentLimit,
		maxLimit:         cfg.Jobs.MaxConcurrentLimit,
		heartbeatTimeout: cfg.Jobs.HeartbeatTimeout,
		stopHeartbeat:    make(chan struct{}),
	}
	s.lastHeartbeat.Store(time.Now().UnixNano())
	return s
}

// CreateJobs admits one job per photo and triggers a dispatch. Validation
// failures reject the whole batch before any job is stored.
func (s *Service) CreateJobs(req CreateRequest) ([]*models.Job, error) {
	if s.ready != nil && !s.ready() {
		return nil, ErrNotReady
	}
	if len(req.PhotoIDs) == 0 {
		return nil, fmt.Errorf("photoIds must not be empty")
	}
	for _, key := range req.Steps {
		if !s.registry.Known(key) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, key)
		}
		if _, exposed := s.registry.Visible()[key]; !exposed {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, key)
		}
	}

	type admission struct {
		photo    *models.Photo
		cropRect string
		maskPath string
	}
	admissions := make([]admission, 0, len(req.PhotoIDs))
	for _, photoID := range req.PhotoIDs {
		photo, err := s.photos.Get(photoID)
		if err != nil {
			return nil, fmt.Errorf("photo %s: %w", photoID, err)
		}
		a := admission{photo: photo, cropRect: req.CropRects[photoID]}
		if dataURL := req.Masks[photoID]; dataURL != "" {
			path, err := s.artifacts.WriteMask(dataURL)
			if err != nil {
				return nil, fmt.Errorf("photo %s: %w", photoID, err)
			}
			a.maskPath = path
		}
		admissions = append(admissions, a)
	}

	created := make([]*models.Job, 0, len(admissions))
	s.mu.Lock()
	for _, a := range admissions {
		job := &models.Job{
			ID:               common.NewJobID(),
			PhotoID:          a.photo.ID,
			PhotoName:        a.photo.Name,
			Steps:            append([]models.StageKey(nil), req.Steps...),
			Options:          copyOptions(req.Options),
			Status:           models.JobStatusPending,
			Priority:         s.nextPriority,
			CreatedAt:        time.Now(),
			FailedStepIndex:  -1,
			OriginalPath:     s.photos.Path(a.photo),
			CurrentInputPath: s.photos.Path(a.photo),
			CropRect:         a.cropRect,
			MaskPath:         a.maskPath,
			StepResults:      []models.StepResult{},
		}
		s.nextPriority++
		s.jobs[job.ID] = job
		created = append(created, job.Clone())

		s.logger.Info().
			Str("job_id", job.ID).
			Str("photo_id", job.PhotoID).
			Int("steps", len(job.Steps)).
			Msg("Job created")
	}
	paused := s.dispatchLocked()
	s.mu.Unlock()

	for _, pid := range paused {
		s.publishJob(pid)
	}
	s.publishQueueChanged()
	return created, nil
}

// Jobs returns a snapshot of every job, ordered for the queue view:
// waiting_input first, then processing, pending by priority, and finally
// terminal jobs newest first. Listing is the client liveness signal, so it
// also refreshes the heartbeat.
func (s *Service) Jobs() []*models.Job {
	s.Heartbeat()

	s.mu.Lock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		ri, rk := statusRank(out[i].Status), statusRank(out[k].Status)
		if ri != rk {
			return ri < rk
		}
		switch out[i].Status {
		case models.JobStatusPending:
			return out[i].Priority < out[k].Priority
		case models.JobStatusWaitingInput, models.JobStatusProcessing:
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		default:
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
	})
	return out
}

func statusRank(s models.JobStatus) int {
	switch s {
	case models.JobStatusWaitingInput:
		return 0
	case models.JobStatusProcessing:
		return 1
	case models.JobStatusPending:
		return 2
	default:
		return 3
	}
}

// Get returns a snapshot of one job.
func (s *Service) Get(id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// SubmitInput stores the user's crop rectangle or mask on a waiting job and
// resumes its pipeline.
func (s *Service) SubmitInput(id, cropRect, maskDataURL string) error {
	var maskPath string
	if maskDataURL != "" {
		path, err := s.artifacts.WriteMask(maskDataURL)
		if err != nil {
			return err
		}
		maskPath = path
	}

	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		s.artifacts.Remove(maskPath)
		return ErrJobNotFound
	}
	if j.Status != models.JobStatusWaitingInput {
		s.mu.Unlock()
		s.artifacts.Remove(maskPath)
		return ErrIllegalTransition
	}

	if j.WaitingStep == models.StageCrop && cropRect != "" {
		j.CropRect = cropRect
	}
	if j.WaitingStep == models.StageInpaint && maskPath != "" {
		s.artifacts.Remove(j.MaskPath)
		j.MaskPath = maskPath
		maskPath = ""
	}
	s.resumeLocked(j)
	s.mu.Unlock()

	// Mask written but not consumed (wrong waiting stage).
	s.artifacts.Remove(maskPath)

	s.dispatch()
	return nil
}

// SkipStep advances a waiting job past its current manual stage.
func (s *Service) SkipStep(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.Status != models.JobStatusWaitingInput {
		s.mu.Unlock()
		return ErrIllegalTransition
	}

	j.ResumeFromStep++
	s.resumeLocked(j)
	s.mu.Unlock()

	s.dispatch()
	return nil
}

// Rewind sends a waiting job back to its closest earlier manual stage,
// discarding the results and consumed inputs of everything after it.
func (s *Service) Rewind(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.Status != models.JobStatusWaitingInput {
		s.mu.Unlock()
		return ErrIllegalTransition
	}

	target := -1
	for t := j.ResumeFromStep - 1; t >= 0; t-- {
		if s.registry.IsManual(j.Steps[t]) {
			target = t
			break
		}
	}
	if target < 0 {
		s.mu.Unlock()
		return ErrNoPreviousManualStep
	}

	var staleMask string
	for i := target; i < len(j.Steps); i++ {
		switch j.Steps[i] {
		case models.StageCrop:
			j.CropRect = ""
		case models.StageInpaint:
			staleMask = j.MaskPath
			j.MaskPath = ""
		}
	}
	j.StepResults = j.StepResults[:target]
	if len(j.StepResults) > 0 {
		j.CurrentInputPath = s.artifacts.PathForURL(j.StepResults[len(j.StepResults)-1].OutputURL)
	} else {
		j.CurrentInputPath = j.OriginalPath
	}
	j.ResumeFromStep = target
	s.resumeLocked(j)
	s.mu.Unlock()

	s.artifacts.Remove(staleMask)
	s.dispatch()
	return nil
}

// Retry re-runs the failed stage, optionally with a different model.
func (s *Service) Retry(id, model string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.Status != models.JobStatusFailed {
		s.mu.Unlock()
		return ErrIllegalTransition
	}
	if model != "" && j.FailedStep != "" {
		if !s.registry.HasModel(j.FailedStep, model) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s/%s", ErrUnknownModel, j.FailedStep, model)
		}
		if j.Options == nil {
			j.Options = make(map[models.StageKey]string)
		}
		j.Options[j.FailedStep] = model
	}

	j.ResumeFromStep = j.FailedStepIndex
	clearFailure(j)
	s.resumeLocked(j)
	s.mu.Unlock()

	s.dispatch()
	return nil
}

// SkipFailed abandons the failed stage and continues with the next one, or
// completes the job when the failed stage was the last.
func (s *Service) SkipFailed(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.Status != models.JobStatusFailed {
		s.mu.Unlock()
		return ErrIllegalTransition
	}

	next := j.FailedStepIndex + 1
	clearFailure(j)
	if next >= len(j.Steps) {
		j.ResumeFromStep = len(j.Steps)
		s.completeLocked(j)
		s.mu.Unlock()
		s.publishJob(j.ID)
		s.dispatch()
		return nil
	}

	j.ResumeFromStep = next
	s.resumeLocked(j)
	s.mu.Unlock()

	s.dispatch()
	return nil
}

// Cancel stops one active job, killing its worker if one is live.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if !j.Status.IsActive() {
		s.mu.Unlock()
		return ErrIllegalTransition
	}
	s.cancelLocked(j)
	s.mu.Unlock()

	s.invoker.Cancel(id)
	s.publishJob(id)
	s.dispatch()
	return nil
}

// CancelAll cancels every active job and returns how many it touched.
func (s *Service) CancelAll() int {
	s.mu.Lock()
	cancelled := make([]string, 0)
	for _, j := range s.jobs {
		if j.Status.IsActive() {
			s.cancelLocked(j)
			cancelled = append(cancelled, j.ID)
		}
	}
	s.mu.Unlock()

	for _, id := range cancelled {
		s.invoker.Cancel(id)
		s.publishJob(id)
	}
	if len(cancelled) > 0 {
		s.dispatch()
	}
	return len(cancelled)
}

// Reorder reassigns pending priorities to match the given order. Ids that
// are unknown or no longer pending are ignored; they may have advanced
// between the client's click and this request.
func (s *Service) Reorder(ids []string) {
	s.mu.Lock()
	for pos, id := range ids {
		if j, ok := s.jobs[id]; ok && j.Status == models.JobStatusPending {
			j.Priority = pos
		}
	}
	paused := s.dispatchLocked()
	s.mu.Unlock()

	for _, pid := range paused {
		s.publishJob(pid)
	}
	s.publishQueueChanged()
}

// SetMaxConcurrent adjusts the compute-slot capacity within [1, limit].
// Out-of-range values are silently ignored.
func (s *Service) SetMaxConcurrent(v int) {
	s.mu.Lock()
	if v < 1 || v > s.maxLimit {
		s.mu.Unlock()
		return
	}
	s.maxConcurrent = v
	paused := s.dispatchLocked()
	s.mu.Unlock()

	for _, pid := range paused {
		s.publishJob(pid)
	}
	s.publishQueueChanged()
}

// MaxConcurrent returns the current slot capacity and its upper bound.
func (s *Service) MaxConcurrent() (current, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent, s.maxLimit
}

// PurgeDanglingJobs drops terminal jobs whose result artifact was swept.
// Called by the cleanup sweeper.
func (s *Service) PurgeDanglingJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, j := range s.jobs {
		if !j.Status.IsTerminal() || j.Result == "" {
			continue
		}
		if !s.artifacts.Exists(s.artifacts.PathForURL(j.Result)) {
			delete(s.jobs, id)
			purged++
		}
	}
	return purged
}

// resumeLocked flips a suspended job back to processing and hands it a
// fresh pipeline goroutine. Caller holds the lock.
func (s *Service) resumeLocked(j *models.Job) {
	j.Status = models.JobStatusProcessing
	j.WaitingStep = ""
	j.WaitingImage = ""
	updateCanGoBack(s.registry, j)
	go s.runPipeline(j.ID)
}

func (s *Service) cancelLocked(j *models.Job) {
	j.Status = models.JobStatusCancelled
	j.CurrentStep = ""
	j.WaitingStep = ""
	j.WaitingImage = ""

	s.logger.Info().Str("job_id", j.ID).Msg("Job cancelled")
}

func clearFailure(j *models.Job) {
	j.Error = ""
	j.FailedStep = ""
	j.FailedStepIndex = -1
}

func copyOptions(options map[models.StageKey]string) map[models.StageKey]string {
	if options == nil {
		return nil
	}
	out := make(map[models.StageKey]string, len(options))
	for k, v := range options {
		out[k] = v
	}
	return out
}

// updateCanGoBack recomputes the derived rewind affordance: an earlier
// stage in Steps is manual.
func updateCanGoBack(registry *stages.Registry, j *models.Job) {
	j.CanGoBack = false
	for t := 0; t < j.ResumeFromStep && t < len(j.Steps); t++ {
		if registry.IsManual(j.Steps[t]) {
			j.CanGoBack = true
			return
		}
	}
}

// publishJob emits a job_status event with a snapshot of the job.
func (s *Service) publishJob(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	var snapshot *models.Job
	if ok {
		snapshot = j.Clone()
	}
	s.mu.Unlock()

	if snapshot == nil {
		return
	}
	_ = s.events.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobStatus,
		Payload: snapshot,
	})
}

func (s *Service) publishQueueChanged() {
	_ = s.events.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventQueueChanged,
	})
}
