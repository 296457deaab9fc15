package scheduler

import (
	"sort"

	"github.com/bpasse/patine/internal/models"
	"github.com/bpasse/patine/internal/stages"
)

// dispatch re-evaluates admission. Safe to call from any goroutine; it is
// invoked on every state change and at every step boundary.
func (s *Service) dispatch() {
	s.mu.Lock()
	paused := s.dispatchLocked()
	s.mu.Unlock()

	for _, id := range paused {
		s.publishJob(id)
	}
}

// dispatchLocked walks the pending queue by priority and admits what the
// two resources allow: compute slots (capacity maxConcurrent) and the
// human-input focus (capacity 1).
//
// A job whose next stage is manual and lacks its input is parked in
// waiting_input right here, without consuming a slot; it only claims the
// input focus. The hasWaitingManual gate keeps a second manual job from
// racing for that focus. Returns the ids parked this pass so the caller
// can publish their transition outside the lock.
func (s *Service) dispatchLocked() []string {
	running := 0
	hasWaitingManual := false
	pending := make([]*models.Job, 0)
	for _, j := range s.jobs {
		switch j.Status {
		case models.JobStatusProcessing:
			running++
		case models.JobStatusWaitingInput:
			hasWaitingManual = true
		case models.JobStatusPending:
			pending = append(pending, j)
		}
	}

	sort.Slice(pending, func(i, k int) bool {
		return pending[i].Priority < pending[k].Priority
	})

	var paused []string
	slotsUsed := 0
	for _, j := range pending {
		if hasWaitingManual && s.hasManualSteps(j) {
			continue
		}

		if def := s.nextStage(j); def != nil && def.Manual && def.NeedsInput(j) {
			s.pauseLocked(j)
			hasWaitingManual = true
			paused = append(paused, j.ID)
			continue
		}

		if running+slotsUsed >= s.maxConcurrent {
			continue
		}
		slotsUsed++
		j.Status = models.JobStatusProcessing
		go s.runPipeline(j.ID)
	}
	return paused
}

// nextStage returns the definition of the job's next step, nil when the
// pipeline is exhausted or the key is unregistered.
func (s *Service) nextStage(j *models.Job) *stages.Definition {
	if j.ResumeFromStep >= len(j.Steps) {
		return nil
	}
	def, ok := s.registry.Get(j.Steps[j.ResumeFromStep])
	if !ok {
		return nil
	}
	return def
}

func (s *Service) hasManualSteps(j *models.Job) bool {
	for _, key := range j.Steps[min(j.ResumeFromStep, len(j.Steps)):] {
		if s.registry.IsManual(key) {
			return true
		}
	}
	return false
}

// pauseLocked parks a job in waiting_input on its current step. Caller
// holds the lock.
func (s *Service) pauseLocked(j *models.Job) {
	i := j.ResumeFromStep
	j.Status = models.JobStatusWaitingInput
	j.WaitingStep = j.Steps[i]
	j.WaitingImage = s.artifacts.URLFor(j.CurrentInputPath)
	j.CurrentStep = ""
	j.Progress = progressAt(i, len(j.Steps))
	updateCanGoBack(s.registry, j)

	s.logger.Info().
		Str("job_id", j.ID).
		Str("step", string(j.WaitingStep)).
		Msg("Job waiting for input")
}

func progressAt(i, total int) int {
	if total == 0 {
		return 100
	}
	return 100 * i / total
}
