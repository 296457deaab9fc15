package scheduler

import (
	"context"
	"errors"

	"github.com/bpasse/patine/internal/models"
	"github.com/bpasse/patine/internal/services/invoker"
)

// runPipeline executes one job's stages in order on its own goroutine. All
// job mutation happens under the scheduler lock; the worker invocation is
// the only blocking section and runs outside it, with cancellation
// checkpoints on both sides.
func (s *Service) runPipeline(id string) {
	logger := s.logger.WithCorrelationId(id)

	for {
		s.mu.Lock()
		j, ok := s.jobs[id]
		if !ok || j.Status != models.JobStatusProcessing {
			s.mu.Unlock()
			return
		}

		i := j.ResumeFromStep
		if i >= len(j.Steps) {
			s.completeLocked(j)
			s.mu.Unlock()
			s.publishJob(id)
			s.dispatch()
			return
		}

		key := j.Steps[i]
		def, known := s.registry.Get(key)
		if !known {
			// Tolerate forward-compatible stage keys.
			j.ResumeFromStep = i + 1
			logger.Warn().
				Str("step", string(key)).
				Msg("Skipping unregistered stage")
			s.mu.Unlock()
			continue
		}

		if def.Manual && def.NeedsInput(j) {
			s.pauseLocked(j)
			s.mu.Unlock()
			s.publishJob(id)
			s.dispatch()
			return
		}

		j.CurrentStep = key
		j.Progress = progressAt(i, len(j.Steps))
		output := s.artifacts.StageOutputPath(j.PhotoName, def.Prefix, j.ID)
		model := j.SelectedModel(key)
		if model == "" {
			model = def.DefaultModel
		}
		script, argv := def.BuildArgs(j.CurrentInputPath, output, j, model)
		s.mu.Unlock()

		logger.Info().
			Str("step", string(key)).
			Str("script", script).
			Msg("Running stage")
		s.publishJob(id)

		if s.isCancelled(id) {
			return
		}
		_, invokeErr := s.invoker.Invoke(context.Background(), script, argv, id)

		s.mu.Lock()
		j, ok = s.jobs[id]
		if !ok {
			s.mu.Unlock()
			return
		}
		if j.Status == models.JobStatusCancelled {
			// Killed mid-invocation; discard whatever the worker wrote.
			s.mu.Unlock()
			return
		}
		if invokeErr != nil {
			s.failLocked(j, key, i, invokeErr)
			s.mu.Unlock()
			s.publishJob(id)
			s.dispatch()
			return
		}

		if def.OnComplete != nil {
			def.OnComplete(j, s.artifacts.Remove)
		}
		j.StepResults = append(j.StepResults, models.StepResult{
			Step:      key,
			OutputURL: s.artifacts.URLFor(output),
		})
		j.CurrentInputPath = output
		j.ResumeFromStep = i + 1
		updateCanGoBack(s.registry, j)
		s.mu.Unlock()

		s.publishJob(id)

		// Step boundary: a queued manual job may claim the input focus
		// while this one runs its next automatic stage.
		s.dispatch()
	}
}

func (s *Service) completeLocked(j *models.Job) {
	j.Status = models.JobStatusCompleted
	j.Progress = 100
	j.CurrentStep = ""
	j.WaitingStep = ""
	j.WaitingImage = ""
	if len(j.StepResults) > 0 {
		j.Result = j.StepResults[len(j.StepResults)-1].OutputURL
	}

	s.logger.Info().
		Str("job_id", j.ID).
		Int("steps", len(j.StepResults)).
		Msg("Job completed")
}

func (s *Service) failLocked(j *models.Job, step models.StageKey, index int, err error) {
	j.Status = models.JobStatusFailed
	j.CurrentStep = ""
	j.FailedStep = step
	j.FailedStepIndex = index
	j.Error = failureMessage(err)

	s.logger.Warn().
		Str("job_id", j.ID).
		Str("step", string(step)).
		Str("error", j.Error).
		Msg("Job failed")
}

// failureMessage flattens invoker errors into the user-facing form.
func failureMessage(err error) string {
	if errors.Is(err, invoker.ErrWorkerTimeout) {
		return "timeout"
	}
	var workerErr *invoker.WorkerError
	if errors.As(err, &workerErr) {
		return workerErr.Message
	}
	return err.Error()
}

func (s *Service) isCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	return ok && j.Status == models.JobStatusCancelled
}
