package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusWaitingInput JobStatus = "waiting_input"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// IsTerminal returns true for states a job can never leave on its own.
// A failed job is not terminal for the user (retry/skip-failed) but the
// scheduler will not touch it again without an explicit request.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive returns true while the job still occupies scheduler attention.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusWaitingInput
}

// StepResult records one completed stage and the URL of its output image.
type StepResult struct {
	Step      StageKey `json:"step"`
	OutputURL string   `json:"outputUrl"`
}

// Job is the unit of scheduling: one photo pushed through an ordered
// pipeline of stages. All runtime state lives in memory; the scheduler
// is the single writer, handlers read snapshots.
type Job struct {
	ID        string `json:"id"`
	PhotoID   string `json:"photoId"`
	PhotoName string `json:"photoName"` // Snapshot of the display name; survives photo deletion

	Steps   []StageKey            `json:"steps"` // Fixed at creation
	Options map[StageKey]string   `json:"options,omitempty"`

	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"` // Percent [0,100]
	CurrentStep StageKey  `json:"currentStep,omitempty"`

	WaitingStep  StageKey `json:"waitingStep,omitempty"`
	WaitingImage string   `json:"waitingImage,omitempty"` // URL of the image the human editor should see
	CanGoBack    bool     `json:"canGoBack"`              // Derived: an earlier stage in Steps is manual

	ResumeFromStep int          `json:"resumeFromStep"`
	StepResults    []StepResult `json:"stepResults"`

	Priority  int       `json:"priority"` // Lower runs earlier among pending jobs
	CreatedAt time.Time `json:"createdAt"`

	Result          string   `json:"result,omitempty"`
	Error           string   `json:"error,omitempty"`
	FailedStep      StageKey `json:"failedStep,omitempty"`
	FailedStepIndex int      `json:"failedStepIndex"` // -1 unless Status is failed

	// Filesystem state, never serialized.
	OriginalPath     string `json:"-"` // The photo's upload at creation time
	CurrentInputPath string `json:"-"` // Input for the next stage
	CropRect         string `json:"-"` // Opaque crop string, consumed by the crop stage
	MaskPath         string `json:"-"` // User-painted mask file, consumed by the inpaint stage
}

// Clone returns a deep copy safe to hand to readers outside the
// scheduler lock.
func (j *Job) Clone() *Job {
	c := *j
	c.Steps = append([]StageKey(nil), j.Steps...)
	c.StepResults = append([]StepResult(nil), j.StepResults...)
	if j.Options != nil {
		c.Options = make(map[StageKey]string, len(j.Options))
		for k, v := range j.Options {
			c.Options[k] = v
		}
	}
	return &c
}

// SelectedModel resolves the model variant for a stage, empty when the
// stage has no variants or none was chosen.
func (j *Job) SelectedModel(stage StageKey) string {
	if j.Options == nil {
		return ""
	}
	return j.Options[stage]
}
