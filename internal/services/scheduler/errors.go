package scheduler

import "errors"

var (
	// ErrJobNotFound is returned for lookups of unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrIllegalTransition is returned when an operation is not valid for
	// the job's current status. State is left untouched.
	ErrIllegalTransition = errors.New("operation not valid in current job state")
	// ErrNoPreviousManualStep is returned by rewind when no earlier manual
	// stage exists.
	ErrNoPreviousManualStep = errors.New("no previous manual step")
	// ErrUnknownStage is returned at creation for a step key outside the
	// registered, exposed catalog.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrUnknownModel is returned by retry for a model the failed stage
	// does not declare.
	ErrUnknownModel = errors.New("unknown model for stage")
	// ErrNotReady is returned at creation while the worker environment is
	// not installed.
	ErrNotReady = errors.New("worker environment not ready")
)
