package interfaces

import "context"

// WorkerInvoker runs one external worker process per call. Implementations
// keep a table of live processes keyed by job ID so cancellation can reach
// an in-flight worker; they know nothing about stages.
type WorkerInvoker interface {
	// Invoke spawns the interpreter on script with args appended, waits for
	// exit and returns trimmed stdout. Timeout, output-cap and non-zero-exit
	// failures are reported as typed errors.
	Invoke(ctx context.Context, script string, args []string, jobID string) ([]byte, error)

	// Cancel sends a graceful termination signal to the worker registered
	// for jobID. No-op when no process is registered.
	Cancel(jobID string)

	// RunningJobs returns the job IDs with a live worker process.
	RunningJobs() []string
}
