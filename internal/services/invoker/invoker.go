package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/common"
)

var (
	// ErrWorkerTimeout is returned when a worker exceeds the per-invocation ceiling.
	ErrWorkerTimeout = errors.New("worker timed out")
	// ErrWorkerOutputOverflow is returned when captured output exceeds the cap.
	ErrWorkerOutputOverflow = errors.New("worker output exceeded limit")
)

// WorkerError reports a worker that exited non-zero. Message carries stderr
// when the worker produced any, otherwise the runtime error.
type WorkerError struct {
	Script  string
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s failed: %s", e.Script, e.Message)
}

// Service spawns external worker processes. The only state is the table of
// live processes keyed by job ID, used by Cancel; everything else is
// per-invocation.
type Service struct {
	python     string
	scriptsDir string
	timeout    time.Duration
	maxOutput  int64
	logger     arbor.ILogger

	mu      sync.Mutex
	running map[string]*os.Process
}

// NewService creates a worker invoker from configuration.
func NewService(cfg *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		python:     cfg.Workers.Python,
		scriptsDir: cfg.Paths.Scripts,
		timeout:    cfg.Workers.Timeout,
		maxOutput:  int64(cfg.Workers.MaxOutputMB) * 1024 * 1024,
		logger:     logger,
		running:    make(map[string]*os.Process),
	}
}

// Invoke runs `python <script> <args...>` and returns trimmed stdout.
// The process handle is registered under jobID for the duration of the call
// so Cancel can reach it.
func (s *Service) Invoke(ctx context.Context, script string, args []string, jobID string) ([]byte, error) {
	scriptPath := script
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(s.scriptsDir, script)
	}

	cmd := exec.Command(s.python, append([]string{scriptPath}, args...)...)

	var stdout, stderr capBuffer
	stdout.limit = s.maxOutput
	stderr.limit = s.maxOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	overflowKill := func() {
		if p := cmd.Process; p != nil {
			_ = p.Kill()
		}
	}
	stdout.onOverflow = overflowKill
	stderr.onOverflow = overflowKill

	start := time.Now()
	s.logger.Debug().
		Str("job_id", jobID).
		Str("script", script).
		Strs("args", args).
		Msg("Spawning worker")

	if err := cmd.Start(); err != nil {
		return nil, &WorkerError{Script: script, Message: err.Error()}
	}

	s.register(jobID, cmd.Process)
	defer s.deregister(jobID)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(s.timeout):
		_ = cmd.Process.Kill()
		<-done
		s.logger.Warn().
			Str("job_id", jobID).
			Str("script", script).
			Dur("timeout", s.timeout).
			Msg("Worker killed after timeout")
		return nil, ErrWorkerTimeout
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return nil, ctx.Err()
	}

	if stdout.overflowed || stderr.overflowed {
		return nil, ErrWorkerOutputOverflow
	}

	if waitErr != nil {
		msg := string(bytes.TrimSpace(stderr.buf.Bytes()))
		if msg == "" {
			msg = waitErr.Error()
		}
		return nil, &WorkerError{Script: script, Message: msg}
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("script", script).
		Dur("duration", time.Since(start)).
		Msg("Worker finished")

	return bytes.TrimSpace(stdout.buf.Bytes()), nil
}

// Cancel sends a graceful termination signal to the worker registered for
// jobID. No-op when no process is registered; the invoker never kills by
// any other key.
func (s *Service) Cancel(jobID string) {
	s.mu.Lock()
	proc := s.running[jobID]
	s.mu.Unlock()

	if proc == nil {
		return
	}

	s.logger.Info().Str("job_id", jobID).Int("pid", proc.Pid).Msg("Terminating worker")
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone, or the platform refused the signal.
		_ = proc.Kill()
	}
}

// RunningJobs returns the job IDs that currently have a live worker.
func (s *Service) RunningJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) register(jobID string, proc *os.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = proc
}

func (s *Service) deregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// capBuffer accumulates writes up to limit bytes; past the limit it flags
// overflow, fires onOverflow once and swallows the rest.
type capBuffer struct {
	buf        bytes.Buffer
	limit      int64
	overflowed bool
	once       sync.Once
	onOverflow func()
}

func (b *capBuffer) Write(p []byte) (int, error) {
	if b.overflowed {
		return len(p), nil
	}
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		remaining := b.limit - int64(b.buf.Len())
		if remaining > 0 {
			b.buf.Write(p[:remaining])
		}
		b.overflowed = true
		if b.onOverflow != nil {
			b.once.Do(b.onOverflow)
		}
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}
