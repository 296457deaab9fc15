package invoker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpasse/patine/internal/common"
)

// newTestService builds an invoker that runs shell scripts instead of
// Python workers; the process contract is identical.
func newTestService(t *testing.T, timeout time.Duration) *Service {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Workers.Python = "/bin/sh"
	cfg.Workers.Timeout = timeout
	cfg.Workers.MaxOutputMB = 1
	cfg.Paths.Scripts = t.TempDir()

	return NewService(cfg, common.GetLogger())
}

func writeScript(t *testing.T, s *Service, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.scriptsDir, name), []byte(body), 0755))
}

func TestInvokeReturnsTrimmedStdout(t *testing.T) {
	s := newTestService(t, time.Minute)
	writeScript(t, s, "ok.sh", "echo \"  result line  \"\n")

	out, err := s.Invoke(context.Background(), "ok.sh", nil, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "result line", string(out))
}

func TestInvokePassesArguments(t *testing.T) {
	s := newTestService(t, time.Minute)
	writeScript(t, s, "args.sh", "echo \"$1|$2|$3\"\n")

	out, err := s.Invoke(context.Background(), "args.sh", []string{"in.png", "out.png", "10,10,200,200"}, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "in.png|out.png|10,10,200,200", string(out))
}

func TestInvokeNonZeroExitCarriesStderr(t *testing.T) {
	s := newTestService(t, time.Minute)
	writeScript(t, s, "fail.sh", "echo \"model weights not found\" >&2\nexit 3\n")

	_, err := s.Invoke(context.Background(), "fail.sh", nil, "job-1")
	require.Error(t, err)

	var workerErr *WorkerError
	require.True(t, errors.As(err, &workerErr))
	assert.Equal(t, "fail.sh", workerErr.Script)
	assert.Equal(t, "model weights not found", workerErr.Message)
}

func TestInvokeNonZeroExitWithoutStderr(t *testing.T) {
	s := newTestService(t, time.Minute)
	writeScript(t, s, "silent.sh", "exit 7\n")

	_, err := s.Invoke(context.Background(), "silent.sh", nil, "job-1")
	require.Error(t, err)

	var workerErr *WorkerError
	require.True(t, errors.As(err, &workerErr))
	assert.NotEmpty(t, workerErr.Message)
}

func TestInvokeTimeout(t *testing.T) {
	s := newTestService(t, 100*time.Millisecond)
	writeScript(t, s, "slow.sh", "sleep 30\n")

	start := time.Now()
	_, err := s.Invoke(context.Background(), "slow.sh", nil, "job-1")
	assert.ErrorIs(t, err, ErrWorkerTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Empty(t, s.RunningJobs())
}

func TestInvokeOutputOverflow(t *testing.T) {
	s := newTestService(t, time.Minute)
	// 2 MiB of output against a 1 MiB cap.
	writeScript(t, s, "noisy.sh", "head -c 2097152 /dev/zero | tr '\\0' 'a'\n")

	_, err := s.Invoke(context.Background(), "noisy.sh", nil, "job-1")
	assert.ErrorIs(t, err, ErrWorkerOutputOverflow)
}

func TestInvokeContextCancellation(t *testing.T) {
	s := newTestService(t, time.Minute)
	writeScript(t, s, "slow.sh", "sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := s.Invoke(ctx, "slow.sh", nil, "job-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelKillsRegisteredWorker(t *testing.T) {
	s := newTestService(t, time.Minute)
	writeScript(t, s, "slow.sh", "sleep 30\n")

	done := make(chan error, 1)
	go func() {
		_, err := s.Invoke(context.Background(), "slow.sh", nil, "job-victim")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return len(s.RunningJobs()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	s.Cancel("job-victim")

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after cancel")
	}
	assert.Empty(t, s.RunningJobs())
}

func TestCancelUnknownJobIsNoop(t *testing.T) {
	s := newTestService(t, time.Minute)
	s.Cancel("no-such-job")
}

func TestRunningJobsDeregisteredAfterExit(t *testing.T) {
	s := newTestService(t, time.Minute)
	writeScript(t, s, "ok.sh", "echo done\n")

	_, err := s.Invoke(context.Background(), "ok.sh", nil, "job-1")
	require.NoError(t, err)
	assert.Empty(t, s.RunningJobs())
}
