// Package status answers the environment probe: whether the worker
// installation is usable and what the bootstrap is currently doing. The
// bootstrap itself runs out of process; this service only reads the files
// it leaves behind.
package status

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/common"
)

// Report is the GET /status payload.
type Report struct {
	AIReady      bool   `json:"aiReady"`
	Device       string `json:"device"`
	SetupRunning bool   `json:"setupRunning"`
	SetupStatus  string `json:"setupStatus"`
	SetupError   string `json:"setupError"`
}

// Service probes the worker environment on demand. Stateless apart from the
// configured paths.
type Service struct {
	venvDir  string
	setupDir string
	logger   arbor.ILogger
}

// NewService creates a status service from configuration.
func NewService(cfg *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		venvDir:  cfg.Paths.Venv,
		setupDir: cfg.Paths.Setup,
		logger:   logger,
	}
}

// AIReady reports whether the worker virtualenv is present. Job creation is
// refused while this is false.
func (s *Service) AIReady() bool {
	info, err := os.Stat(s.venvDir)
	return err == nil && info.IsDir()
}

// Report assembles the full environment probe.
func (s *Service) Report() Report {
	return Report{
		AIReady:      s.AIReady(),
		Device:       s.device(),
		SetupRunning: s.setupRunning(),
		SetupStatus:  s.readSetupFile("setup.log"),
		SetupError:   s.readSetupFile("setup.err"),
	}
}

// device returns the compute device recorded by the bootstrap, "cpu" when
// the bootstrap never wrote one.
func (s *Service) device() string {
	data, err := os.ReadFile(filepath.Join(s.setupDir, "device"))
	if err != nil {
		return "cpu"
	}
	device := strings.TrimSpace(string(data))
	if device == "" {
		return "cpu"
	}
	return device
}

// setupRunning reports whether the pid recorded in setup.pid is still alive.
// A stale pid file from a crashed bootstrap reads as not running.
func (s *Service) setupRunning() bool {
	data, err := os.ReadFile(filepath.Join(s.setupDir, "setup.pid"))
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// readSetupFile returns the last line of a bootstrap status file, "" when
// absent. The bootstrap appends one progress line per phase.
func (s *Service) readSetupFile(name string) string {
	data, err := os.ReadFile(filepath.Join(s.setupDir, name))
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
