// Package cleanup evicts aged artifacts and the records that pointed at
// them. Restoration outputs are meant to be downloaded promptly; anything
// older than the retention bound is garbage.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/services/artifacts"
	"github.com/bpasse/patine/internal/services/photos"
	"github.com/bpasse/patine/internal/services/scheduler"
)

// Service sweeps the artifact directories on a cron schedule.
type Service struct {
	artifacts *artifacts.Service
	photos    *photos.Service
	scheduler *scheduler.Service
	logger    arbor.ILogger

	interval time.Duration
	maxAge   time.Duration
	cron     *cron.Cron
}

// NewService creates the sweeper.
func NewService(
	cfg *common.Config,
	store *artifacts.Service,
	photoCatalog *photos.Service,
	sched *scheduler.Service,
	logger arbor.ILogger,
) *Service {
	return &Service{
		artifacts: store,
		photos:    photoCatalog,
		scheduler: sched,
		logger:    logger,
		interval:  cfg.Cleanup.Interval,
		maxAge:    cfg.Cleanup.MaxAge,
		cron:      cron.New(),
	}
}

// Start schedules the periodic sweep.
func (s *Service) Start() error {
	expr := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(expr, s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	s.cron.Start()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("max_age", s.maxAge).
		Msg("Cleanup sweeper started")

	return nil
}

// Stop halts the schedule; an in-flight sweep finishes.
func (s *Service) Stop() {
	s.cron.Stop()
}

// Sweep deletes aged files under uploads and results, then purges photo
// records whose file is gone and terminal jobs whose result no longer
// resolves. Per-file errors are swallowed; a failed unlink just means the
// file gets another chance next pass.
func (s *Service) Sweep() {
	cutoff := time.Now().Add(-s.maxAge)

	removed := 0
	for _, dir := range []string{s.artifacts.UploadsDir(), s.artifacts.ResultsDir()} {
		removed += s.sweepDir(dir, cutoff)
	}

	purgedPhotos := s.photos.PurgeMissing()
	purgedJobs := s.scheduler.PurgeDanglingJobs()

	if removed > 0 || purgedPhotos > 0 || purgedJobs > 0 {
		s.logger.Info().
			Int("files_removed", removed).
			Int("photos_purged", purgedPhotos).
			Int("jobs_purged", purgedJobs).
			Msg("Cleanup sweep finished")
	}
}

func (s *Service) sweepDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == ".gitkeep" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}
