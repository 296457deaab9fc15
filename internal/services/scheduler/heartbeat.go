package scheduler

import (
	"time"

	"github.com/bpasse/patine/internal/models"
)

// heartbeatPollInterval is how often the monitor checks for a silent client.
const heartbeatPollInterval = 5 * time.Second

// Heartbeat marks the controlling client as alive. Refreshed by every
// job-list query; the UI polls that endpoint while it is open.
func (s *Service) Heartbeat() {
	s.lastHeartbeat.Store(time.Now().UnixNano())
}

// StartHeartbeatMonitor launches the liveness watchdog. When the client
// stops polling, expensive compute should stop too.
func (s *Service) StartHeartbeatMonitor() {
	go func() {
		ticker := time.NewTicker(heartbeatPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopHeartbeat:
				return
			case <-ticker.C:
				s.checkHeartbeat()
			}
		}
	}()

	s.logger.Info().
		Dur("timeout", s.heartbeatTimeout).
		Msg("Heartbeat monitor started")
}

// Stop halts the heartbeat monitor. Idempotent.
func (s *Service) Stop() {
	s.heartbeatOnce.Do(func() { close(s.stopHeartbeat) })
}

// checkHeartbeat cancels pending and processing jobs once the client has
// been silent past the timeout. Jobs in waiting_input are left alone; they
// hold no worker.
func (s *Service) checkHeartbeat() {
	last := time.Unix(0, s.lastHeartbeat.Load())
	if time.Since(last) < s.heartbeatTimeout {
		return
	}

	s.mu.Lock()
	var cancelled []string
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending || j.Status == models.JobStatusProcessing {
			s.cancelLocked(j)
			cancelled = append(cancelled, j.ID)
		}
	}
	s.mu.Unlock()

	if len(cancelled) == 0 {
		return
	}

	s.logger.Warn().
		Int("count", len(cancelled)).
		Dur("silence", time.Since(last)).
		Msg("Client heartbeat lost, cancelling active jobs")

	for _, id := range cancelled {
		s.invoker.Cancel(id)
		s.publishJob(id)
	}
}
