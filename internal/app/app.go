package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/handlers"
	"github.com/bpasse/patine/internal/interfaces"
	"github.com/bpasse/patine/internal/services/artifacts"
	"github.com/bpasse/patine/internal/services/cleanup"
	"github.com/bpasse/patine/internal/services/events"
	"github.com/bpasse/patine/internal/services/invoker"
	"github.com/bpasse/patine/internal/services/photos"
	"github.com/bpasse/patine/internal/services/scheduler"
	"github.com/bpasse/patine/internal/services/status"
	"github.com/bpasse/patine/internal/stages"
)

// App holds all application components and dependencies.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Core services
	ArtifactService  *artifacts.Service
	InvokerService   *invoker.Service
	PhotoService     *photos.Service
	StageRegistry    *stages.Registry
	SchedulerService *scheduler.Service
	CleanupService   *cleanup.Service
	StatusService    *status.Service
	EventService     interfaces.EventService

	// HTTP handlers
	PhotoHandler    *handlers.PhotoHandler
	JobHandler      *handlers.JobHandler
	SettingsHandler *handlers.SettingsHandler
	StatusHandler   *handlers.StatusHandler
	WSHandler       *handlers.WebSocketHandler
}

// New wires the application together, leaves first.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	artifactService, err := artifacts.NewService(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	a.ArtifactService = artifactService

	a.EventService = events.NewService(logger)
	a.InvokerService = invoker.NewService(config, logger)
	a.PhotoService = photos.NewService(artifactService, a.InvokerService, logger)
	a.StageRegistry = stages.NewRegistry()
	a.StatusService = status.NewService(config, logger)

	a.SchedulerService = scheduler.NewService(
		config,
		a.StageRegistry,
		artifactService,
		a.PhotoService,
		a.InvokerService,
		a.EventService,
		a.StatusService.AIReady,
		logger,
	)

	a.CleanupService = cleanup.NewService(config, artifactService, a.PhotoService, a.SchedulerService, logger)

	a.PhotoHandler = handlers.NewPhotoHandler(a.PhotoService, logger)
	a.JobHandler = handlers.NewJobHandler(a.SchedulerService, a.StageRegistry, logger)
	a.SettingsHandler = handlers.NewSettingsHandler(a.SchedulerService, logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger)

	return a, nil
}

// Start launches the background services.
func (a *App) Start() error {
	a.SchedulerService.StartHeartbeatMonitor()
	if err := a.CleanupService.Start(); err != nil {
		return err
	}
	return nil
}

// Shutdown stops background work and cancels whatever is still running.
func (a *App) Shutdown() {
	a.CleanupService.Stop()
	a.SchedulerService.Stop()

	if n := a.SchedulerService.CancelAll(); n > 0 {
		a.Logger.Info().Int("cancelled", n).Msg("Cancelled active jobs on shutdown")
	}
	a.EventService.Close()
}
