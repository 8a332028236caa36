package app

import (
	"context"
	"fmt"
	"time"

	"github.com/releaserelay/release_layer/internal/app/dialog"
	"github.com/releaserelay/release_layer/internal/app/metrics"
	"github.com/releaserelay/release_layer/internal/app/services/ingest"
	"github.com/releaserelay/release_layer/internal/app/services/registry"
	releasesvc "github.com/releaserelay/release_layer/internal/app/services/releases"
	"github.com/releaserelay/release_layer/internal/app/storage"
	"github.com/releaserelay/release_layer/internal/app/storage/memory"
	"github.com/releaserelay/release_layer/internal/app/system"
	"github.com/releaserelay/release_layer/internal/middleware"
	"github.com/releaserelay/release_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Applications storage.ApplicationStore
	Releases     storage.ReleaseStore
}

// Options carries the tunables the services need beyond their stores.
type Options struct {
	DataDir  string
	HostName string
	AuditLog string

	RateWindow  time.Duration
	RateTTL     time.Duration
	SweepEvery  time.Duration
	DialogIdle  time.Duration
	DialogSweep time.Duration

	// Announcer receives published releases. Nil falls back to log output.
	Announcer ingest.Announcer
	// Prompter delivers dialog questions. Nil falls back to log output.
	Prompter dialog.Prompter
}

// Application ties the release services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Registry *registry.Service
	Releases *releasesvc.Service
	Ingest   *ingest.Service
	Dialogs  *dialog.Flows
	Limiter  *middleware.RateLimiter

	HostName string
	AuditLog string
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Applications == nil {
		stores.Applications = mem
	}
	if stores.Releases == nil {
		stores.Releases = mem
	}

	manager := system.NewManager()

	registryService := registry.New(stores.Applications, log)
	releaseService := releasesvc.New(stores.Releases, log)
	ingestService := ingest.New(releaseService, opts.Announcer, metrics.IngestRecorder{}, opts.DataDir, log)

	prompter := opts.Prompter
	if prompter == nil {
		prompter = dialog.NewLogPrompter(log)
	}
	engine := dialog.NewEngine(prompter, opts.DialogIdle, opts.DialogSweep, log)
	flows := dialog.NewFlows(engine, registryService, releaseService, ingestService, log)

	limiter := middleware.NewRateLimiter(opts.RateWindow, opts.RateTTL, log)

	for _, svc := range []system.Service{
		dialog.NewSweeper(engine, log),
		middleware.NewLimiterSweeper(limiter, opts.SweepEvery, log),
	} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Registry: registryService,
		Releases: releaseService,
		Ingest:   ingestService,
		Dialogs:  flows,
		Limiter:  limiter,
		HostName: opts.HostName,
		AuditLog: opts.AuditLog,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
