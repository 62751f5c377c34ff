// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/catalogwatch/harvester/internal/clock"
	"github.com/catalogwatch/harvester/internal/config"
	"github.com/catalogwatch/harvester/internal/detect"
	"github.com/catalogwatch/harvester/internal/fetcher"
	"github.com/catalogwatch/harvester/internal/frontier"
	"github.com/catalogwatch/harvester/internal/harvest"
	"github.com/catalogwatch/harvester/internal/logging"
	"github.com/catalogwatch/harvester/internal/report"
	"github.com/catalogwatch/harvester/internal/store"
	"github.com/catalogwatch/harvester/internal/store/memory"
	"github.com/catalogwatch/harvester/internal/store/postgres"
)

// App holds the shared, long-lived services for the application: the logger,
// the record store, and the loaded configuration. It is initialized once at
// startup and passed to the commands that need it.
type App struct {
	logger *zap.Logger
	store  store.Store
	cfg    config.Config
	clock  clock.Clock
}

// NewApp loads configuration from configPath (optional) and initializes all
// services, failing fast when any cannot be built.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	logger.Info("initializing application services",
		zap.String("db_provider", cfg.DB.Provider),
	)

	st, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		logger: logger,
		store:  st,
		cfg:    cfg,
		clock:  clock.NewMonotonic(clock.System{}),
	}, nil
}

func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.DB.Provider {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: cfg.ConnLifetime(),
		})
	default:
		return nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}
}

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the configured record store and change log.
func (a *App) Store() store.Store {
	return a.store
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// NewRunner wires a full crawl pipeline from the configured services.
func (a *App) NewRunner() (*harvest.Runner, error) {
	client, err := fetcher.New(fetcher.Config{
		UserAgent: a.cfg.Crawler.UserAgent,
		Timeout:   a.cfg.RequestTimeout(),
		Retry: fetcher.RetryPolicy{
			MaxAttempts: a.cfg.HTTP.MaxAttempts,
			BaseDelay:   a.cfg.BackoffInitial(),
			MaxDelay:    a.cfg.BackoffMax(),
		},
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	detector := detect.New(a.store, a.clock, a.logger)
	walker := frontier.New(client, a.cfg.Crawler.MaxPages, a.logger)
	pool := harvest.NewPool(client, detector, a.cfg.Crawler.Concurrency, a.logger)
	return harvest.NewRunner(walker, pool, a.clock, a.logger), nil
}

// NewReporter wires a change-report generator over the configured store.
func (a *App) NewReporter() *report.Generator {
	return report.New(a.store, a.cfg.Report.OutputDir, a.clock, a.logger)
}

// Close gracefully shuts down all services in the App container. It is
// called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.store.Close()
	// Flush buffered log entries; best effort on shutdown.
	_ = a.logger.Sync()
}
