// Package app wires the panel backend together and controls component
// lifecycle: cache, providers, run history, scheduler and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"epipanel/config"
	"epipanel/internal/cache"
	"epipanel/internal/history"
	"epipanel/internal/httpclient"
	"epipanel/internal/observability"
	"epipanel/internal/provider"
	"epipanel/internal/provider/datasus"
	"epipanel/internal/provider/ibge"
	"epipanel/internal/provider/synthetic"
	"epipanel/internal/scheduler"
	"epipanel/internal/server"
)

// App represents the panel backend with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config       *config.Config
	cache        cache.Store
	history      *history.Result
	orchestrator *scheduler.Orchestrator
	server       *server.Server
	cancelSched  context.CancelFunc

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates an App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{config: cfg}

	cacheStore, err := cache.NewFileStore(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = cacheStore

	historyResult, err := history.New(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize run history: %w", err)
	}
	app.history = historyResult

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	fetcher, err := buildFetcher(cfg)
	if err != nil {
		closeErr := app.history.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to build data provider: %w (also: history close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to build data provider: %w", err)
	}

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		closeErr := app.history.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("invalid refresh configuration: %w (also: history close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("invalid refresh configuration: %w", err)
	}

	orchestrator, err := scheduler.New(schedCfg, cacheStore, fetcher, historyResult.Store, metrics, logger)
	if err != nil {
		closeErr := app.history.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to create orchestrator: %w (also: history close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	app.orchestrator = orchestrator

	app.logStartupInfo(logger)

	// Boundary geometry is public reference data, not health data: demo
	// mode only swaps the dataset provider, the IBGE client stays live.
	ibgeClient := ibge.New(cfg.Providers.IBGELocalidades, cfg.Providers.IBGEMalhas, nil)

	handler := server.NewHandler(server.PanelInfo{
		MunicipalityCode: cfg.Municipality.Code,
		MunicipalityName: cfg.Municipality.Name,
		UF:               cfg.Municipality.UF,
		DemoMode:         cfg.DemoMode,
	}, cacheStore, historyResult.Store, orchestrator, ibgeClient, logger)

	app.server = server.New(handler, &server.Config{
		MetricsRegistry: registry,
	})

	return app, nil
}

// Orchestrator returns the refresh orchestrator.
func (a *App) Orchestrator() *scheduler.Orchestrator {
	return a.orchestrator
}

// StartScheduler arms the weekly refresh loop.
func (a *App) StartScheduler() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelSched = cancel
	a.orchestrator.Start(ctx)
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components: HTTP server first, then
// the scheduler loop, then the history storage. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.cancelSched != nil {
		a.cancelSched()
	}

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Error("history close error", "error", err)
			errs = append(errs, fmt.Errorf("history close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// buildFetcher picks the data provider: synthetic tables in demo mode,
// the DATASUS client otherwise.
func buildFetcher(cfg *config.Config) (provider.Fetcher, error) {
	if cfg.DemoMode {
		return synthetic.New(cfg.Municipality.Code, cfg.Municipality.Name, cfg.Municipality.UF), nil
	}
	if cfg.Providers.DATASUSBaseURL == "" {
		return nil, fmt.Errorf("datasus_base_url is required outside demo mode")
	}
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.FetchTimeout()
	return datasus.New(cfg.Providers.DATASUSBaseURL, httpclient.NewHTTPClient(&clientCfg)), nil
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	systems, err := cfg.Systems()
	if err != nil {
		return scheduler.Config{}, err
	}
	weekday, err := cfg.Weekday()
	if err != nil {
		return scheduler.Config{}, err
	}
	hour, minute, err := cfg.RefreshAt()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Municipality:     cfg.Municipality.Code,
		MunicipalityName: cfg.Municipality.Name,
		UF:               cfg.Municipality.UF,
		Systems:          systems,
		StartYear:        cfg.Refresh.StartYear,
		EndYear:          cfg.Refresh.EndYear,
		Retention:        cfg.Retention(),
		Weekday:          weekday,
		Hour:             hour,
		Minute:           minute,
		DemoMode:         cfg.DemoMode,
	}, nil
}

// logStartupInfo logs the effective configuration on startup.
func (a *App) logStartupInfo(logger *slog.Logger) {
	cfg := a.config

	if cfg.DemoMode {
		logger.Warn("demo mode enabled - serving synthetic data, no upstream calls will be made")
	} else {
		logger.Info("live mode", "datasus_base_url", cfg.Providers.DATASUSBaseURL)
	}

	logger.Info("panel configured",
		"municipality", cfg.Municipality.Code,
		"name", cfg.Municipality.Name,
		"uf", cfg.Municipality.UF,
		"systems", cfg.Refresh.Systems,
		"start_year", cfg.Refresh.StartYear,
		"retention_days", cfg.Refresh.RetentionDays,
	)
	logger.Info("storage configured", "type", cfg.Storage.Type)
	logger.Info("cache configured", "dir", cfg.Cache.Dir)
}
