// Command jstats runs the collection service: a job queue worker, the daily
// schedule, the REST API and the websocket progress feed.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/fortuna/jstats/internal/api/rest"
	"github.com/fortuna/jstats/internal/api/websocket"
	"github.com/fortuna/jstats/internal/app"
	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/config"
	"github.com/fortuna/jstats/internal/export"
	"github.com/fortuna/jstats/internal/logging"
	"github.com/fortuna/jstats/internal/publisher"
	"github.com/fortuna/jstats/internal/scheduler"
	"github.com/fortuna/jstats/internal/store"
	"github.com/fortuna/jstats/internal/store/repository"
)

const (
	serviceName    = "jstats"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load(viper.New())
	if err != nil {
		logging.NewConsole(logging.ParseLevel("info")).Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Info("starting", "service", serviceName, "version", serviceVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cat, err := app.LoadCatalog(cfg)
	if err != nil {
		return err
	}

	f, err := app.NewFetcher(cfg, logger)
	if err != nil {
		return err
	}
	defer f.Close()

	checks := map[string]rest.HealthFunc{}
	sinks := []collector.Sink{export.NewCSVSink(cfg.OutputDir, logger)}

	var (
		jobs   collector.JobStore = collector.NewMemoryJobStore()
		tables rest.TableReader
	)
	if cfg.DatabaseURL != "" {
		db, err := store.NewDatabase(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("connected to database")

		if cfg.RunMigrations {
			if err := db.RunMigrations(); err != nil {
				return err
			}
		}

		tableRepo := repository.NewTableRepository(db)
		jobs = repository.NewJobRepository(db)
		tables = tableRepo
		sinks = append(sinks, tableRepo)
		checks["database"] = db.HealthCheck
	} else {
		logger.Warn("no database configured, jobs are kept in memory")
	}

	var pub *publisher.RedisStreamPublisher
	if f.Cache != nil {
		pub = publisher.NewRedisStreamPublisher(f.Cache.Client(), logger)
		sinks = append(sinks, pub)
		checks["redis"] = f.Cache.HealthCheck
	}

	runner := app.NewRunner(cfg, f, cat, logger, sinks...)
	svc := collector.NewService(jobs, runner, logger)

	wsServer := websocket.NewServer(logger)
	svc.Subscribe(wsServer.Listener())
	if pub != nil {
		svc.Subscribe(pub.Listener())
		go pub.Run(ctx)
	}
	svc.Start()

	schedCfg, err := cfg.ScheduleConfig()
	if err != nil {
		return err
	}
	sched := scheduler.NewOrchestrator(svc, schedCfg, logger)
	go sched.Start(ctx)

	handler := rest.NewHandler(rest.HandlerConfig{
		Catalog:       cat,
		Teams:         f.Source,
		Tables:        tables,
		Collections:   svc,
		Checks:        checks,
		DefaultSeason: cfg.Season,
		Version:       serviceVersion,
		Logger:        logger,
	})
	restServer := rest.NewServer(cfg.APIPort, handler, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("rest api listening", "port", cfg.APIPort)
		if err := restServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := wsServer.Start(ctx, cfg.WSPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server stopped", "error", runErr)
	}

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rest shutdown", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("collector shutdown", "error", err)
	}
	if pub != nil {
		pub.Close()
	}

	logger.Info("stopped", "service", serviceName)
	return runErr
}
