// Package main is the entrypoint for the scouting report API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/kiranshivaraju/scoutreport/internal/analysis"
	"github.com/kiranshivaraju/scoutreport/internal/api"
	"github.com/kiranshivaraju/scoutreport/internal/api/handler"
	mw "github.com/kiranshivaraju/scoutreport/internal/api/middleware"
	"github.com/kiranshivaraju/scoutreport/internal/api/response"
	"github.com/kiranshivaraju/scoutreport/internal/apikey"
	"github.com/kiranshivaraju/scoutreport/internal/blob"
	"github.com/kiranshivaraju/scoutreport/internal/cache"
	"github.com/kiranshivaraju/scoutreport/internal/config"
	"github.com/kiranshivaraju/scoutreport/internal/events"
	"github.com/kiranshivaraju/scoutreport/internal/events/amqp"
	"github.com/kiranshivaraju/scoutreport/internal/pipeline"
	"github.com/kiranshivaraju/scoutreport/internal/queue"
	"github.com/kiranshivaraju/scoutreport/internal/render"
	"github.com/kiranshivaraju/scoutreport/internal/report"
	"github.com/kiranshivaraju/scoutreport/internal/store"
	"github.com/kiranshivaraju/scoutreport/internal/telemetry"
	"github.com/kiranshivaraju/scoutreport/internal/video"
)

const (
	shutdownTimeout = 30 * time.Second
	statusCacheTTL  = time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Telemetry and logging
	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.Server.LogLevel), cfg.Telemetry.ServiceName, providers)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"analysis_engine", cfg.Analysis.Engine,
		"blob_backend", cfg.Blob.Backend,
		"queue_backend", cfg.Queue.Backend,
		"telemetry", providers.Enabled())

	// 3. Connect to database and run migrations
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")
	pgStore := store.NewPostgresStore(pool)

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Artifact storage
	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}
	slog.Info("blob store ready", "backend", cfg.Blob.Backend, "bucket", cfg.Blob.Bucket)

	// 6. Pipeline collaborators
	videos := video.NewCachedClient(video.NewHTTPClient(cfg.Video.BaseURL, cfg.Video.Timeout), redisCache, cfg.Video.CacheTTL)

	engine, err := analysis.NewEngine(cfg.Analysis)
	if err != nil {
		return fmt.Errorf("create analysis engine: %w", err)
	}
	slog.Info("analysis engine initialized", "engine", engine.Name())

	renderer := render.NewPDFRenderer(blobs)

	// 7. Event bus
	bus, closeEvents, err := newEventBus(cfg.Events, redisCache, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	// 8. Orchestrator, dispatcher and recovery sweeper
	orch := pipeline.NewOrchestrator(pgStore, videos, engine, renderer, bus,
		pipeline.ConfigFrom(cfg.Pipeline), pipeline.WithLogger(logger),
		pipeline.WithArtifactCleanup(blobs))

	dispatcher, stopQueue, err := startQueue(cfg, orch, logger)
	if err != nil {
		return err
	}
	defer stopQueue()

	sweeper := pipeline.NewSweeper(pgStore, dispatcher, cfg.Pipeline, logger)
	go sweeper.Run(ctx)

	svc := report.NewService(pgStore, blobs, dispatcher, bus,
		report.WithLogger(logger),
		report.WithStatusCache(redisCache, statusCacheTTL))

	if err := ensureBootstrapKey(ctx, pgStore, cfg.Server); err != nil {
		return err
	}

	// 9. Build router with dependencies
	reports := handler.NewReports(svc, cfg.Blob.PresignExpiry, logger)
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),

		HealthHandler: healthHandler(pgStore, redisCache),

		CreateReport:   reports.Create,
		ListReports:    reports.List,
		GetReport:      reports.Get,
		ReportStatus:   reports.Status,
		DownloadReport: reports.Download,
		DeleteReport:   reports.Delete,

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore, logger),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(router, "scoutreport.http"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newEventBus subscribes the in-process handlers and, when AMQP is
// configured, the broker forwarder.
func newEventBus(cfg config.EventsConfig, c cache.Cache, logger *slog.Logger) (*events.Bus, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	bus := events.NewBus(logger)
	bus.SubscribeKinds(events.LogHandler(logger))
	bus.SubscribeKinds(events.StatusCacheHandler(c, statusCacheTTL))

	metrics, err := events.MetricsHandler(otel.Meter("github.com/kiranshivaraju/scoutreport/internal/events"))
	if err != nil {
		return nil, nil, fmt.Errorf("event metrics: %w", err)
	}
	bus.SubscribeKinds(metrics)

	if cfg.AMQPURL == "" {
		return bus, func() {}, nil
	}
	fwd, err := amqp.Dial(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, nil, fmt.Errorf("connect amqp: %w", err)
	}
	bus.SubscribeKinds(fwd.Handle)
	slog.Info("forwarding events to amqp", "exchange", cfg.Exchange)

	return bus, func() {
		if err := fwd.Close(); err != nil {
			slog.Warn("amqp close failed", "error", err)
		}
	}, nil
}

// startQueue starts the configured job backend. The returned stop function
// drains in-flight jobs.
func startQueue(cfg *config.Config, runner queue.Runner, logger *slog.Logger) (queue.Dispatcher, func(), error) {
	if cfg.Queue.Backend == "local" {
		d := queue.NewLocalDispatcher(runner, cfg.Queue.Concurrency, cfg.Queue.Buffer, logger)
		slog.Info("local worker pool started", "workers", cfg.Queue.Concurrency)
		return d, d.Stop, nil
	}

	client, err := queue.NewClient(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create queue client: %w", err)
	}
	srv, err := queue.NewServer(cfg.Redis.URL, cfg.Queue, cfg.Server.LogLevel)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("create queue server: %w", err)
	}
	if err := srv.Start(queue.NewServeMux(queue.NewWorker(runner, logger))); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("start queue server: %w", err)
	}
	slog.Info("asynq worker started", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency)

	return queue.NewAsynqDispatcher(client, cfg.Queue), func() {
		srv.Shutdown()
		client.Close()
	}, nil
}

// ensureBootstrapKey stores the configured admin key so a fresh deployment
// can mint further keys. An existing bootstrap key is left untouched.
func ensureBootstrapKey(ctx context.Context, keys handler.KeyCreator, cfg config.ServerConfig) error {
	if cfg.BootstrapAPIKey == "" {
		return nil
	}
	key, err := apikey.New(cfg.BootstrapAPIKey, cfg.BootstrapOwnerID, "bootstrap", []string{"reports", mw.ScopeAdmin})
	if err != nil {
		return fmt.Errorf("bootstrap api key: %w", err)
	}
	if err := keys.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			slog.Info("bootstrap api key already present", "owner_id", cfg.BootstrapOwnerID)
			return nil
		}
		return fmt.Errorf("store bootstrap api key: %w", err)
	}
	slog.Info("bootstrap api key stored", "owner_id", cfg.BootstrapOwnerID, "prefix", key.KeyPrefix)
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
