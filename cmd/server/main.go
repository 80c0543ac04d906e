package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/concordia/import-service/config"
	"github.com/concordia/import-service/internal/batch"
	"github.com/concordia/import-service/internal/catalog"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/handlers"
	"github.com/concordia/import-service/internal/httpx"
	"github.com/concordia/import-service/internal/httpx/ratelimit"
	"github.com/concordia/import-service/internal/importer"
	"github.com/concordia/import-service/internal/middleware"
	"github.com/concordia/import-service/internal/pipeline"
	"github.com/concordia/import-service/internal/storage"
	"github.com/concordia/import-service/internal/sweepers"
	"github.com/concordia/import-service/internal/taskqueue"
	"github.com/concordia/import-service/internal/telemetry"
	"github.com/concordia/import-service/internal/verify"
	"github.com/concordia/import-service/internal/workers"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting import service")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx := context.Background()

	telemetryCleanup, err := telemetry.Init(ctx, telemetry.GetConfigFromEnv())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	store := database.NewStore(database.Pool())
	queue := taskqueue.New(database.Pool())

	objects, err := storage.New(ctx, storage.Options{
		Type:      storage.StorageType(cfg.Storage.Type),
		BasePath:  cfg.Storage.BasePath,
		Endpoint:  cfg.Storage.Endpoint,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize object storage")
	}

	httpClient := httpx.NewClient(ratelimit.Config{
		RequestsPerSecond: cfg.Catalog.RequestsPerSecond,
		MaxRetries:        cfg.Catalog.MaxRetries,
		InitialBackoffMs:  cfg.Catalog.InitialBackoffMs,
		MaxBackoffMs:      cfg.Catalog.MaxBackoffMs,
	})
	cat := catalog.NewClient(httpClient, catalog.Config{
		CacheTTL:     cfg.Catalog.CacheTTL,
		CountWorkers: cfg.Catalog.CountWorkers,
	})

	notifier := pipeline.LogNotifier{}
	imp := importer.New(store, queue, cat, objects, httpClient, notifier, importer.Config{
		MaxRetries:     cfg.Import.MaxRetries,
		RetryDelay:     time.Duration(cfg.Import.RetryDelayMinutes) * time.Minute,
		StrictChecksum: cfg.Import.StrictChecksum,
	})
	verifier := verify.New(store, queue, objects, notifier)
	scheduler := batch.NewScheduler(store, queue, batch.Config{
		VerifyConcurrency:   cfg.Import.VerifyConcurrency,
		DownloadConcurrency: cfg.Import.DownloadConcurrency,
		ChunkSize:           cfg.Import.BatchChunkSize,
	})

	reportStaleImports(ctx, store, logger)

	worker := workers.New(queue, workers.WorkerConfig{
		WorkerID:   fmt.Sprintf("import-service-%d", os.Getpid()),
		TaskTypes:  allTaskTypes(),
		MaxTasks:   cfg.Worker.MaxTasks,
		NumWorkers: cfg.Worker.NumWorkers,
		PollDelay:  cfg.Worker.PollDelay,
	})
	importer.RegisterHandlers(worker, imp)
	verify.RegisterHandlers(worker, verifier)
	batch.RegisterHandlers(worker, scheduler)
	registerCleanupHandler(worker, queue, logger)
	ensureCleanupScheduled(ctx, queue, logger)
	worker.Start(ctx)

	taskSweeper := sweepers.NewTaskQueueSweeper(queue, logger, 5*time.Minute, 30*time.Minute)
	go taskSweeper.Start(ctx)

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	api := handlers.New(store, queue, scheduler)

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuth())
	internal.Use(middleware.ServiceRateLimit(50, 100))
	{
		internal.GET("/health", handlers.HealthCheck)
		internal.GET("/queue", api.GetQueueDepth)

		imports := internal.Group("/imports")
		{
			imports.POST("", api.CreateImport)
			imports.GET("/stale", api.ListStaleImports)
			imports.GET("/:importId", api.GetImport)
		}

		assets := internal.Group("/assets")
		{
			assets.POST("/:assetId/retry", api.RetryAssetImport)
		}

		batches := internal.Group("/batches")
		{
			batches.POST("", api.CreateBatch)
			batches.GET("", api.ListBatches)
			batches.GET("/:batchId", api.GetBatch)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	taskSweeper.Stop()
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := telemetryCleanup(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shut down telemetry")
	}

	logger.Info().Msg("Server exited")
}

func allTaskTypes() []string {
	return []string{
		taskqueue.TaskTypeImportJob,
		taskqueue.TaskTypeImportItem,
		taskqueue.TaskTypeMaterialize,
		taskqueue.TaskTypeImportAsset,
		taskqueue.TaskTypeItemComplete,
		taskqueue.TaskTypeThumbnail,
		taskqueue.TaskTypeVerifyImage,
		taskqueue.TaskTypeDownloadImage,
		taskqueue.TaskTypeBatchWave,
		taskqueue.TaskTypeBatchCallback,
		taskqueue.TaskTypeCleanup,
	}
}

// reportStaleImports surfaces import items interrupted by a previous restart.
// The sweeper re-runs their orphaned tasks; this is operator visibility only.
func reportStaleImports(ctx context.Context, store *database.Store, logger *zerolog.Logger) {
	items, err := store.StaleImportItems(ctx, time.Hour)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check for stale import items")
		return
	}
	if len(items) == 0 {
		logger.Info().Msg("No stale import items found")
		return
	}
	for _, item := range items {
		logger.Warn().
			Int64("import_item_id", item.ID).
			Int64("job_id", item.JobID).
			Str("url", item.URL).
			Time("last_started", *item.LastStarted).
			Msg("Import item interrupted by restart")
	}
	logger.Warn().Int("count", len(items)).Msg("Found stale import items")
}

type cleanupPayload struct {
	DaysToKeep int `json:"days_to_keep"`
}

// registerCleanupHandler wires the recurring queue-maintenance task. Each run
// deletes settled tasks older than the retention window and re-enqueues
// itself for the next day.
func registerCleanupHandler(w *workers.Worker, queue *taskqueue.TaskQueue, logger *zerolog.Logger) {
	w.RegisterHandler(taskqueue.TaskTypeCleanup, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p cleanupPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad cleanup payload: %w", err)
		}
		if p.DaysToKeep <= 0 {
			p.DaysToKeep = 7
		}

		deleted, err := queue.CleanupOldTasks(ctx, p.DaysToKeep)
		if err != nil {
			return nil, err
		}
		logger.Info().Int("deleted", deleted).Msg("Cleaned up old tasks")

		next := time.Now().Add(24 * time.Hour)
		if _, err := queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
			TaskType: taskqueue.TaskTypeCleanup,
			Payload:  p,
			RunAt:    &next,
		}); err != nil {
			return nil, err
		}
		return deleted, nil
	})
}

// ensureCleanupScheduled seeds the recurring cleanup task. Once seeded, each
// run re-enqueues the next one; without a pending task the chain never starts.
func ensureCleanupScheduled(ctx context.Context, queue *taskqueue.TaskQueue, logger *zerolog.Logger) {
	depth, err := queue.QueueDepth(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check for a pending cleanup task")
		return
	}
	if depth[taskqueue.TaskTypeCleanup] > 0 {
		return
	}
	if _, err := queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
		TaskType: taskqueue.TaskTypeCleanup,
		Payload:  cleanupPayload{DaysToKeep: 7},
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed the cleanup task")
	}
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "import-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
