package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/concordia/import-service/internal/batch"
	"github.com/concordia/import-service/internal/catalog"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/httpx"
	"github.com/concordia/import-service/internal/httpx/ratelimit"
	"github.com/concordia/import-service/internal/importer"
	"github.com/concordia/import-service/internal/pipeline"
	"github.com/concordia/import-service/internal/storage"
	"github.com/concordia/import-service/internal/taskqueue"
	"github.com/concordia/import-service/internal/verify"
	"github.com/concordia/import-service/internal/workers"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone worker pool",
	Long: `Runs a task worker pool without the HTTP server, processing import,
verification, download and batch-wave tasks until interrupted. Useful for
scaling workers independently of the API.`,
	RunE: runWorker,
}

var workerTaskTypes []string

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringSliceVar(&workerTaskTypes, "task-types", nil, "restrict the pool to specific task types (default all)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

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
		return fmt.Errorf("failed to initialize object storage: %w", err)
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

	taskTypes := workerTaskTypes
	if len(taskTypes) == 0 {
		taskTypes = []string{
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
		}
	}

	worker := workers.New(queue, workers.WorkerConfig{
		WorkerID:   fmt.Sprintf("import-cli-%d", os.Getpid()),
		TaskTypes:  taskTypes,
		MaxTasks:   cfg.Worker.MaxTasks,
		NumWorkers: cfg.Worker.NumWorkers,
		PollDelay:  cfg.Worker.PollDelay,
	})
	importer.RegisterHandlers(worker, imp)
	verify.RegisterHandlers(worker, verifier)
	batch.RegisterHandlers(worker, scheduler)

	worker.Start(ctx)
	logger.Info().Strs("task_types", taskTypes).Msg("Worker pool started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Stopping worker pool...")
	worker.Stop()
	return nil
}
