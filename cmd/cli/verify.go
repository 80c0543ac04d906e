package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/concordia/import-service/internal/batch"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Start an image verification batch",
	Long: `Creates one verify job per asset under a fresh batch id and enqueues the
first verification wave. Without --asset-ids every asset with a stored image
is checked. Failed checks create repair download jobs that run as download
waves after the whole batch has been scanned.`,
	RunE: runVerify,
}

var verifyAssetIDs []int64

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().Int64SliceVar(&verifyAssetIDs, "asset-ids", nil, "limit the batch to specific asset ids")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store := database.NewStore(database.Pool())
	queue := taskqueue.New(database.Pool())
	scheduler := batch.NewScheduler(store, queue, batch.Config{
		VerifyConcurrency:   cfg.Import.VerifyConcurrency,
		DownloadConcurrency: cfg.Import.DownloadConcurrency,
		ChunkSize:           cfg.Import.BatchChunkSize,
	})

	assetIDs := verifyAssetIDs
	if len(assetIDs) == 0 {
		var err error
		assetIDs, err = store.AssetIDsWithImages(ctx)
		if err != nil {
			return fmt.Errorf("failed to list assets: %w", err)
		}
	}
	if len(assetIDs) == 0 {
		return fmt.Errorf("no assets with stored images to verify")
	}

	batchID := uuid.New()
	created, err := scheduler.CreateVerifyBatch(ctx, assetIDs, batchID)
	if err != nil {
		return fmt.Errorf("failed to create verification batch: %w", err)
	}

	fmt.Printf("Batch %s created with %d verify jobs\n", batchID, created)
	return nil
}
