package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/metrics"
	"github.com/concordia/import-service/internal/pipeline"
	"github.com/concordia/import-service/internal/storage"
	"github.com/concordia/import-service/internal/taskqueue"
	"github.com/concordia/import-service/internal/workers"
)

// Store is the persistence surface the verifier needs.
type Store interface {
	pipeline.Store

	GetVerifyJob(ctx context.Context, id int64) (*database.VerifyAssetImageJob, error)
	GetAssetContext(ctx context.Context, assetID int64) (*database.AssetContext, error)
	EnsureDownloadJob(ctx context.Context, assetID int64, batch *uuid.UUID, status string) (int64, bool, error)
}

// Queue schedules repair downloads for ad-hoc verifications.
type Queue interface {
	ScheduleTask(ctx context.Context, input taskqueue.ScheduleTaskInput) (uuid.UUID, error)
}

// Verifier checks that stored asset images are present, readable and
// decodable, scheduling repair downloads for any that are not.
type Verifier struct {
	store   Store
	queue   Queue
	objects storage.Storage
	runner  *pipeline.Runner
}

func New(store Store, queue Queue, objects storage.Storage, notifier pipeline.Notifier) *Verifier {
	return &Verifier{
		store:   store,
		queue:   queue,
		objects: objects,
		// Verification failures are findings, not image errors; no retry hook.
		runner: pipeline.NewRunner(store, notifier, nil),
	}
}

// RunVerifyJob executes one verify job under the status wrapper and reports
// whether the image passed. A failed check is a normal completion with a
// false result; the repair job carries the follow-up work.
func (v *Verifier) RunVerifyJob(ctx context.Context, taskID string, verifyJobID int64) (bool, error) {
	job, err := v.store.GetVerifyJob(ctx, verifyJobID)
	if err != nil {
		return false, err
	}

	verified := false
	err = v.runner.Execute(ctx, taskID, job, func(ctx context.Context) error {
		var err error
		verified, err = v.verifyAssetImage(ctx, job)
		return err
	})
	return verified, err
}

// verifyAssetImage checks one asset's stored image. On any failure it
// records a status, ensures a deduplicated repair download job for the
// (asset, batch) pair, and returns false.
func (v *Verifier) verifyAssetImage(ctx context.Context, job *database.VerifyAssetImageJob) (bool, error) {
	ac, err := v.store.GetAssetContext(ctx, job.AssetID)
	if err != nil {
		return false, err
	}

	key := ac.Asset.StorageKey
	if key == "" {
		return v.failVerification(ctx, job,
			fmt.Sprintf("Asset %d has no stored image", job.AssetID))
	}

	exists, err := v.objects.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return v.failVerification(ctx, job,
			fmt.Sprintf("Stored image %s does not exist in the object store", key))
	}

	reader, err := v.objects.Open(ctx, key)
	if err != nil {
		return v.failVerification(ctx, job,
			fmt.Sprintf("Stored image %s could not be opened: %v", key, err))
	}
	defer reader.Close()

	if _, _, err := image.Decode(reader); err != nil {
		return v.failVerification(ctx, job,
			fmt.Sprintf("Stored image %s failed to decode: %T: %v", key, err, err))
	}

	log.Info().
		Str("component", "verify").
		Int64("asset_id", job.AssetID).
		Str("key", key).
		Msg("Asset image verified")
	return true, nil
}

func (v *Verifier) failVerification(ctx context.Context, job *database.VerifyAssetImageJob, status string) (bool, error) {
	metrics.RecordVerificationFailed()
	log.Warn().
		Str("component", "verify").
		Int64("asset_id", job.AssetID).
		Msg(status)

	job.UpdateStatus(status)
	if err := v.store.SaveTaskStatus(ctx, job); err != nil {
		return false, err
	}

	downloadID, created, err := v.store.EnsureDownloadJob(ctx, job.AssetID, job.Batch,
		fmt.Sprintf("Created by verification: %s", status))
	if err != nil {
		return false, err
	}

	// Batched repair jobs are drained by the batch scheduler's download
	// waves; only ad-hoc verifications enqueue the download directly.
	if created && job.Batch == nil {
		_, err := v.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
			TaskType: taskqueue.TaskTypeDownloadImage,
			Payload:  downloadPayload{DownloadJobID: downloadID},
		})
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// downloadPayload mirrors the importer's download task payload.
type downloadPayload struct {
	DownloadJobID int64 `json:"download_job_id"`
}

// RegisterHandlers wires the verify task type into a worker pool.
func RegisterHandlers(w *workers.Worker, v *Verifier) {
	w.RegisterHandler(taskqueue.TaskTypeVerifyImage, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p VerifyJobPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad verify_asset_image payload: %w", err)
		}
		return v.RunVerifyJob(ctx, task.ID.String(), p.VerifyJobID)
	})
}

// VerifyJobPayload is the verify task's wire payload.
type VerifyJobPayload struct {
	VerifyJobID int64 `json:"verify_job_id"`
}
