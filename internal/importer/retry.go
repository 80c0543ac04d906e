package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/metrics"
	"github.com/concordia/import-service/internal/taskqueue"
)

// swapped by tests
var timeNow = time.Now

// retryImageFailure is the runner's retry hook. It only ever sees records
// whose failure was classified as an image failure. Within the retry budget
// it resets the record and schedules a delayed re-attempt; past the budget
// it converts the failure into the terminal Retries reason. A zero retry
// delay disables the policy entirely.
func (imp *Importer) retryImageFailure(ctx context.Context, rec database.TaskRecord) (bool, error) {
	taskType := retryTaskType(rec)
	if taskType == "" {
		return false, nil
	}

	ts := rec.Task()
	if ts.RetryCount < imp.config.MaxRetries && imp.config.RetryDelay > 0 {
		if !ts.ResetForRetry() {
			if err := imp.store.SaveTaskStatus(ctx, rec); err != nil {
				return false, err
			}
			return false, nil
		}

		runAt := timeNow().Add(imp.config.RetryDelay)
		taskID, err := imp.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
			TaskType: taskType,
			Payload:  retryPayload(rec),
			RunAt:    &runAt,
		})
		if err != nil {
			return false, err
		}

		ts.TaskID = taskID.String()
		if err := imp.store.SaveTaskStatus(ctx, rec); err != nil {
			return false, err
		}

		metrics.RecordImageRetry(rec.Kind())
		log.Info().
			Str("component", "importer").
			Str("kind", rec.Kind()).
			Int64("record_id", rec.RecordID()).
			Int("retry_count", ts.RetryCount).
			Time("run_at", runAt).
			Msg("Image failure retry scheduled")
		return true, nil
	}

	// Exhausted: record the final failure and label it distinctly from an
	// image error, so operators can tell "gave up" from "still failing".
	priorStatus := ts.Status
	priorReason := ts.FailureReason
	ts.RecordFailure()
	ts.UpdateStatus(fmt.Sprintf(
		"Retries exhausted after %d attempts; last failure was %q (%s)",
		ts.RetryCount, priorStatus, priorReason))
	ts.FailureReason = database.FailureRetries
	if err := imp.store.SaveTaskStatus(ctx, rec); err != nil {
		return false, err
	}
	return false, nil
}

func retryTaskType(rec database.TaskRecord) string {
	switch rec.Kind() {
	case database.KindImportItemAsset:
		return taskqueue.TaskTypeImportAsset
	case database.KindDownloadImageJob:
		return taskqueue.TaskTypeDownloadImage
	default:
		return ""
	}
}

func retryPayload(rec database.TaskRecord) interface{} {
	switch rec.Kind() {
	case database.KindImportItemAsset:
		return ImportAssetPayload{ImportItemAssetID: rec.RecordID()}
	case database.KindDownloadImageJob:
		return DownloadJobPayload{DownloadJobID: rec.RecordID()}
	default:
		return nil
	}
}
