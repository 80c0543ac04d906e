package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/concordia/import-service/internal/taskqueue"
	"github.com/concordia/import-service/internal/workers"
)

// Task payloads. Field names are part of the queue's wire format.

type ImportJobPayload struct {
	JobID      int64 `json:"job_id"`
	Redownload bool  `json:"redownload"`
}

type ImportItemPayload struct {
	JobID      int64  `json:"job_id"`
	ItemURL    string `json:"item_url"`
	Redownload bool   `json:"redownload"`
}

type MaterializePayload struct {
	ImportItemID int64 `json:"import_item_id"`
}

type ImportAssetPayload struct {
	ImportItemAssetID int64 `json:"import_item_asset_id"`
}

type ItemCompletePayload struct {
	ImportItemID int64 `json:"import_item_id"`
}

type ThumbnailPayload struct {
	ItemID int64  `json:"item_id"`
	URL    string `json:"url"`
	Force  bool   `json:"force"`
}

type DownloadJobPayload struct {
	DownloadJobID int64 `json:"download_job_id"`
}

// RegisterHandlers wires the importer's task types into a worker pool.
func RegisterHandlers(w *workers.Worker, imp *Importer) {
	w.RegisterHandler(taskqueue.TaskTypeImportJob, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p ImportJobPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad import_job payload: %w", err)
		}
		return nil, imp.RunImportJob(ctx, task.ID.String(), p.JobID, p.Redownload)
	})

	w.RegisterHandler(taskqueue.TaskTypeImportItem, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p ImportItemPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad import_item payload: %w", err)
		}
		return nil, imp.CreateItemImport(ctx, p.JobID, p.ItemURL, p.Redownload)
	})

	w.RegisterHandler(taskqueue.TaskTypeMaterialize, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p MaterializePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad materialize payload: %w", err)
		}
		return nil, imp.MaterializeAssets(ctx, task.ID.String(), p.ImportItemID)
	})

	w.RegisterHandler(taskqueue.TaskTypeImportAsset, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p ImportAssetPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad import_asset payload: %w", err)
		}
		if err := imp.RunImportAsset(ctx, task.ID.String(), p.ImportItemAssetID); err != nil {
			return nil, err
		}
		return true, nil
	})

	w.RegisterHandler(taskqueue.TaskTypeItemComplete, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var chord taskqueue.ChordPayload
		if err := json.Unmarshal(task.Payload, &chord); err != nil {
			return nil, fmt.Errorf("bad chord payload: %w", err)
		}
		var p ItemCompletePayload
		if err := json.Unmarshal(chord.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad item_assets_complete payload: %w", err)
		}
		return nil, imp.FinishItemImport(ctx, p.ImportItemID, chord.Results)
	})

	w.RegisterHandler(taskqueue.TaskTypeThumbnail, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p ThumbnailPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad thumbnail payload: %w", err)
		}
		return imp.PopulateThumbnail(ctx, p.ItemID, p.URL, p.Force)
	})

	w.RegisterHandler(taskqueue.TaskTypeDownloadImage, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p DownloadJobPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad download_asset_image payload: %w", err)
		}
		if err := imp.RunDownloadJob(ctx, task.ID.String(), p.DownloadJobID); err != nil {
			return nil, err
		}
		return true, nil
	})
}
