package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/concordia/import-service/internal/catalog"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
)

// storedMetadata is the shape persisted into items.metadata: the raw item
// object plus the resource tree asset URLs are derived from.
type storedMetadata struct {
	Item      json.RawMessage    `json:"item"`
	Resources []catalog.Resource `json:"resources"`
}

// RunImportJob resolves the job's source URL into item URLs and enqueues one
// import-item task per item. An item detail URL yields exactly one task; a
// collection URL is paginated to exhaustion.
func (imp *Importer) RunImportJob(ctx context.Context, taskID string, jobID int64, redownload bool) error {
	job, err := imp.store.GetImportJob(ctx, jobID)
	if err != nil {
		return err
	}

	return imp.runner.Execute(ctx, taskID, job, func(ctx context.Context) error {
		var items []catalog.CollectionItem
		if catalog.IsItemURL(job.SourceURL) {
			items = []catalog.CollectionItem{{
				ID:  catalog.ItemIDFromURL(job.SourceURL),
				URL: job.SourceURL,
			}}
		} else {
			var err error
			items, err = imp.catalog.GetCollectionItems(ctx, job.SourceURL)
			if err != nil {
				return err
			}
		}

		for _, item := range items {
			_, err := imp.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
				TaskType: taskqueue.TaskTypeImportItem,
				Payload:  ImportItemPayload{JobID: job.ID, ItemURL: item.URL, Redownload: redownload},
			})
			if err != nil {
				return fmt.Errorf("failed to enqueue item %s: %w", item.URL, err)
			}
		}

		job.UpdateStatus(fmt.Sprintf("Queued %d items for import", len(items)))
		return nil
	})
}

// CreateItemImport fetches one item's metadata, creates or refreshes the
// local item and its per-job import record, and enqueues asset
// materialization — unless the item already has all its assets, in which
// case the import record completes immediately.
func (imp *Importer) CreateItemImport(ctx context.Context, jobID int64, itemURL string, redownload bool) error {
	detail, err := imp.catalog.GetItem(ctx, itemURL)
	if err != nil {
		return err
	}

	job, err := imp.store.GetImportJob(ctx, jobID)
	if err != nil {
		return err
	}

	remoteID := catalog.ItemIDFromURL(itemURL)
	if remoteID == "" {
		remoteID = detail.Item.ID
	}
	if remoteID == "" {
		return fmt.Errorf("cannot determine item id for %s", itemURL)
	}

	item, existed, err := imp.store.GetOrCreateItem(ctx, job.ProjectID, remoteID, itemURL)
	if err != nil {
		return err
	}
	importItem, _, err := imp.store.GetOrCreateImportItem(ctx, jobID, item.ID, itemURL)
	if err != nil {
		return err
	}

	if existed && !redownload {
		expected, _ := catalog.AssetURLsFromResources(detail.Resources)
		count, err := imp.store.CountItemAssets(ctx, item.ID)
		if err != nil {
			return err
		}
		if count >= len(expected) {
			importItem.UpdateStatus(fmt.Sprintf(
				"Not reprocessing: item %s already has all %d assets", remoteID, count))
			importItem.MarkCompleted()
			return imp.store.SaveTaskStatus(ctx, importItem)
		}
		log.Info().
			Str("component", "importer").
			Str("item_id", remoteID).
			Int("existing_assets", count).
			Int("expected_assets", len(expected)).
			Msg("Item is missing assets, reprocessing")
	}

	if err := imp.mergeItemMetadata(ctx, item, detail, itemURL); err != nil {
		return err
	}

	if thumbURL := pickThumbnailURL(detail.Item.ImageURL); thumbURL != "" && (item.ThumbnailKey == "" || redownload) {
		_, err := imp.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
			TaskType: taskqueue.TaskTypeThumbnail,
			Payload:  ThumbnailPayload{ItemID: item.ID, URL: thumbURL, Force: redownload},
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue thumbnail task: %w", err)
		}
	}

	_, err = imp.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
		TaskType: taskqueue.TaskTypeMaterialize,
		Payload:  MaterializePayload{ImportItemID: importItem.ID},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue materialization: %w", err)
	}

	importItem.UpdateStatus("Metadata fetched, asset materialization queued")
	return imp.store.SaveTaskStatus(ctx, importItem)
}

func (imp *Importer) mergeItemMetadata(ctx context.Context, item *database.Item, detail *catalog.ItemDetail, itemURL string) error {
	meta := storedMetadata{Item: detail.Item.Raw, Resources: detail.Resources}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode item metadata: %w", err)
	}

	item.Metadata = encoded
	item.ItemURL = itemURL
	if detail.Item.Title != "" {
		item.Title = detail.Item.Title
	}
	if detail.Item.Description != "" {
		item.Description = detail.Item.Description
	}
	return imp.store.UpdateItem(ctx, item)
}

// pickThumbnailURL prefers a jpg rendition, falling back to the first URL.
func pickThumbnailURL(urls []string) string {
	for _, u := range urls {
		if strings.Contains(u, ".jpg") || strings.Contains(u, ".jpeg") {
			return u
		}
	}
	if len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// MaterializeAssets builds one asset row per chosen download URL inside a
// transaction, then fans out a chord of per-asset download tasks. The
// fan-out happens only after the rows are committed; a download worker on
// another connection must be able to load them by primary key.
func (imp *Importer) MaterializeAssets(ctx context.Context, taskID string, importItemID int64) error {
	importItem, err := imp.store.GetImportItem(ctx, importItemID)
	if err != nil {
		return err
	}

	return imp.runner.Execute(ctx, taskID, importItem, func(ctx context.Context) error {
		item, err := imp.store.GetItem(ctx, importItem.ItemID)
		if err != nil {
			return err
		}

		var meta storedMetadata
		if err := json.Unmarshal(item.Metadata, &meta); err != nil {
			return fmt.Errorf("failed to decode metadata for item %s: %w", item.ItemID, err)
		}

		urls, resourceURL := catalog.AssetURLsFromResources(meta.Resources)
		assets := make([]*database.Asset, 0, len(urls))
		for i, url := range urls {
			sequence := i + 1
			asset := &database.Asset{
				ItemID:      item.ID,
				Sequence:    sequence,
				Title:       fmt.Sprintf("%s %d", item.ItemID, sequence),
				Slug:        fmt.Sprintf("%s-%d", Slugify(item.ItemID), sequence),
				DownloadURL: url,
				ResourceURL: resourceURL,
				Extension:   NormalizeExtension(url),
			}
			if err := validateAsset(asset); err != nil {
				return fmt.Errorf("invalid asset %s (item %s, resource %s): %w",
					asset.Slug, item.ItemID, resourceURL, err)
			}
			assets = append(assets, asset)
		}

		importAssets, err := imp.store.CreateItemAssets(ctx, importItem.ID, assets)
		if err != nil {
			return err
		}

		members := make([]taskqueue.ScheduleTaskInput, 0, len(importAssets))
		for _, ia := range importAssets {
			members = append(members, taskqueue.ScheduleTaskInput{
				TaskType: taskqueue.TaskTypeImportAsset,
				Payload:  ImportAssetPayload{ImportItemAssetID: ia.ID},
			})
		}
		_, err = imp.queue.ScheduleChord(ctx, members, taskqueue.TaskTypeItemComplete,
			ItemCompletePayload{ImportItemID: importItem.ID})
		if err != nil {
			return fmt.Errorf("failed to fan out downloads: %w", err)
		}

		importItem.UpdateStatus(fmt.Sprintf("Created %d assets, downloads queued", len(assets)))
		return nil
	})
}

func validateAsset(a *database.Asset) error {
	if a.DownloadURL == "" {
		return fmt.Errorf("missing download url")
	}
	if a.Slug == "" || a.Slug == fmt.Sprintf("-%d", a.Sequence) {
		return fmt.Errorf("missing slug")
	}
	if a.Sequence < 1 {
		return fmt.Errorf("sequence must be positive, got %d", a.Sequence)
	}
	return nil
}

// FinishItemImport is the chord callback after an item's download fan-out
// settles: it records how many assets made it, on a record that typically
// already completed during materialization.
func (imp *Importer) FinishItemImport(ctx context.Context, importItemID int64, results []json.RawMessage) error {
	importItem, err := imp.store.GetImportItem(ctx, importItemID)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if len(r) == 0 || string(r) == "null" {
			failed++
		}
	}

	if failed == 0 {
		importItem.UpdateStatus(fmt.Sprintf("All %d asset downloads finished", len(results)))
	} else {
		importItem.UpdateStatus(fmt.Sprintf("%d of %d asset downloads failed", failed, len(results)))
	}
	return imp.store.SaveTaskStatus(ctx, importItem)
}
