package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateImportJob creates a new import job record.
func (s *Store) CreateImportJob(ctx context.Context, projectID int64, sourceURL, createdBy string) (*ImportJob, error) {
	job := &ImportJob{ProjectID: projectID, SourceURL: sourceURL, CreatedBy: createdBy}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO import_jobs (project_id, source_url, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, projectID, sourceURL, createdBy).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}
	return job, nil
}

// GetImportJob returns an import job by id.
func (s *Store) GetImportJob(ctx context.Context, id int64) (*ImportJob, error) {
	var job ImportJob
	var fh, sh []byte
	dests := append([]any{&job.ID, &job.ProjectID, &job.SourceURL, &job.CreatedBy},
		statusScanDests(&job.TaskStatus, &fh, &sh)...)
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, source_url, created_by, `+taskStatusCols+`
		FROM import_jobs WHERE id = $1
	`, id).Scan(dests...)
	if err != nil {
		return nil, fmt.Errorf("failed to load import job %d: %w", id, err)
	}
	if err := decodeHistories(&job.TaskStatus, fh, sh); err != nil {
		return nil, err
	}
	return &job, nil
}

// ImportJobProgress reports item counts for one job.
func (s *Store) ImportJobProgress(ctx context.Context, jobID int64) (total, completed, failed int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(completed),
		       COUNT(failed) FILTER (WHERE completed IS NULL)
		FROM import_items WHERE job_id = $1
	`, jobID).Scan(&total, &completed, &failed)
	if err != nil {
		err = fmt.Errorf("failed to load progress for job %d: %w", jobID, err)
	}
	return total, completed, failed, err
}

// GetOrCreateImportItem looks up the per-(job, item) import record, creating
// it when missing. The second result reports whether it already existed.
func (s *Store) GetOrCreateImportItem(ctx context.Context, jobID, itemID int64, url string) (*ImportItem, bool, error) {
	existing, err := s.getImportItemByKey(ctx, jobID, itemID)
	if err == nil {
		return existing, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO import_items (job_id, item_id, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, item_id) DO UPDATE SET url = EXCLUDED.url
		RETURNING id
	`, jobID, itemID, url).Scan(&id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create import item: %w", err)
	}

	created, err := s.GetImportItem(ctx, id)
	return created, false, err
}

func (s *Store) getImportItemByKey(ctx context.Context, jobID, itemID int64) (*ImportItem, error) {
	var item ImportItem
	var fh, sh []byte
	dests := append([]any{&item.ID, &item.JobID, &item.ItemID, &item.URL},
		statusScanDests(&item.TaskStatus, &fh, &sh)...)
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, item_id, url, `+taskStatusCols+`
		FROM import_items WHERE job_id = $1 AND item_id = $2
	`, jobID, itemID).Scan(dests...)
	if err != nil {
		return nil, err
	}
	if err := decodeHistories(&item.TaskStatus, fh, sh); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetImportItem returns an import item by id.
func (s *Store) GetImportItem(ctx context.Context, id int64) (*ImportItem, error) {
	var item ImportItem
	var fh, sh []byte
	dests := append([]any{&item.ID, &item.JobID, &item.ItemID, &item.URL},
		statusScanDests(&item.TaskStatus, &fh, &sh)...)
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, item_id, url, `+taskStatusCols+`
		FROM import_items WHERE id = $1
	`, id).Scan(dests...)
	if err != nil {
		return nil, fmt.Errorf("failed to load import item %d: %w", id, err)
	}
	if err := decodeHistories(&item.TaskStatus, fh, sh); err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItemAssets bulk-creates asset rows plus one import-item-asset row per
// asset inside a single transaction. Download tasks reference the created
// rows by primary key, so fan-out must only happen after this commits.
func (s *Store) CreateItemAssets(ctx context.Context, importItemID int64, assets []*Asset) ([]*ImportItemAsset, error) {
	importAssets := make([]*ImportItemAsset, 0, len(assets))

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, a := range assets {
			err := tx.QueryRow(ctx, `
				INSERT INTO assets (item_id, sequence, title, slug, download_url,
				                    resource_url, extension)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id
			`, a.ItemID, a.Sequence, a.Title, a.Slug, a.DownloadURL,
				a.ResourceURL, a.Extension).Scan(&a.ID)
			if err != nil {
				return fmt.Errorf("failed to create asset %s (sequence %d): %w", a.Slug, a.Sequence, err)
			}
		}

		for _, a := range assets {
			ia := &ImportItemAsset{
				ImportItemID: importItemID,
				AssetID:      a.ID,
				URL:          a.DownloadURL,
				Sequence:     a.Sequence,
			}
			err := tx.QueryRow(ctx, `
				INSERT INTO import_item_assets (import_item_id, asset_id, url, sequence)
				VALUES ($1, $2, $3, $4)
				RETURNING id, created_at, updated_at
			`, ia.ImportItemID, ia.AssetID, ia.URL, ia.Sequence).
				Scan(&ia.ID, &ia.CreatedAt, &ia.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to create import asset for asset %d: %w", a.ID, err)
			}
			importAssets = append(importAssets, ia)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return importAssets, nil
}

// GetImportItemAsset returns an import item asset by id.
func (s *Store) GetImportItemAsset(ctx context.Context, id int64) (*ImportItemAsset, error) {
	var a ImportItemAsset
	var fh, sh []byte
	dests := append([]any{&a.ID, &a.ImportItemID, &a.AssetID, &a.URL, &a.Sequence},
		statusScanDests(&a.TaskStatus, &fh, &sh)...)
	err := s.pool.QueryRow(ctx, `
		SELECT id, import_item_id, asset_id, url, sequence, `+taskStatusCols+`
		FROM import_item_assets WHERE id = $1
	`, id).Scan(dests...)
	if err != nil {
		return nil, fmt.Errorf("failed to load import asset %d: %w", id, err)
	}
	if err := decodeHistories(&a.TaskStatus, fh, sh); err != nil {
		return nil, err
	}
	return &a, nil
}

// LatestImportAssetForAsset returns the most recent import record targeting
// an asset, used by the admin bulk-retry action.
func (s *Store) LatestImportAssetForAsset(ctx context.Context, assetID int64) (*ImportItemAsset, error) {
	var a ImportItemAsset
	var fh, sh []byte
	dests := append([]any{&a.ID, &a.ImportItemID, &a.AssetID, &a.URL, &a.Sequence},
		statusScanDests(&a.TaskStatus, &fh, &sh)...)
	err := s.pool.QueryRow(ctx, `
		SELECT id, import_item_id, asset_id, url, sequence, `+taskStatusCols+`
		FROM import_item_assets WHERE asset_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, assetID).Scan(dests...)
	if err != nil {
		return nil, fmt.Errorf("failed to load import asset for asset %d: %w", assetID, err)
	}
	if err := decodeHistories(&a.TaskStatus, fh, sh); err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureDownloadJob creates a repair download job for (asset, batch) unless
// an uncompleted one already exists. Returns the job id and whether a new
// row was created.
func (s *Store) EnsureDownloadJob(ctx context.Context, assetID int64, batch *uuid.UUID, status string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO download_asset_image_jobs (asset_id, batch, status)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM download_asset_image_jobs
			WHERE asset_id = $1 AND batch IS NOT DISTINCT FROM $2
			  AND completed IS NULL
		)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, assetID, batch, status).Scan(&id)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to ensure download job for asset %d: %w", assetID, err)
	}
	return id, true, nil
}

// GetVerifyJob returns a verify job by id.
func (s *Store) GetVerifyJob(ctx context.Context, id int64) (*VerifyAssetImageJob, error) {
	var j VerifyAssetImageJob
	var fh, sh []byte
	dests := append([]any{&j.ID, &j.AssetID, &j.Batch},
		statusScanDests(&j.TaskStatus, &fh, &sh)...)
	err := s.pool.QueryRow(ctx, `
		SELECT id, asset_id, batch, `+taskStatusCols+`
		FROM verify_asset_image_jobs WHERE id = $1
	`, id).Scan(dests...)
	if err != nil {
		return nil, fmt.Errorf("failed to load verify job %d: %w", id, err)
	}
	if err := decodeHistories(&j.TaskStatus, fh, sh); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetDownloadJob returns a download job by id.
func (s *Store) GetDownloadJob(ctx context.Context, id int64) (*DownloadAssetImageJob, error) {
	var j DownloadAssetImageJob
	var fh, sh []byte
	dests := append([]any{&j.ID, &j.AssetID, &j.Batch, &j.URL},
		statusScanDests(&j.TaskStatus, &fh, &sh)...)
	err := s.pool.QueryRow(ctx, `
		SELECT id, asset_id, batch, url, `+taskStatusCols+`
		FROM download_asset_image_jobs WHERE id = $1
	`, id).Scan(dests...)
	if err != nil {
		return nil, fmt.Errorf("failed to load download job %d: %w", id, err)
	}
	if err := decodeHistories(&j.TaskStatus, fh, sh); err != nil {
		return nil, err
	}
	return &j, nil
}

// PendingVerifyJobs returns up to limit verify jobs for the batch that are
// neither completed nor failed, oldest first.
func (s *Store) PendingVerifyJobs(ctx context.Context, batch uuid.UUID, limit int) ([]*VerifyAssetImageJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, asset_id, batch, `+taskStatusCols+`
		FROM verify_asset_image_jobs
		WHERE batch = $1 AND completed IS NULL AND failed IS NULL
		ORDER BY created_at
		LIMIT $2
	`, batch, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending verify jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*VerifyAssetImageJob
	for rows.Next() {
		var j VerifyAssetImageJob
		var fh, sh []byte
		dests := append([]any{&j.ID, &j.AssetID, &j.Batch},
			statusScanDests(&j.TaskStatus, &fh, &sh)...)
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("failed to scan verify job: %w", err)
		}
		if err := decodeHistories(&j.TaskStatus, fh, sh); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// PendingDownloadJobs returns up to limit download jobs for the batch that
// are neither completed nor failed, oldest first.
func (s *Store) PendingDownloadJobs(ctx context.Context, batch uuid.UUID, limit int) ([]*DownloadAssetImageJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, asset_id, batch, url, `+taskStatusCols+`
		FROM download_asset_image_jobs
		WHERE batch = $1 AND completed IS NULL AND failed IS NULL
		ORDER BY created_at
		LIMIT $2
	`, batch, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending download jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*DownloadAssetImageJob
	for rows.Next() {
		var j DownloadAssetImageJob
		var fh, sh []byte
		dests := append([]any{&j.ID, &j.AssetID, &j.Batch, &j.URL},
			statusScanDests(&j.TaskStatus, &fh, &sh)...)
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("failed to scan download job: %w", err)
		}
		if err := decodeHistories(&j.TaskStatus, fh, sh); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// CreateVerifyJobs bulk-creates one verify job per asset id, in fixed-size
// chunks to bound single-query size. Assets that already carry an active
// job in this batch are skipped. Returns the number of rows created.
func (s *Store) CreateVerifyJobs(ctx context.Context, assetIDs []int64, batch uuid.UUID, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	created := 0
	for start := 0; start < len(assetIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(assetIDs) {
			end = len(assetIDs)
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO verify_asset_image_jobs (asset_id, batch)
			SELECT unnest($1::bigint[]), $2
			ON CONFLICT DO NOTHING
		`, assetIDs[start:end], batch)
		if err != nil {
			return created, fmt.Errorf("failed to create verify jobs: %w", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// AssetIDsWithImages returns the ids of every asset that has a stored image,
// the candidate set for a full verification batch.
func (s *Store) AssetIDsWithImages(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM assets WHERE storage_key <> '' ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets with images: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentIncompleteBatches returns the most recently active batches that
// still have unfinished verify jobs, newest activity first.
func (s *Store) RecentIncompleteBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT batch, COUNT(*), COUNT(completed), COUNT(failed),
		       MAX(updated_at)
		FROM verify_asset_image_jobs
		WHERE batch IS NOT NULL
		GROUP BY batch
		HAVING COUNT(*) FILTER (WHERE completed IS NULL AND failed IS NULL) > 0
		ORDER BY MAX(updated_at) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete batches: %w", err)
	}
	defer rows.Close()

	var batches []BatchSummary
	for rows.Next() {
		var b BatchSummary
		if err := rows.Scan(&b.Batch, &b.Total, &b.Completed, &b.Failed, &b.LastActive); err != nil {
			return nil, fmt.Errorf("failed to scan batch summary: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// BatchStatus reports per-kind job counts for one batch.
type BatchStatus struct {
	Batch    uuid.UUID    `json:"batch"`
	Verify   BatchSummary `json:"verify"`
	Download BatchSummary `json:"download"`
}

// GetBatchStatus returns verify and download counts for one batch.
func (s *Store) GetBatchStatus(ctx context.Context, batch uuid.UUID) (*BatchStatus, error) {
	status := &BatchStatus{Batch: batch}
	status.Verify.Batch = batch
	status.Download.Batch = batch

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(completed), COUNT(failed), MAX(updated_at)
		FROM verify_asset_image_jobs WHERE batch = $1
	`, batch).Scan(&status.Verify.Total, &status.Verify.Completed,
		&status.Verify.Failed, &status.Verify.LastActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load verify counts for batch %s: %w", batch, err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(completed), COUNT(failed), MAX(updated_at)
		FROM download_asset_image_jobs WHERE batch = $1
	`, batch).Scan(&status.Download.Total, &status.Download.Completed,
		&status.Download.Failed, &status.Download.LastActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load download counts for batch %s: %w", batch, err)
	}
	return status, nil
}

// StaleImportItems returns import items that started but never finished,
// older than the given age. Surfaced at startup so operators can see work
// interrupted by a restart.
func (s *Store) StaleImportItems(ctx context.Context, olderThan time.Duration) ([]*ImportItem, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, item_id, url, `+taskStatusCols+`
		FROM import_items
		WHERE last_started IS NOT NULL
		  AND completed IS NULL AND failed IS NULL
		  AND last_started < $1
		ORDER BY last_started
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale import items: %w", err)
	}
	defer rows.Close()

	var items []*ImportItem
	for rows.Next() {
		var item ImportItem
		var fh, sh []byte
		dests := append([]any{&item.ID, &item.JobID, &item.ItemID, &item.URL},
			statusScanDests(&item.TaskStatus, &fh, &sh)...)
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("failed to scan import item: %w", err)
		}
		if err := decodeHistories(&item.TaskStatus, fh, sh); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}
