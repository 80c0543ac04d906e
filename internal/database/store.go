package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides persistence for the import pipeline's records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const taskStatusCols = `created_at, updated_at, last_started, completed, failed,
	status, task_id, failure_reason, retry_count, failure_history, status_history`

// statusScanDests returns scan destinations matching taskStatusCols. History
// columns land in raw JSON first; decodeHistories finishes the job.
func statusScanDests(ts *TaskStatus, fh, sh *[]byte) []any {
	return []any{
		&ts.CreatedAt, &ts.UpdatedAt, &ts.LastStarted, &ts.Completed, &ts.Failed,
		&ts.Status, &ts.TaskID, &ts.FailureReason, &ts.RetryCount, fh, sh,
	}
}

func decodeHistories(ts *TaskStatus, fh, sh []byte) error {
	if len(fh) > 0 {
		if err := json.Unmarshal(fh, &ts.FailureHistory); err != nil {
			return fmt.Errorf("failed to decode failure history: %w", err)
		}
	}
	if len(sh) > 0 {
		if err := json.Unmarshal(sh, &ts.StatusHistory); err != nil {
			return fmt.Errorf("failed to decode status history: %w", err)
		}
	}
	return nil
}

// SaveTaskStatus persists a record's task-status fields. The record's Kind
// selects the backing table from a fixed whitelist.
func (s *Store) SaveTaskStatus(ctx context.Context, rec TaskRecord) error {
	switch rec.Kind() {
	case KindImportJob, KindImportItem, KindImportItemAsset,
		KindVerifyImageJob, KindDownloadImageJob:
	default:
		return fmt.Errorf("unknown task record kind: %s", rec.Kind())
	}

	ts := rec.Task()
	fh, err := json.Marshal(ts.FailureHistory)
	if err != nil {
		return fmt.Errorf("failed to encode failure history: %w", err)
	}
	sh, err := json.Marshal(ts.StatusHistory)
	if err != nil {
		return fmt.Errorf("failed to encode status history: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET updated_at = NOW(),
		    last_started = $2,
		    completed = $3,
		    failed = $4,
		    status = $5,
		    task_id = $6,
		    failure_reason = $7,
		    retry_count = $8,
		    failure_history = $9,
		    status_history = $10
		WHERE id = $1
	`, rec.Kind())

	_, err = s.pool.Exec(ctx, query, rec.RecordID(),
		ts.LastStarted, ts.Completed, ts.Failed, ts.Status, ts.TaskID,
		ts.FailureReason, ts.RetryCount, fh, sh)
	if err != nil {
		return fmt.Errorf("failed to save task status for %s %d: %w", rec.Kind(), rec.RecordID(), err)
	}
	return nil
}

// GetProject returns a project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx, `
		SELECT id, campaign_slug, slug, title, created_at
		FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.CampaignSlug, &p.Slug, &p.Title, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %d: %w", id, err)
	}
	return &p, nil
}

// GetOrCreateItem looks up an item by its remote identifier, creating it
// under the project when missing. The second result reports whether the item
// already existed.
func (s *Store) GetOrCreateItem(ctx context.Context, projectID int64, remoteID, itemURL string) (*Item, bool, error) {
	item, err := s.getItemByRemoteID(ctx, remoteID)
	if err == nil {
		return item, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO items (project_id, item_id, item_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO UPDATE SET item_url = EXCLUDED.item_url
		RETURNING id
	`, projectID, remoteID, itemURL).Scan(&id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create item %s: %w", remoteID, err)
	}

	created, err := s.GetItem(ctx, id)
	return created, false, err
}

func (s *Store) getItemByRemoteID(ctx context.Context, remoteID string) (*Item, error) {
	var item Item
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, item_id, item_url, title, description, metadata,
		       thumbnail_key, created_at, updated_at
		FROM items WHERE item_id = $1
	`, remoteID).Scan(&item.ID, &item.ProjectID, &item.ItemID, &item.ItemURL,
		&item.Title, &item.Description, &item.Metadata, &item.ThumbnailKey,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItem returns an item by primary key.
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	var item Item
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, item_id, item_url, title, description, metadata,
		       thumbnail_key, created_at, updated_at
		FROM items WHERE id = $1
	`, id).Scan(&item.ID, &item.ProjectID, &item.ItemID, &item.ItemURL,
		&item.Title, &item.Description, &item.Metadata, &item.ThumbnailKey,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load item %d: %w", id, err)
	}
	return &item, nil
}

// UpdateItem persists an item's metadata and descriptive fields.
func (s *Store) UpdateItem(ctx context.Context, item *Item) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE items
		SET title = $2, description = $3, metadata = $4, item_url = $5,
		    updated_at = NOW()
		WHERE id = $1
	`, item.ID, item.Title, item.Description, item.Metadata, item.ItemURL)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", item.ID, err)
	}
	return nil
}

// CountItemAssets returns how many assets the item has materialized.
func (s *Store) CountItemAssets(ctx context.Context, itemID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM assets WHERE item_id = $1
	`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assets for item %d: %w", itemID, err)
	}
	return count, nil
}

// SetItemThumbnail stores a thumbnail key using a read-modify-write guard:
// unless force is set it only writes when no thumbnail is present, so a
// concurrent worker that finished first wins. Returns false when the guard
// rejected the write.
func (s *Store) SetItemThumbnail(ctx context.Context, itemID int64, key string, force bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET thumbnail_key = $2, updated_at = NOW()
		WHERE id = $1 AND (thumbnail_key = '' OR $3)
	`, itemID, key, force)
	if err != nil {
		return false, fmt.Errorf("failed to set thumbnail for item %d: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetAsset returns an asset by primary key.
func (s *Store) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	var a Asset
	err := s.pool.QueryRow(ctx, `
		SELECT id, item_id, sequence, title, slug, download_url, resource_url,
		       extension, storage_key, created_at, updated_at
		FROM assets WHERE id = $1
	`, id).Scan(&a.ID, &a.ItemID, &a.Sequence, &a.Title, &a.Slug,
		&a.DownloadURL, &a.ResourceURL, &a.Extension, &a.StorageKey,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %d: %w", id, err)
	}
	return &a, nil
}

// GetAssetContext returns an asset together with the campaign/project/item
// naming context its storage key is built from.
func (s *Store) GetAssetContext(ctx context.Context, assetID int64) (*AssetContext, error) {
	var ac AssetContext
	a := &ac.Asset
	err := s.pool.QueryRow(ctx, `
		SELECT a.id, a.item_id, a.sequence, a.title, a.slug, a.download_url,
		       a.resource_url, a.extension, a.storage_key, a.created_at, a.updated_at,
		       p.campaign_slug, p.slug, i.item_id
		FROM assets a
		JOIN items i ON i.id = a.item_id
		JOIN projects p ON p.id = i.project_id
		WHERE a.id = $1
	`, assetID).Scan(&a.ID, &a.ItemID, &a.Sequence, &a.Title, &a.Slug,
		&a.DownloadURL, &a.ResourceURL, &a.Extension, &a.StorageKey,
		&a.CreatedAt, &a.UpdatedAt,
		&ac.CampaignSlug, &ac.ProjectSlug, &ac.RemoteItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset context %d: %w", assetID, err)
	}
	return &ac, nil
}

// SetAssetStorageKey records where the asset's verified image bytes live.
func (s *Store) SetAssetStorageKey(ctx context.Context, assetID int64, key string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE assets SET storage_key = $2, updated_at = NOW() WHERE id = $1
	`, assetID, key)
	if err != nil {
		return fmt.Errorf("failed to set storage key for asset %d: %w", assetID, err)
	}
	return nil
}
