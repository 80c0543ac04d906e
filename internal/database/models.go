package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Project is one transcription project inside a campaign.
type Project struct {
	ID           int64     `json:"id"`
	CampaignSlug string    `json:"campaign_slug"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
}

// Item is one logical document imported from the remote digital library.
type Item struct {
	ID           int64           `json:"id"`
	ProjectID    int64           `json:"project_id"`
	ItemID       string          `json:"item_id"` // remote item identifier
	ItemURL      string          `json:"item_url"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Metadata     json.RawMessage `json:"metadata"`
	ThumbnailKey string          `json:"thumbnail_key"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Asset is one page image belonging to an item.
type Asset struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"` // FK to items.id
	Sequence    int       `json:"sequence"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	DownloadURL string    `json:"download_url"`
	ResourceURL string    `json:"resource_url"`
	Extension   string    `json:"extension"`
	StorageKey  string    `json:"storage_key"` // empty until an image is stored
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AssetContext carries the naming context needed to build an asset's
// canonical storage key: {campaign}/{project}/{item}/{sequence}.{ext}.
type AssetContext struct {
	Asset        Asset
	CampaignSlug string
	ProjectSlug  string
	RemoteItemID string
}

// TaskRecord is any record carrying task-status bookkeeping. Kind names the
// backing table for persistence.
type TaskRecord interface {
	Task() *TaskStatus
	Kind() string
	RecordID() int64
}

// Table names doubling as record kinds.
const (
	KindImportJob        = "import_jobs"
	KindImportItem       = "import_items"
	KindImportItemAsset  = "import_item_assets"
	KindVerifyImageJob   = "verify_asset_image_jobs"
	KindDownloadImageJob = "download_asset_image_jobs"
)

// ImportJob is one user-initiated request to import from a source URL into a
// destination project. System-initiated jobs have an empty CreatedBy.
type ImportJob struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	SourceURL string `json:"source_url"`
	CreatedBy string `json:"created_by"`
	TaskStatus
}

func (j *ImportJob) Task() *TaskStatus { return &j.TaskStatus }
func (j *ImportJob) Kind() string      { return KindImportJob }
func (j *ImportJob) RecordID() int64   { return j.ID }

// ImportItem is one remote item being imported under a job.
type ImportItem struct {
	ID     int64  `json:"id"`
	JobID  int64  `json:"job_id"`
	ItemID int64  `json:"item_id"` // FK to items.id
	URL    string `json:"url"`
	TaskStatus
}

func (i *ImportItem) Task() *TaskStatus { return &i.TaskStatus }
func (i *ImportItem) Kind() string      { return KindImportItem }
func (i *ImportItem) RecordID() int64   { return i.ID }

// ImportItemAsset is one page image's import task, the finest-grained
// retryable unit of the pipeline.
type ImportItemAsset struct {
	ID           int64  `json:"id"`
	ImportItemID int64  `json:"import_item_id"`
	AssetID      int64  `json:"asset_id"`
	URL          string `json:"url"`
	Sequence     int    `json:"sequence"`
	TaskStatus
}

func (a *ImportItemAsset) Task() *TaskStatus { return &a.TaskStatus }
func (a *ImportItemAsset) Kind() string      { return KindImportItemAsset }
func (a *ImportItemAsset) RecordID() int64   { return a.ID }

// VerifyAssetImageJob is one integrity check of an already-imported asset's
// stored image, optionally scoped to a batch.
type VerifyAssetImageJob struct {
	ID      int64      `json:"id"`
	AssetID int64      `json:"asset_id"`
	Batch   *uuid.UUID `json:"batch"`
	TaskStatus
}

func (j *VerifyAssetImageJob) Task() *TaskStatus { return &j.TaskStatus }
func (j *VerifyAssetImageJob) Kind() string      { return KindVerifyImageJob }
func (j *VerifyAssetImageJob) RecordID() int64   { return j.ID }

// DownloadAssetImageJob is one re-fetch of an asset's image, created when
// verification fails or requested ad hoc. URL, when set, overrides the
// asset's stored download URL.
type DownloadAssetImageJob struct {
	ID      int64      `json:"id"`
	AssetID int64      `json:"asset_id"`
	Batch   *uuid.UUID `json:"batch"`
	URL     string     `json:"url"`
	TaskStatus
}

func (j *DownloadAssetImageJob) Task() *TaskStatus { return &j.TaskStatus }
func (j *DownloadAssetImageJob) Kind() string      { return KindDownloadImageJob }
func (j *DownloadAssetImageJob) RecordID() int64   { return j.ID }

// BatchSummary describes one batch for the admin surface.
type BatchSummary struct {
	Batch      uuid.UUID  `json:"batch"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Failed     int        `json:"failed"`
	LastActive *time.Time `json:"last_active"`
}
