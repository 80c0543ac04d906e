package importer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/concordia/import-service/internal/catalog"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/httpx"
	"github.com/concordia/import-service/internal/pipeline"
	"github.com/concordia/import-service/internal/storage"
	"github.com/concordia/import-service/internal/taskqueue"
)

// Store is the persistence surface the importer needs.
type Store interface {
	pipeline.Store

	GetProject(ctx context.Context, id int64) (*database.Project, error)
	GetOrCreateItem(ctx context.Context, projectID int64, remoteID, itemURL string) (*database.Item, bool, error)
	GetItem(ctx context.Context, id int64) (*database.Item, error)
	UpdateItem(ctx context.Context, item *database.Item) error
	CountItemAssets(ctx context.Context, itemID int64) (int, error)
	SetItemThumbnail(ctx context.Context, itemID int64, key string, force bool) (bool, error)

	GetAssetContext(ctx context.Context, assetID int64) (*database.AssetContext, error)
	SetAssetStorageKey(ctx context.Context, assetID int64, key string) error

	GetImportJob(ctx context.Context, id int64) (*database.ImportJob, error)
	GetOrCreateImportItem(ctx context.Context, jobID, itemID int64, url string) (*database.ImportItem, bool, error)
	GetImportItem(ctx context.Context, id int64) (*database.ImportItem, error)
	CreateItemAssets(ctx context.Context, importItemID int64, assets []*database.Asset) ([]*database.ImportItemAsset, error)
	GetImportItemAsset(ctx context.Context, id int64) (*database.ImportItemAsset, error)
	GetDownloadJob(ctx context.Context, id int64) (*database.DownloadAssetImageJob, error)
}

// Queue is the task-queue surface the importer needs.
type Queue interface {
	ScheduleTask(ctx context.Context, input taskqueue.ScheduleTaskInput) (uuid.UUID, error)
	ScheduleChord(ctx context.Context, members []taskqueue.ScheduleTaskInput, callbackType string, callbackPayload interface{}) (uuid.UUID, error)
}

// Catalog is the source-API surface the importer needs.
type Catalog interface {
	GetCollectionItems(ctx context.Context, collectionURL string) ([]catalog.CollectionItem, error)
	GetItem(ctx context.Context, itemURL string) (*catalog.ItemDetail, error)
}

// Config tunes the importer's image retry policy and checksum handling.
type Config struct {
	// MaxRetries bounds application-level retries of image failures.
	MaxRetries int
	// RetryDelay is the wait before a retry attempt. Zero disables the
	// retry policy entirely.
	RetryDelay time.Duration
	// StrictChecksum makes a checksum mismatch between the download and
	// the stored object a hard failure instead of a warning.
	StrictChecksum bool
}

// Importer drives the import pipeline: collection discovery, item metadata
// fetch, asset materialization and per-asset image download.
type Importer struct {
	store   Store
	queue   Queue
	catalog Catalog
	objects storage.Storage
	http    *httpx.Client
	runner  *pipeline.Runner
	config  Config
}

func New(store Store, queue Queue, cat Catalog, objects storage.Storage, http *httpx.Client, notifier pipeline.Notifier, config Config) *Importer {
	imp := &Importer{
		store:   store,
		queue:   queue,
		catalog: cat,
		objects: objects,
		http:    http,
		config:  config,
	}
	imp.runner = pipeline.NewRunner(store, notifier, imp.retryImageFailure)
	return imp
}

// Runner exposes the execution wrapper for workers sharing the importer's
// retry policy.
func (imp *Importer) Runner() *pipeline.Runner {
	return imp.runner
}
