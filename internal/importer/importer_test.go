package importer

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/concordia/import-service/internal/catalog"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/storage"
	"github.com/concordia/import-service/internal/taskqueue"
)

// Shared in-memory fakes for the importer tests.

type fakeStore struct {
	projects     map[int64]*database.Project
	items        map[int64]*database.Item
	itemsByRID   map[string]*database.Item
	jobs         map[int64]*database.ImportJob
	importItems  map[int64]*database.ImportItem
	importAssets map[int64]*database.ImportItemAsset
	downloadJobs map[int64]*database.DownloadAssetImageJob
	assetCtxs    map[int64]*database.AssetContext

	assetCounts map[int64]int
	storageKeys map[int64]string
	nextID      int64

	saved []database.TaskRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:     map[int64]*database.Project{},
		items:        map[int64]*database.Item{},
		itemsByRID:   map[string]*database.Item{},
		jobs:         map[int64]*database.ImportJob{},
		importItems:  map[int64]*database.ImportItem{},
		importAssets: map[int64]*database.ImportItemAsset{},
		downloadJobs: map[int64]*database.DownloadAssetImageJob{},
		assetCtxs:    map[int64]*database.AssetContext{},
		assetCounts:  map[int64]int{},
		storageKeys:  map[int64]string{},
		nextID:       100,
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) SaveTaskStatus(ctx context.Context, rec database.TaskRecord) error {
	s.saved = append(s.saved, rec)
	return nil
}

func (s *fakeStore) GetProject(ctx context.Context, id int64) (*database.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d not found", id)
	}
	return p, nil
}

func (s *fakeStore) GetOrCreateItem(ctx context.Context, projectID int64, remoteID, itemURL string) (*database.Item, bool, error) {
	if item, ok := s.itemsByRID[remoteID]; ok {
		return item, true, nil
	}
	item := &database.Item{ID: s.id(), ProjectID: projectID, ItemID: remoteID, ItemURL: itemURL}
	s.items[item.ID] = item
	s.itemsByRID[remoteID] = item
	return item, false, nil
}

func (s *fakeStore) GetItem(ctx context.Context, id int64) (*database.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d not found", id)
	}
	return item, nil
}

func (s *fakeStore) UpdateItem(ctx context.Context, item *database.Item) error {
	s.items[item.ID] = item
	return nil
}

func (s *fakeStore) CountItemAssets(ctx context.Context, itemID int64) (int, error) {
	return s.assetCounts[itemID], nil
}

func (s *fakeStore) SetItemThumbnail(ctx context.Context, itemID int64, key string, force bool) (bool, error) {
	item, ok := s.items[itemID]
	if !ok {
		return false, fmt.Errorf("item %d not found", itemID)
	}
	if item.ThumbnailKey != "" && !force {
		return false, nil
	}
	item.ThumbnailKey = key
	return true, nil
}

func (s *fakeStore) GetAssetContext(ctx context.Context, assetID int64) (*database.AssetContext, error) {
	ac, ok := s.assetCtxs[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %d not found", assetID)
	}
	return ac, nil
}

func (s *fakeStore) SetAssetStorageKey(ctx context.Context, assetID int64, key string) error {
	s.storageKeys[assetID] = key
	return nil
}

func (s *fakeStore) GetImportJob(ctx context.Context, id int64) (*database.ImportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("import job %d not found", id)
	}
	return job, nil
}

func (s *fakeStore) GetOrCreateImportItem(ctx context.Context, jobID, itemID int64, url string) (*database.ImportItem, bool, error) {
	for _, ii := range s.importItems {
		if ii.JobID == jobID && ii.ItemID == itemID {
			return ii, true, nil
		}
	}
	ii := &database.ImportItem{ID: s.id(), JobID: jobID, ItemID: itemID, URL: url}
	s.importItems[ii.ID] = ii
	return ii, false, nil
}

func (s *fakeStore) GetImportItem(ctx context.Context, id int64) (*database.ImportItem, error) {
	ii, ok := s.importItems[id]
	if !ok {
		return nil, fmt.Errorf("import item %d not found", id)
	}
	return ii, nil
}

func (s *fakeStore) CreateItemAssets(ctx context.Context, importItemID int64, assets []*database.Asset) ([]*database.ImportItemAsset, error) {
	created := make([]*database.ImportItemAsset, 0, len(assets))
	for _, a := range assets {
		a.ID = s.id()
		ia := &database.ImportItemAsset{
			ID:           s.id(),
			ImportItemID: importItemID,
			AssetID:      a.ID,
			URL:          a.DownloadURL,
			Sequence:     a.Sequence,
		}
		s.importAssets[ia.ID] = ia
		created = append(created, ia)
	}
	return created, nil
}

func (s *fakeStore) GetImportItemAsset(ctx context.Context, id int64) (*database.ImportItemAsset, error) {
	ia, ok := s.importAssets[id]
	if !ok {
		return nil, fmt.Errorf("import asset %d not found", id)
	}
	return ia, nil
}

func (s *fakeStore) GetDownloadJob(ctx context.Context, id int64) (*database.DownloadAssetImageJob, error) {
	job, ok := s.downloadJobs[id]
	if !ok {
		return nil, fmt.Errorf("download job %d not found", id)
	}
	return job, nil
}

type scheduledTask struct {
	input taskqueue.ScheduleTaskInput
	id    uuid.UUID
}

type scheduledChord struct {
	members      []taskqueue.ScheduleTaskInput
	callbackType string
	payload      interface{}
}

type fakeQueue struct {
	tasks  []scheduledTask
	chords []scheduledChord
}

func (q *fakeQueue) ScheduleTask(ctx context.Context, input taskqueue.ScheduleTaskInput) (uuid.UUID, error) {
	id := uuid.New()
	q.tasks = append(q.tasks, scheduledTask{input: input, id: id})
	return id, nil
}

func (q *fakeQueue) ScheduleChord(ctx context.Context, members []taskqueue.ScheduleTaskInput, callbackType string, callbackPayload interface{}) (uuid.UUID, error) {
	q.chords = append(q.chords, scheduledChord{members: members, callbackType: callbackType, payload: callbackPayload})
	return uuid.New(), nil
}

func (q *fakeQueue) tasksOfType(taskType string) []scheduledTask {
	var out []scheduledTask
	for _, t := range q.tasks {
		if t.input.TaskType == taskType {
			out = append(out, t)
		}
	}
	return out
}

type fakeCatalog struct {
	collections map[string][]catalog.CollectionItem
	details     map[string]*catalog.ItemDetail
}

func (c *fakeCatalog) GetCollectionItems(ctx context.Context, collectionURL string) ([]catalog.CollectionItem, error) {
	items, ok := c.collections[collectionURL]
	if !ok {
		return nil, fmt.Errorf("no collection registered for %s", collectionURL)
	}
	return items, nil
}

func (c *fakeCatalog) GetItem(ctx context.Context, itemURL string) (*catalog.ItemDetail, error) {
	detail, ok := c.details[itemURL]
	if !ok {
		return nil, fmt.Errorf("no item registered for %s", itemURL)
	}
	return detail, nil
}

// fakeObjects is an in-memory object store whose ETags can be corrupted to
// simulate checksum mismatches.
type fakeObjects struct {
	saved      map[string][]byte
	corruptTag bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{saved: map[string][]byte{}}
}

func (f *fakeObjects) Save(ctx context.Context, key string, content io.Reader, size int64, contentType string) (*storage.FileInfo, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.saved[key] = data

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	if f.corruptTag {
		etag = "deadbeef"
	}
	return &storage.FileInfo{Key: key, Size: int64(len(data)), ETag: etag, ContentType: contentType, ModifiedAt: time.Now()}, nil
}

func (f *fakeObjects) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.saved[key]
	if !ok {
		return nil, fmt.Errorf("no object at %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjects) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	data, ok := f.saved[key]
	if !ok {
		return nil, fmt.Errorf("no object at %s", key)
	}
	sum := md5.Sum(data)
	return &storage.FileInfo{Key: key, Size: int64(len(data)), ETag: hex.EncodeToString(sum[:])}, nil
}

func (f *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.saved[key]
	return ok, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	delete(f.saved, key)
	return nil
}

func (f *fakeObjects) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range f.saved {
		keys = append(keys, k)
	}
	return keys, nil
}
