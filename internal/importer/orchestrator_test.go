package importer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordia/import-service/internal/catalog"
	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
)

func newTestImporter(store *fakeStore, queue *fakeQueue, cat *fakeCatalog, config Config) *Importer {
	return New(store, queue, cat, newFakeObjects(), nil, nil, config)
}

func itemDetail(id string, urls ...string) *catalog.ItemDetail {
	resources := []catalog.Resource{{URL: "https://example.org/resource/" + id + "/"}}
	for _, u := range urls {
		resources[0].Files = append(resources[0].Files, []catalog.FileVariant{
			{URL: u, Height: intp(100), Width: intp(100), Mimetype: "image/jpeg"},
		})
	}
	return &catalog.ItemDetail{
		Item: catalog.ItemMetadata{
			ID:    id,
			Title: "Item " + id,
			Raw:   json.RawMessage(`{"id":"` + id + `"}`),
		},
		Resources: resources,
	}
}

func intp(i int) *int { return &i }

func TestRunImportJobItemURL(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	imp := newTestImporter(store, queue, &fakeCatalog{}, Config{})

	job := &database.ImportJob{ID: 1, ProjectID: 1, SourceURL: "https://example.org/item/mss0001/"}
	store.jobs[1] = job

	err := imp.RunImportJob(context.Background(), "task-1", 1, false)
	require.NoError(t, err)

	// An item URL bypasses collection discovery: exactly one item task.
	tasks := queue.tasksOfType(taskqueue.TaskTypeImportItem)
	require.Len(t, tasks, 1)
	p := tasks[0].input.Payload.(ImportItemPayload)
	assert.Equal(t, int64(1), p.JobID)
	assert.Equal(t, "https://example.org/item/mss0001/", p.ItemURL)

	assert.True(t, job.IsCompleted())
	assert.Contains(t, job.StatusHistory[len(job.StatusHistory)-1].Status, "Queued 1 items")
}

func TestRunImportJobCollectionURL(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	cat := &fakeCatalog{collections: map[string][]catalog.CollectionItem{
		"https://example.org/collections/letters": {
			{ID: "mss0001", URL: "https://example.org/item/mss0001/"},
			{ID: "mss0002", URL: "https://example.org/item/mss0002/"},
			{ID: "mss0003", URL: "https://example.org/item/mss0003/"},
		},
	}}
	imp := newTestImporter(store, queue, cat, Config{})

	store.jobs[1] = &database.ImportJob{ID: 1, ProjectID: 1, SourceURL: "https://example.org/collections/letters"}

	err := imp.RunImportJob(context.Background(), "task-1", 1, true)
	require.NoError(t, err)

	tasks := queue.tasksOfType(taskqueue.TaskTypeImportItem)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.True(t, task.input.Payload.(ImportItemPayload).Redownload)
	}
}

func TestCreateItemImportSkipsFullyImportedItem(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	itemURL := "https://example.org/item/mss0001/"
	cat := &fakeCatalog{details: map[string]*catalog.ItemDetail{
		itemURL: itemDetail("mss0001", "https://cdn.example.org/1.jpg", "https://cdn.example.org/2.jpg"),
	}}
	imp := newTestImporter(store, queue, cat, Config{})

	store.jobs[1] = &database.ImportJob{ID: 1, ProjectID: 5}
	// Item already exists with both expected assets.
	item := &database.Item{ID: 10, ProjectID: 5, ItemID: "mss0001"}
	store.items[10] = item
	store.itemsByRID["mss0001"] = item
	store.assetCounts[10] = 2

	err := imp.CreateItemImport(context.Background(), 1, itemURL, false)
	require.NoError(t, err)

	// Import record completes without any downstream work.
	assert.Empty(t, queue.tasks)
	assert.Empty(t, queue.chords)
	require.Len(t, store.saved, 1)
	saved := store.saved[0].(*database.ImportItem)
	assert.True(t, saved.IsCompleted())
	assert.Contains(t, saved.StatusHistory[0].Status, "Not reprocessing")
}

func TestCreateItemImportQueuesMaterialization(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	itemURL := "https://example.org/item/mss0001/"
	cat := &fakeCatalog{details: map[string]*catalog.ItemDetail{
		itemURL: itemDetail("mss0001", "https://cdn.example.org/1.jpg"),
	}}
	cat.details[itemURL].Item.ImageURL = []string{"https://cdn.example.org/thumb.jpg"}
	imp := newTestImporter(store, queue, cat, Config{})

	store.jobs[1] = &database.ImportJob{ID: 1, ProjectID: 5}

	err := imp.CreateItemImport(context.Background(), 1, itemURL, false)
	require.NoError(t, err)

	require.Len(t, queue.tasksOfType(taskqueue.TaskTypeThumbnail), 1)
	require.Len(t, queue.tasksOfType(taskqueue.TaskTypeMaterialize), 1)

	// Metadata is persisted on the item.
	item := store.itemsByRID["mss0001"]
	require.NotNil(t, item)
	assert.Equal(t, "Item mss0001", item.Title)
	var meta storedMetadata
	require.NoError(t, json.Unmarshal(item.Metadata, &meta))
	assert.Len(t, meta.Resources, 1)
}

func TestMaterializeAssetsFansOutChord(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	imp := newTestImporter(store, queue, &fakeCatalog{}, Config{})

	detail := itemDetail("mss0001",
		"https://cdn.example.org/page1.jpg",
		"https://cdn.example.org/page2.jpg")
	meta, err := json.Marshal(storedMetadata{Item: detail.Item.Raw, Resources: detail.Resources})
	require.NoError(t, err)

	store.items[10] = &database.Item{ID: 10, ItemID: "mss0001", Metadata: meta}
	store.importItems[20] = &database.ImportItem{ID: 20, JobID: 1, ItemID: 10}

	err = imp.MaterializeAssets(context.Background(), "task-1", 20)
	require.NoError(t, err)

	require.Len(t, queue.chords, 1)
	chord := queue.chords[0]
	assert.Len(t, chord.members, 2)
	assert.Equal(t, taskqueue.TaskTypeItemComplete, chord.callbackType)
	assert.Equal(t, ItemCompletePayload{ImportItemID: 20}, chord.payload)

	// Asset rows carry 1-based sequence numbers and derived slugs.
	require.Len(t, store.importAssets, 2)
	seqs := map[int]bool{}
	for _, ia := range store.importAssets {
		seqs[ia.Sequence] = true
	}
	assert.True(t, seqs[1])
	assert.True(t, seqs[2])
}

func TestMaterializeAssetsEmptyResources(t *testing.T) {
	store := newFakeStore()
	queue := &fakeQueue{}
	imp := newTestImporter(store, queue, &fakeCatalog{}, Config{})

	meta, err := json.Marshal(storedMetadata{})
	require.NoError(t, err)
	store.items[10] = &database.Item{ID: 10, ItemID: "mss0001", Metadata: meta}
	store.importItems[20] = &database.ImportItem{ID: 20, ItemID: 10}

	err = imp.MaterializeAssets(context.Background(), "task-1", 20)
	require.NoError(t, err)

	// Zero members still settle through the chord callback.
	require.Len(t, queue.chords, 1)
	assert.Empty(t, queue.chords[0].members)
}

func TestFinishItemImportCountsNullResults(t *testing.T) {
	store := newFakeStore()
	imp := newTestImporter(store, &fakeQueue{}, &fakeCatalog{}, Config{})

	importItem := &database.ImportItem{ID: 20}
	store.importItems[20] = importItem

	results := []json.RawMessage{
		json.RawMessage(`true`),
		json.RawMessage(`null`),
		json.RawMessage(`true`),
	}
	err := imp.FinishItemImport(context.Background(), 20, results)
	require.NoError(t, err)
	assert.Equal(t, "1 of 3 asset downloads failed", importItem.Status)

	err = imp.FinishItemImport(context.Background(), 20, []json.RawMessage{json.RawMessage(`true`)})
	require.NoError(t, err)
	assert.Equal(t, "All 1 asset downloads finished", importItem.Status)
}

func TestValidateAsset(t *testing.T) {
	valid := &database.Asset{Sequence: 1, Slug: "mss0001-1", DownloadURL: "https://cdn.example.org/1.jpg"}
	assert.NoError(t, validateAsset(valid))

	noURL := &database.Asset{Sequence: 1, Slug: "mss0001-1"}
	assert.Error(t, validateAsset(noURL))

	noSlug := &database.Asset{Sequence: 1, Slug: "-1", DownloadURL: "https://cdn.example.org/1.jpg"}
	assert.Error(t, validateAsset(noSlug))

	badSeq := &database.Asset{Sequence: 0, Slug: "mss0001-0", DownloadURL: "https://cdn.example.org/1.jpg"}
	assert.Error(t, validateAsset(badSeq))
}
