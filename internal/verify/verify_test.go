package verify

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/storage"
	"github.com/concordia/import-service/internal/taskqueue"
)

type fakeStore struct {
	verifyJobs map[int64]*database.VerifyAssetImageJob
	assetCtxs  map[int64]*database.AssetContext

	ensured      []int64
	ensureExists bool
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		verifyJobs: map[int64]*database.VerifyAssetImageJob{},
		assetCtxs:  map[int64]*database.AssetContext{},
		nextID:     500,
	}
}

func (s *fakeStore) SaveTaskStatus(ctx context.Context, rec database.TaskRecord) error {
	return nil
}

func (s *fakeStore) GetVerifyJob(ctx context.Context, id int64) (*database.VerifyAssetImageJob, error) {
	job, ok := s.verifyJobs[id]
	if !ok {
		return nil, fmt.Errorf("verify job %d not found", id)
	}
	return job, nil
}

func (s *fakeStore) GetAssetContext(ctx context.Context, assetID int64) (*database.AssetContext, error) {
	ac, ok := s.assetCtxs[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %d not found", assetID)
	}
	return ac, nil
}

func (s *fakeStore) EnsureDownloadJob(ctx context.Context, assetID int64, batch *uuid.UUID, status string) (int64, bool, error) {
	if s.ensureExists {
		return 0, false, nil
	}
	s.nextID++
	s.ensured = append(s.ensured, assetID)
	return s.nextID, true, nil
}

type fakeQueue struct {
	tasks []taskqueue.ScheduleTaskInput
}

func (q *fakeQueue) ScheduleTask(ctx context.Context, input taskqueue.ScheduleTaskInput) (uuid.UUID, error) {
	q.tasks = append(q.tasks, input)
	return uuid.New(), nil
}

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) Save(ctx context.Context, key string, content io.Reader, size int64, contentType string) (*storage.FileInfo, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &storage.FileInfo{Key: key, Size: int64(len(data)), ModifiedAt: time.Now()}, nil
}

func (f *fakeObjects) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object at %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjects) Stat(ctx context.Context, key string) (*storage.FileInfo, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object at %s", key)
	}
	return &storage.FileInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjects) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func validPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func setup(t *testing.T) (*fakeStore, *fakeQueue, *fakeObjects, *Verifier) {
	store := newFakeStore()
	queue := &fakeQueue{}
	objects := &fakeObjects{objects: map[string][]byte{}}
	return store, queue, objects, New(store, queue, objects, nil)
}

func TestRunVerifyJobPasses(t *testing.T) {
	store, queue, objects, v := setup(t)

	objects.objects["c/p/i/1.png"] = validPNG(t)
	store.assetCtxs[3] = &database.AssetContext{Asset: database.Asset{ID: 3, StorageKey: "c/p/i/1.png"}}
	job := &database.VerifyAssetImageJob{ID: 1, AssetID: 3}
	store.verifyJobs[1] = job

	verified, err := v.RunVerifyJob(context.Background(), "task-1", 1)
	require.NoError(t, err)
	assert.True(t, verified)
	assert.True(t, job.IsCompleted())
	assert.Empty(t, store.ensured, "passing checks create no repair jobs")
	assert.Empty(t, queue.tasks)
}

func TestRunVerifyJobMissingStorageKey(t *testing.T) {
	store, queue, _, v := setup(t)

	store.assetCtxs[3] = &database.AssetContext{Asset: database.Asset{ID: 3}}
	job := &database.VerifyAssetImageJob{ID: 1, AssetID: 3}
	store.verifyJobs[1] = job

	verified, err := v.RunVerifyJob(context.Background(), "task-1", 1)
	require.NoError(t, err, "a failed check is a finding, not an execution error")
	assert.False(t, verified)
	assert.True(t, job.IsCompleted())
	assert.Contains(t, job.StatusHistory[len(job.StatusHistory)-1].Status, "no stored image")

	// Ad-hoc verification (nil batch) repairs immediately.
	require.Len(t, store.ensured, 1)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, taskqueue.TaskTypeDownloadImage, queue.tasks[0].TaskType)
}

func TestRunVerifyJobMissingObject(t *testing.T) {
	store, _, _, v := setup(t)

	store.assetCtxs[3] = &database.AssetContext{Asset: database.Asset{ID: 3, StorageKey: "c/p/i/1.png"}}
	job := &database.VerifyAssetImageJob{ID: 1, AssetID: 3}
	store.verifyJobs[1] = job

	verified, err := v.RunVerifyJob(context.Background(), "task-1", 1)
	require.NoError(t, err)
	assert.False(t, verified)
	assert.Len(t, store.ensured, 1)
}

func TestRunVerifyJobCorruptImage(t *testing.T) {
	store, _, objects, v := setup(t)

	objects.objects["c/p/i/1.png"] = []byte("not an image at all")
	store.assetCtxs[3] = &database.AssetContext{Asset: database.Asset{ID: 3, StorageKey: "c/p/i/1.png"}}
	job := &database.VerifyAssetImageJob{ID: 1, AssetID: 3}
	store.verifyJobs[1] = job

	verified, err := v.RunVerifyJob(context.Background(), "task-1", 1)
	require.NoError(t, err)
	assert.False(t, verified)
	assert.Len(t, store.ensured, 1)
}

func TestRunVerifyJobBatchedDefersDownload(t *testing.T) {
	store, queue, _, v := setup(t)

	batch := uuid.New()
	store.assetCtxs[3] = &database.AssetContext{Asset: database.Asset{ID: 3}}
	job := &database.VerifyAssetImageJob{ID: 1, AssetID: 3, Batch: &batch}
	store.verifyJobs[1] = job

	verified, err := v.RunVerifyJob(context.Background(), "task-1", 1)
	require.NoError(t, err)
	assert.False(t, verified)
	// The batch scheduler drains batched repair jobs in download waves.
	assert.Len(t, store.ensured, 1)
	assert.Empty(t, queue.tasks)
}

func TestRunVerifyJobDeduplicatesRepairs(t *testing.T) {
	store, queue, _, v := setup(t)
	store.ensureExists = true

	store.assetCtxs[3] = &database.AssetContext{Asset: database.Asset{ID: 3}}
	job := &database.VerifyAssetImageJob{ID: 1, AssetID: 3}
	store.verifyJobs[1] = job

	verified, err := v.RunVerifyJob(context.Background(), "task-1", 1)
	require.NoError(t, err)
	assert.False(t, verified)
	assert.Empty(t, queue.tasks, "an existing open repair job is reused, not duplicated")
}
