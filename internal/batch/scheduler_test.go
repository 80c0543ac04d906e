package batch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
)

type fakeStore struct {
	verifyPending   []*database.VerifyAssetImageJob
	downloadPending []*database.DownloadAssetImageJob
	createdJobs     int
}

func (s *fakeStore) PendingVerifyJobs(ctx context.Context, batch uuid.UUID, limit int) ([]*database.VerifyAssetImageJob, error) {
	if limit > len(s.verifyPending) {
		limit = len(s.verifyPending)
	}
	claimed := s.verifyPending[:limit]
	s.verifyPending = s.verifyPending[limit:]
	return claimed, nil
}

func (s *fakeStore) PendingDownloadJobs(ctx context.Context, batch uuid.UUID, limit int) ([]*database.DownloadAssetImageJob, error) {
	if limit > len(s.downloadPending) {
		limit = len(s.downloadPending)
	}
	claimed := s.downloadPending[:limit]
	s.downloadPending = s.downloadPending[limit:]
	return claimed, nil
}

func (s *fakeStore) CreateVerifyJobs(ctx context.Context, assetIDs []int64, batch uuid.UUID, chunkSize int) (int, error) {
	for _, id := range assetIDs {
		s.verifyPending = append(s.verifyPending, &database.VerifyAssetImageJob{
			ID:      id * 10,
			AssetID: id,
			Batch:   &batch,
		})
	}
	s.createdJobs += len(assetIDs)
	return len(assetIDs), nil
}

type fakeQueue struct {
	tasks  []taskqueue.ScheduleTaskInput
	chords [][]taskqueue.ScheduleTaskInput
}

func (q *fakeQueue) ScheduleTask(ctx context.Context, input taskqueue.ScheduleTaskInput) (uuid.UUID, error) {
	q.tasks = append(q.tasks, input)
	return uuid.New(), nil
}

func (q *fakeQueue) ScheduleChord(ctx context.Context, members []taskqueue.ScheduleTaskInput, callbackType string, callbackPayload interface{}) (uuid.UUID, error) {
	q.chords = append(q.chords, members)
	return uuid.New(), nil
}

// popWave returns and clears the last scheduled wave task's payload.
func (q *fakeQueue) popWave(t *testing.T) WavePayload {
	t.Helper()
	require.NotEmpty(t, q.tasks, "expected a scheduled wave task")
	last := q.tasks[len(q.tasks)-1]
	q.tasks = q.tasks[:len(q.tasks)-1]
	require.Equal(t, taskqueue.TaskTypeBatchWave, last.TaskType)
	return last.Payload.(WavePayload)
}

func results(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		out = append(out, json.RawMessage(v))
	}
	return out
}

func TestCreateVerifyBatchStartsFirstWave(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	s := NewScheduler(store, queue, Config{VerifyConcurrency: 2, DownloadConcurrency: 4})

	batchID := uuid.New()
	created, err := s.CreateVerifyBatch(context.Background(), []int64{1, 2, 3}, batchID)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	wave := queue.popWave(t)
	assert.Equal(t, batchID, wave.Batch)
	assert.Equal(t, KindVerify, wave.Kind)
	assert.Equal(t, 2, wave.Concurrency)
	assert.False(t, wave.FailuresDetected)
}

func TestBatchDrainsInWaves(t *testing.T) {
	// 5 jobs at concurrency 2 take three waves: 2, 2, 1.
	store := &fakeStore{}
	queue := &fakeQueue{}
	s := NewScheduler(store, queue, Config{VerifyConcurrency: 2})

	batchID := uuid.New()
	_, err := s.CreateVerifyBatch(context.Background(), []int64{1, 2, 3, 4, 5}, batchID)
	require.NoError(t, err)

	wave := queue.popWave(t)
	sizes := []int{}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RunWave(context.Background(), wave))
		require.Len(t, queue.chords, i+1)
		sizes = append(sizes, len(queue.chords[i]))
		// Simulate the chord callback with all members passing.
		passing := make([]string, len(queue.chords[i]))
		for j := range passing {
			passing[j] = "true"
		}
		require.NoError(t, s.FinishWave(context.Background(), wave, results(passing...)))
		wave = queue.popWave(t)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	// The batch is drained and clean: no escalation, no further waves.
	require.NoError(t, s.RunWave(context.Background(), wave))
	assert.Empty(t, queue.tasks)
	assert.Len(t, queue.chords, 3)
}

func TestVerifyFailuresEscalateToDownloadWaves(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	s := NewScheduler(store, queue, Config{VerifyConcurrency: 2, DownloadConcurrency: 3})

	batchID := uuid.New()
	_, err := s.CreateVerifyBatch(context.Background(), []int64{1, 2}, batchID)
	require.NoError(t, err)
	wave := queue.popWave(t)

	require.NoError(t, s.RunWave(context.Background(), wave))
	// One member failed its check, one failed terminally (null result).
	require.NoError(t, s.FinishWave(context.Background(), wave, results("false", "null")))

	wave = queue.popWave(t)
	assert.True(t, wave.FailuresDetected)

	// Repair jobs created by the failed checks.
	store.downloadPending = []*database.DownloadAssetImageJob{
		{ID: 71, AssetID: 1, Batch: &batchID},
		{ID: 72, AssetID: 2, Batch: &batchID},
	}

	// Verify side is drained; the failure flag starts the download batch.
	require.NoError(t, s.RunWave(context.Background(), wave))
	wave = queue.popWave(t)
	assert.Equal(t, KindDownload, wave.Kind)
	assert.Equal(t, 3, wave.Concurrency)

	require.NoError(t, s.RunWave(context.Background(), wave))
	require.Len(t, queue.chords, 2)
	download := queue.chords[1]
	require.Len(t, download, 2)
	assert.Equal(t, taskqueue.TaskTypeDownloadImage, download[0].TaskType)
}

func TestFinishWaveKeepsFailureFlagSticky(t *testing.T) {
	queue := &fakeQueue{}
	s := NewScheduler(&fakeStore{}, queue, Config{})

	wave := WavePayload{Batch: uuid.New(), Kind: KindVerify, Concurrency: 2, FailuresDetected: true}
	require.NoError(t, s.FinishWave(context.Background(), wave, results("true", "true")))

	next := queue.popWave(t)
	assert.True(t, next.FailuresDetected, "a clean wave must not clear earlier failures")
}

func TestRunWaveUnknownKind(t *testing.T) {
	s := NewScheduler(&fakeStore{}, &fakeQueue{}, Config{})
	err := s.RunWave(context.Background(), WavePayload{Kind: "sideways"})
	assert.Error(t, err)
}

func TestCleanDrainedVerifyBatchEnds(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	s := NewScheduler(store, queue, Config{VerifyConcurrency: 2})

	wave := WavePayload{Batch: uuid.New(), Kind: KindVerify, Concurrency: 2}
	require.NoError(t, s.RunWave(context.Background(), wave))
	assert.Empty(t, queue.tasks)
	assert.Empty(t, queue.chords)
}
