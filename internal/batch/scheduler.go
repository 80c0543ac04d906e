package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
	"github.com/concordia/import-service/internal/workers"
)

// Job kinds a wave can process.
const (
	KindVerify   = "verify"
	KindDownload = "download"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	PendingVerifyJobs(ctx context.Context, batch uuid.UUID, limit int) ([]*database.VerifyAssetImageJob, error)
	PendingDownloadJobs(ctx context.Context, batch uuid.UUID, limit int) ([]*database.DownloadAssetImageJob, error)
	CreateVerifyJobs(ctx context.Context, assetIDs []int64, batch uuid.UUID, chunkSize int) (int, error)
}

// Queue is the task-queue surface the scheduler needs.
type Queue interface {
	ScheduleTask(ctx context.Context, input taskqueue.ScheduleTaskInput) (uuid.UUID, error)
	ScheduleChord(ctx context.Context, members []taskqueue.ScheduleTaskInput, callbackType string, callbackPayload interface{}) (uuid.UUID, error)
}

// Config bounds wave sizes.
type Config struct {
	VerifyConcurrency   int
	DownloadConcurrency int
	ChunkSize           int
}

// Scheduler drains verify and download job batches in fixed-size waves:
// each wave is a chord whose callback re-enqueues the next wave, bounding
// in-flight work regardless of batch size. A verify batch that detected any
// failure escalates into a download batch once fully checked, so repairs
// start only after the whole batch has been scanned.
type Scheduler struct {
	store  Store
	queue  Queue
	config Config
}

func NewScheduler(store Store, queue Queue, config Config) *Scheduler {
	if config.VerifyConcurrency <= 0 {
		config.VerifyConcurrency = 2
	}
	if config.DownloadConcurrency <= 0 {
		config.DownloadConcurrency = 10
	}
	return &Scheduler{store: store, queue: queue, config: config}
}

// WavePayload is the wave task's wire payload, threaded unchanged through
// every chord callback of a batch.
type WavePayload struct {
	Batch            uuid.UUID `json:"batch"`
	Kind             string    `json:"kind"`
	Concurrency      int       `json:"concurrency"`
	FailuresDetected bool      `json:"failures_detected"`
}

// CreateVerifyBatch bulk-creates one verify job per asset and kicks off the
// first verify wave. Returns the number of jobs created.
func (s *Scheduler) CreateVerifyBatch(ctx context.Context, assetIDs []int64, batch uuid.UUID) (int, error) {
	created, err := s.store.CreateVerifyJobs(ctx, assetIDs, batch, s.config.ChunkSize)
	if err != nil {
		return created, err
	}

	if err := s.scheduleWave(ctx, WavePayload{
		Batch:       batch,
		Kind:        KindVerify,
		Concurrency: s.config.VerifyConcurrency,
	}); err != nil {
		return created, err
	}

	log.Info().
		Str("component", "batch").
		Str("batch", batch.String()).
		Int("jobs", created).
		Msg("Verify batch created")
	return created, nil
}

func (s *Scheduler) scheduleWave(ctx context.Context, p WavePayload) error {
	_, err := s.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
		TaskType: taskqueue.TaskTypeBatchWave,
		Payload:  p,
	})
	return err
}

// RunWave claims the next slice of pending jobs for the batch and submits
// them as a chord. An exhausted verify batch with failures escalates to a
// download batch; an exhausted download batch ends the pipeline.
func (s *Scheduler) RunWave(ctx context.Context, p WavePayload) error {
	switch p.Kind {
	case KindVerify:
		return s.runVerifyWave(ctx, p)
	case KindDownload:
		return s.runDownloadWave(ctx, p)
	default:
		return fmt.Errorf("unknown wave kind: %s", p.Kind)
	}
}

func (s *Scheduler) runVerifyWave(ctx context.Context, p WavePayload) error {
	jobs, err := s.store.PendingVerifyJobs(ctx, p.Batch, p.Concurrency)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		if p.FailuresDetected {
			log.Info().
				Str("component", "batch").
				Str("batch", p.Batch.String()).
				Msg("Verify batch drained with failures, starting download batch")
			return s.scheduleWave(ctx, WavePayload{
				Batch:       p.Batch,
				Kind:        KindDownload,
				Concurrency: s.config.DownloadConcurrency,
			})
		}
		log.Info().
			Str("component", "batch").
			Str("batch", p.Batch.String()).
			Msg("Verify batch drained cleanly")
		return nil
	}

	members := make([]taskqueue.ScheduleTaskInput, 0, len(jobs))
	for _, job := range jobs {
		members = append(members, taskqueue.ScheduleTaskInput{
			TaskType: taskqueue.TaskTypeVerifyImage,
			Payload:  verifyPayload{VerifyJobID: job.ID},
		})
	}
	_, err = s.queue.ScheduleChord(ctx, members, taskqueue.TaskTypeBatchCallback, p)
	return err
}

func (s *Scheduler) runDownloadWave(ctx context.Context, p WavePayload) error {
	jobs, err := s.store.PendingDownloadJobs(ctx, p.Batch, p.Concurrency)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		log.Info().
			Str("component", "batch").
			Str("batch", p.Batch.String()).
			Msg("Download batch drained")
		return nil
	}

	members := make([]taskqueue.ScheduleTaskInput, 0, len(jobs))
	for _, job := range jobs {
		members = append(members, taskqueue.ScheduleTaskInput{
			TaskType: taskqueue.TaskTypeDownloadImage,
			Payload:  downloadPayload{DownloadJobID: job.ID},
		})
	}
	_, err = s.queue.ScheduleChord(ctx, members, taskqueue.TaskTypeBatchCallback, p)
	return err
}

// FinishWave handles a wave chord's callback: it folds the wave's results
// into the failure flag and unconditionally re-enqueues the next wave. A
// member that failed terminally contributes a null result and counts as a
// failure.
func (s *Scheduler) FinishWave(ctx context.Context, p WavePayload, results []json.RawMessage) error {
	if p.Kind == KindVerify && !p.FailuresDetected {
		for _, r := range results {
			if string(r) != "true" {
				p.FailuresDetected = true
				break
			}
		}
	}
	return s.scheduleWave(ctx, p)
}

type verifyPayload struct {
	VerifyJobID int64 `json:"verify_job_id"`
}

type downloadPayload struct {
	DownloadJobID int64 `json:"download_job_id"`
}

// RegisterHandlers wires the wave task types into a worker pool.
func RegisterHandlers(w *workers.Worker, s *Scheduler) {
	w.RegisterHandler(taskqueue.TaskTypeBatchWave, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var p WavePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad batch_wave payload: %w", err)
		}
		return nil, s.RunWave(ctx, p)
	})

	w.RegisterHandler(taskqueue.TaskTypeBatchCallback, func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error) {
		var chord taskqueue.ChordPayload
		if err := json.Unmarshal(task.Payload, &chord); err != nil {
			return nil, fmt.Errorf("bad chord payload: %w", err)
		}
		var p WavePayload
		if err := json.Unmarshal(chord.Payload, &p); err != nil {
			return nil, fmt.Errorf("bad batch_wave_complete payload: %w", err)
		}
		return nil, s.FinishWave(ctx, p, chord.Results)
	})
}
