package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concordia/import-service/internal/metrics"
	"github.com/concordia/import-service/internal/pipeline"
	"github.com/concordia/import-service/internal/taskqueue"
)

// Handler processes one claimed task. The returned value is stored as the
// task's result and, for group members, collected into the chord callback.
type Handler func(ctx context.Context, task taskqueue.ClaimedTask) (interface{}, error)

type WorkerConfig struct {
	WorkerID   string
	TaskTypes  []string
	MaxTasks   int
	NumWorkers int
	PollDelay  time.Duration
}

// Worker polls the task queue and dispatches claimed tasks to registered
// handlers. Image failures are not retried at the queue level; they carry
// their own retry policy on the record, so re-running the task would double
// the attempts.
type Worker struct {
	queue    *taskqueue.TaskQueue
	config   WorkerConfig
	handlers map[string]Handler
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(queue *taskqueue.TaskQueue, config WorkerConfig) *Worker {
	return &Worker{
		queue:    queue,
		config:   config,
		handlers: make(map[string]Handler),
		stopChan: make(chan struct{}),
	}
}

func (w *Worker) RegisterHandler(taskType string, handler Handler) {
	w.handlers[taskType] = handler
}

func (w *Worker) Start(ctx context.Context) {
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Strs("task_types", w.config.TaskTypes).
		Int("num_workers", w.config.NumWorkers).
		Msg("Starting worker pool")

	for i := 0; i < w.config.NumWorkers; i++ {
		go w.workerLoop(ctx, i)
	}
}

func (w *Worker) Stop() {
	close(w.stopChan)
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Worker stopping, waiting for in-flight tasks")
	w.wg.Wait()
	log.Info().
		Str("component", "worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Worker stopped")
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	workerID := fmt.Sprintf("%s-%d", w.config.WorkerID, workerNum)

	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("component", "worker").
				Str("worker_id", workerID).
				Msg("Worker shutting down")
			return

		case <-w.stopChan:
			return

		case <-ticker.C:
			w.processTasks(ctx, workerID)
		}
	}
}

func (w *Worker) processTasks(ctx context.Context, workerID string) {
	tasks, err := w.queue.ClaimTasks(ctx, taskqueue.ClaimTasksInput{
		WorkerID:  workerID,
		TaskTypes: w.config.TaskTypes,
		MaxTasks:  w.config.MaxTasks,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim tasks")
		return
	}

	if len(tasks) == 0 {
		return
	}

	log.Debug().
		Str("component", "worker").
		Str("worker_id", workerID).
		Int("task_count", len(tasks)).
		Msg("Worker claimed tasks")

	for _, task := range tasks {
		w.processTask(ctx, workerID, task)
	}
}

func (w *Worker) processTask(ctx context.Context, workerID string, task taskqueue.ClaimedTask) {
	w.wg.Add(1)
	defer w.wg.Done()

	handler, exists := w.handlers[task.TaskType]
	if !exists {
		log.Warn().
			Str("task_type", task.TaskType).
			Msg("No handler for task type")
		w.failTask(ctx, task, "No handler registered", false)
		return
	}

	log.Info().
		Str("component", "worker").
		Str("worker_id", workerID).
		Str("task_id", task.ID.String()).
		Str("task_type", task.TaskType).
		Msg("Worker processing task")

	start := time.Now()
	result, handlerErr := handler(ctx, task)
	metrics.ObserveTask(task.TaskType, time.Since(start), handlerErr)

	if handlerErr != nil {
		// Image failures settle here: the record's own retry policy has
		// already decided, so a queue retry would run the attempt twice.
		retryable := !pipeline.IsImageError(handlerErr)
		w.failTask(ctx, task, handlerErr.Error(), retryable)
		log.Error().
			Str("task_id", task.ID.String()).
			Str("task_type", task.TaskType).
			Bool("retryable", retryable).
			Err(handlerErr).
			Msg("Task failed")
		return
	}

	if err := w.queue.CompleteTask(ctx, task.ID, result); err != nil {
		log.Error().Err(err).
			Str("task_id", task.ID.String()).
			Msg("Failed to mark task as completed")
		return
	}

	log.Info().
		Str("component", "worker").
		Str("worker_id", workerID).
		Str("task_id", task.ID.String()).
		Dur("duration", time.Since(start)).
		Msg("Worker completed task")
}

func (w *Worker) failTask(ctx context.Context, task taskqueue.ClaimedTask, msg string, retryable bool) {
	if err := w.queue.FailTask(ctx, task.ID, msg, retryable); err != nil {
		log.Error().Err(err).
			Str("task_id", task.ID.String()).
			Msg("Failed to record task failure")
	}
}
