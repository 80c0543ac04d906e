package sweepers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/concordia/import-service/internal/taskqueue"
)

// TaskQueueSweeper periodically recovers tasks whose worker died mid-run.
// Each orphan is failed through the queue, which reschedules it with backoff
// while retries remain and settles its chord group when it fails terminally.
type TaskQueueSweeper struct {
	queue          *taskqueue.TaskQueue
	logger         *zerolog.Logger
	interval       time.Duration
	staleThreshold time.Duration
	stopChan       chan struct{}
}

// NewTaskQueueSweeper creates a new sweeper for task queue maintenance.
func NewTaskQueueSweeper(queue *taskqueue.TaskQueue, logger *zerolog.Logger, interval, staleThreshold time.Duration) *TaskQueueSweeper {
	return &TaskQueueSweeper{
		queue:          queue,
		logger:         logger,
		interval:       interval,
		staleThreshold: staleThreshold,
		stopChan:       make(chan struct{}),
	}
}

// Start begins the periodic recovery sweep.
func (s *TaskQueueSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_threshold", s.staleThreshold).
		Msg("Starting task queue sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Task queue sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Task queue sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.RecoverOrphanedTasks(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to recover orphaned tasks")
			}
		}
	}
}

// Stop signals the sweeper to stop.
func (s *TaskQueueSweeper) Stop() {
	close(s.stopChan)
}

// RecoverOrphanedTasks fails every processing task older than the stale
// threshold. The record-level idempotency guard makes the resulting re-run
// of an already-finished work function harmless.
func (s *TaskQueueSweeper) RecoverOrphanedTasks(ctx context.Context) error {
	cutoff := time.Now().Add(-s.staleThreshold)

	rows, err := s.queue.GetPool().Query(ctx, `
		SELECT id FROM task_queue
		WHERE status = 'processing' AND started_at < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to query orphaned tasks: %w", err)
	}
	defer rows.Close()

	var orphans []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan orphaned task: %w", err)
		}
		orphans = append(orphans, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	recovered := 0
	for _, id := range orphans {
		if err := s.queue.FailTask(ctx, id, "orphaned: worker never finished", true); err != nil {
			s.logger.Error().Err(err).
				Str("task_id", id.String()).
				Msg("Failed to recover orphaned task")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info().
			Int("recovered", recovered).
			Msg("Recovered orphaned tasks")
	}
	return nil
}
