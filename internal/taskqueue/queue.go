package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskQueue is a Postgres-backed queue with delayed scheduling, bounded
// retries with exponential backoff, and chord groups (a callback task fired
// once every member of a group has settled).
type TaskQueue struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *TaskQueue {
	return &TaskQueue{pool: pool}
}

func (q *TaskQueue) GetPool() *pgxpool.Pool {
	return q.pool
}

type ScheduleTaskInput struct {
	TaskType   string
	Payload    interface{}
	Priority   int
	RunAt      *time.Time
	MaxRetries int
}

// ScheduleTask enqueues one task, optionally delayed until RunAt.
func (q *TaskQueue) ScheduleTask(ctx context.Context, input ScheduleTaskInput) (uuid.UUID, error) {
	return q.schedule(ctx, q.pool, input, nil)
}

type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (q *TaskQueue) schedule(ctx context.Context, db execer, input ScheduleTaskInput, groupID *uuid.UUID) (uuid.UUID, error) {
	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode task payload: %w", err)
	}

	maxRetries := 3
	if input.MaxRetries > 0 {
		maxRetries = input.MaxRetries
	}

	runAt := time.Now()
	if input.RunAt != nil {
		runAt = *input.RunAt
	}

	var id uuid.UUID
	err = db.QueryRow(ctx, `
		INSERT INTO task_queue (task_type, payload, priority, scheduled_for, max_retries, group_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, input.TaskType, payload, input.Priority, runAt, maxRetries, groupID).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to schedule %s task: %w", input.TaskType, err)
	}
	return id, nil
}

// ScheduleChord enqueues a group of member tasks plus a callback that runs
// once every member has settled. The callback receives a ChordPayload with
// one result slot per member in enqueue order. An empty member list fires
// the callback immediately.
func (q *TaskQueue) ScheduleChord(ctx context.Context, members []ScheduleTaskInput, callbackType string, callbackPayload interface{}) (uuid.UUID, error) {
	cbPayload, err := json.Marshal(callbackPayload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode chord callback payload: %w", err)
	}

	groupID := uuid.New()

	if len(members) == 0 {
		_, err := q.ScheduleTask(ctx, ScheduleTaskInput{
			TaskType: callbackType,
			Payload:  ChordPayload{Group: groupID, Payload: cbPayload},
		})
		return groupID, err
	}

	err = pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO task_groups (id, callback_type, callback_payload, pending)
			VALUES ($1, $2, $3, $4)
		`, groupID, callbackType, cbPayload, len(members))
		if err != nil {
			return fmt.Errorf("failed to create task group: %w", err)
		}
		for _, m := range members {
			if _, err := q.schedule(ctx, tx, m, &groupID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return groupID, nil
}

type ClaimTasksInput struct {
	WorkerID  string
	TaskTypes []string
	MaxTasks  int
}

// ClaimTasks atomically claims up to MaxTasks due tasks of the given types.
// Claimed rows are skipped by concurrent workers via SKIP LOCKED.
func (q *TaskQueue) ClaimTasks(ctx context.Context, input ClaimTasksInput) ([]ClaimedTask, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE task_queue
		SET status = 'processing', worker_id = $1, started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM task_queue
			WHERE status = 'pending'
			  AND task_type = ANY($2)
			  AND scheduled_for <= NOW()
			ORDER BY priority DESC, scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, task_type, payload, retry_count, group_id
	`, input.WorkerID, input.TaskTypes, input.MaxTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]ClaimedTask, 0)
	for rows.Next() {
		var task ClaimedTask
		if err := rows.Scan(&task.ID, &task.TaskType, &task.Payload, &task.RetryCount, &task.GroupID); err != nil {
			return nil, fmt.Errorf("failed to scan claimed task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CompleteTask marks a task completed, stores its result, and settles its
// group membership if any.
func (q *TaskQueue) CompleteTask(ctx context.Context, taskID uuid.UUID, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}

	return pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		var groupID *uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE task_queue
			SET status = 'completed', completed_at = NOW(), result = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'processing'
			RETURNING group_id
		`, taskID, resultJSON).Scan(&groupID)
		if err == pgx.ErrNoRows {
			return fmt.Errorf("task %s is not processing", taskID)
		}
		if err != nil {
			return fmt.Errorf("failed to complete task %s: %w", taskID, err)
		}
		if groupID != nil {
			return q.settleGroupMember(ctx, tx, *groupID)
		}
		return nil
	})
}

// FailTask records a failed attempt. Retryable failures below the retry
// limit are rescheduled with exponential backoff; everything else is marked
// failed terminally, which still settles the task's group so chord callbacks
// are never lost.
func (q *TaskQueue) FailTask(ctx context.Context, taskID uuid.UUID, errorMessage string, retryable bool) error {
	return pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		var retryCount, maxRetries int
		var groupID *uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT retry_count, max_retries, group_id
			FROM task_queue WHERE id = $1 FOR UPDATE
		`, taskID).Scan(&retryCount, &maxRetries, &groupID)
		if err != nil {
			return fmt.Errorf("failed to load task %s: %w", taskID, err)
		}

		if retryable && retryCount < maxRetries {
			_, err = tx.Exec(ctx, `
				UPDATE task_queue
				SET status = 'pending', retry_count = retry_count + 1,
				    scheduled_for = $2, error_message = $3,
				    worker_id = NULL, started_at = NULL, updated_at = NOW()
				WHERE id = $1
			`, taskID, time.Now().Add(retryBackoff(retryCount)), errorMessage)
			if err != nil {
				return fmt.Errorf("failed to reschedule task %s: %w", taskID, err)
			}
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE task_queue
			SET status = 'failed', failed_at = NOW(), error_message = $2, updated_at = NOW()
			WHERE id = $1
		`, taskID, errorMessage)
		if err != nil {
			return fmt.Errorf("failed to fail task %s: %w", taskID, err)
		}
		if groupID != nil {
			return q.settleGroupMember(ctx, tx, *groupID)
		}
		return nil
	})
}

// settleGroupMember decrements the group's pending count under a row lock.
// Whichever member takes it to zero enqueues the callback with the members'
// results in enqueue order.
func (q *TaskQueue) settleGroupMember(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) error {
	var pending int
	var callbackType string
	var callbackPayload json.RawMessage
	err := tx.QueryRow(ctx, `
		UPDATE task_groups
		SET pending = pending - 1
		WHERE id = $1 AND NOT fired
		RETURNING pending, callback_type, callback_payload
	`, groupID).Scan(&pending, &callbackType, &callbackPayload)
	if err == pgx.ErrNoRows {
		return nil // group already fired
	}
	if err != nil {
		return fmt.Errorf("failed to settle group %s: %w", groupID, err)
	}
	if pending > 0 {
		return nil
	}

	rows, err := tx.Query(ctx, `
		SELECT result FROM task_queue WHERE group_id = $1 ORDER BY created_at, id
	`, groupID)
	if err != nil {
		return fmt.Errorf("failed to collect results for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var results []json.RawMessage
	for rows.Next() {
		var r json.RawMessage
		if err := rows.Scan(&r); err != nil {
			return fmt.Errorf("failed to scan group result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE task_groups SET fired = TRUE WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to mark group %s fired: %w", groupID, err)
	}

	_, err = q.schedule(ctx, tx, ScheduleTaskInput{
		TaskType: callbackType,
		Payload:  ChordPayload{Group: groupID, Payload: callbackPayload, Results: results},
	}, nil)
	return err
}

// retryBackoff doubles per attempt from a 30s base with up to 25% jitter,
// capped at 15 minutes.
func retryBackoff(retryCount int) time.Duration {
	backoff := 30 * time.Second << uint(retryCount)
	if backoff > 15*time.Minute {
		backoff = 15 * time.Minute
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) / 4))
	return backoff + jitter
}

// CancelTask cancels a task that has not started running.
func (q *TaskQueue) CancelTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, taskID)
	return err
}

// GetTask returns one task by id.
func (q *TaskQueue) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	var task Task
	err := q.pool.QueryRow(ctx, `
		SELECT id, task_type, payload, priority, status,
		       scheduled_for, started_at, completed_at, failed_at,
		       worker_id, retry_count, max_retries, error_message,
		       result, group_id, created_at, updated_at
		FROM task_queue
		WHERE id = $1
	`, taskID).Scan(
		&task.ID, &task.TaskType, &task.Payload, &task.Priority, &task.Status,
		&task.ScheduledFor, &task.StartedAt, &task.CompletedAt, &task.FailedAt,
		&task.WorkerID, &task.RetryCount, &task.MaxRetries, &task.ErrorMessage,
		&task.Result, &task.GroupID, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CleanupOldTasks deletes settled tasks and fired groups older than the
// retention window. Returns the number of tasks removed.
func (q *TaskQueue) CleanupOldTasks(ctx context.Context, daysToKeep int) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM task_queue
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < NOW() - make_interval(days => $1)
	`, daysToKeep)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old tasks: %w", err)
	}
	_, err = q.pool.Exec(ctx, `
		DELETE FROM task_groups
		WHERE fired AND created_at < NOW() - make_interval(days => $1)
	`, daysToKeep)
	if err != nil {
		return int(tag.RowsAffected()), fmt.Errorf("failed to clean up old task groups: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// QueueDepth returns the number of pending tasks per task type.
func (q *TaskQueue) QueueDepth(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT task_type, COUNT(*) FROM task_queue
		WHERE status = 'pending'
		GROUP BY task_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[string]int)
	for rows.Next() {
		var taskType string
		var count int
		if err := rows.Scan(&taskType, &count); err != nil {
			return nil, err
		}
		depth[taskType] = count
	}
	return depth, rows.Err()
}
