package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/concordia/import-service/internal/database"
)

// Store persists task-status changes made during execution.
type Store interface {
	SaveTaskStatus(ctx context.Context, rec database.TaskRecord) error
}

// Notifier is told about terminal task failures, after retries are exhausted
// or ruled out. Implementations must not block.
type Notifier interface {
	TaskFailed(ctx context.Context, rec database.TaskRecord, err error)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) TaskFailed(context.Context, database.TaskRecord, error) {}

// LogNotifier reports terminal failures through the structured log.
type LogNotifier struct{}

func (LogNotifier) TaskFailed(ctx context.Context, rec database.TaskRecord, err error) {
	log.Error().
		Str("component", "pipeline").
		Str("kind", rec.Kind()).
		Int64("record_id", rec.RecordID()).
		Err(err).
		Msg("Task failed terminally")
}

// RetryFunc decides whether a failed record gets another attempt and, if so,
// schedules it. It runs after the failure has been recorded and persisted.
// Returns true when a retry was scheduled.
type RetryFunc func(ctx context.Context, rec database.TaskRecord) (bool, error)

// Runner wraps record-level task execution with the status bookkeeping every
// pipeline stage shares: an idempotency guard, start/completion stamps,
// failure classification and the image retry hook.
type Runner struct {
	store    Store
	notifier Notifier
	retry    RetryFunc
	tracer   trace.Tracer
}

func NewRunner(store Store, notifier Notifier, retry RetryFunc) *Runner {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Runner{
		store:    store,
		notifier: notifier,
		retry:    retry,
		tracer:   otel.Tracer("import-service/pipeline"),
	}
}

// Execute runs fn against rec. A record that already completed is skipped,
// so re-delivered tasks are harmless. On failure the error is recorded on
// the record, image failures are offered to the retry hook, and the error is
// returned to the caller so the queue sees the attempt fail too.
func (r *Runner) Execute(ctx context.Context, taskID string, rec database.TaskRecord, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("record.kind", rec.Kind()),
		attribute.Int64("record.id", rec.RecordID()),
	))
	defer span.End()

	ts := rec.Task()
	if ts.IsCompleted() {
		log.Debug().
			Str("component", "pipeline").
			Str("kind", rec.Kind()).
			Int64("record_id", rec.RecordID()).
			Msg("Record already completed, skipping")
		span.SetAttributes(attribute.Bool("record.skipped", true))
		return nil
	}

	ts.MarkStarted(taskID)
	if err := r.store.SaveTaskStatus(ctx, rec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err := fn(ctx)
	if err == nil {
		ts.MarkCompleted()
		if err := r.store.SaveTaskStatus(ctx, rec); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if IsImageError(err) {
		ts.FailureReason = database.FailureImage
	}
	ts.UpdateStatus(err.Error())
	ts.MarkFailed()
	if saveErr := r.store.SaveTaskStatus(ctx, rec); saveErr != nil {
		log.Error().Err(saveErr).
			Str("kind", rec.Kind()).
			Int64("record_id", rec.RecordID()).
			Msg("Failed to persist failure state")
	}

	retried := false
	if r.retry != nil && IsImageError(err) {
		var retryErr error
		retried, retryErr = r.retry(ctx, rec)
		if retryErr != nil {
			log.Error().Err(retryErr).
				Str("kind", rec.Kind()).
				Int64("record_id", rec.RecordID()).
				Msg("Failed to schedule retry")
		}
	}
	if !retried {
		r.notifier.TaskFailed(ctx, rec, err)
	}

	return err
}
