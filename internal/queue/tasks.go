package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/videotagger/internal/storage"
)

func decodePayload(t *asynq.Task) (*JobTaskPayload, error) {
	var payload JobTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("invalid task payload: %w", err)
	}
	if payload.JobID == "" {
		return nil, errors.New("invalid task payload: missing job id")
	}
	return &payload, nil
}

func isSkipRetry(err error) bool {
	return errors.Is(err, asynq.SkipRetry)
}

// startTaskSpan continues the trace recorded at enqueue time, if any
func startTaskSpan(ctx context.Context, taskType string, payload *JobTaskPayload, wait time.Duration) (context.Context, trace.Span) {
	if payload.TraceID != "" && payload.SpanID != "" {
		traceID, terr := trace.TraceIDFromHex(payload.TraceID)
		spanID, serr := trace.SpanIDFromHex(payload.SpanID)
		if terr == nil && serr == nil {
			ctx = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			}))
		}
	}

	ctx, span := otel.Tracer("videotagger").Start(ctx, "asynq.task.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.type", taskType),
			attribute.String("job.id", payload.JobID),
			attribute.String("session.id", payload.SessionID),
			attribute.Float64("queue.wait_time_seconds", wait.Seconds()),
		),
	)
	span.AddEvent("task_processing_started")
	return ctx, span
}

// handleJobTask runs the stored job a task points at
func (w *Worker) handleJobTask(ctx context.Context, t *asynq.Task) error {
	payload, err := decodePayload(t)
	if err != nil {
		w.logger.WithError(err).Error("failed to unmarshal task payload")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	var wait time.Duration
	if payload.EnqueuedAt > 0 {
		wait = time.Since(time.Unix(0, payload.EnqueuedAt))
	}
	if w.businessMetrics != nil {
		w.businessMetrics.QueueWaitSeconds.WithLabelValues(t.Type()).Observe(wait.Seconds())
	}

	ctx, span := startTaskSpan(ctx, t.Type(), payload, wait)
	defer span.End()

	log := w.logger.WithFields(map[string]interface{}{
		"task_type":          t.Type(),
		"job_id":             payload.JobID,
		"session_id":         payload.SessionID,
		"queue_wait_seconds": wait.Seconds(),
	})
	log.Info("processing task")

	err = w.runner.RunJob(ctx, payload.JobID)
	if errors.Is(err, storage.ErrNotFound) {
		span.SetStatus(codes.Error, "job not found")
		log.WithError(err).Warn("dropping task for unknown job")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if retryErr := w.retries.IncrementJobRetries(ctx, payload.JobID); retryErr != nil {
			log.WithError(retryErr).Error("failed to increment retries")
		}
		log.WithError(err).Error("task failed")
		return err // Asynq will retry
	}

	log.Info("task completed")
	return nil
}
