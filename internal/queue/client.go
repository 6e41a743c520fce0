package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/videotagger/internal/storage"
)

// Task type constants
const (
	TypeCollectChannel = "session:collect-channel"
	TypeTagVideo       = "session:tag-video"
)

// Queue names
const (
	QueueCollect = "collect"
	QueueTagging = "tagging"
)

// JobTaskPayload points a task at a stored processing job
type JobTaskPayload struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id"`
	// Tracing and timing fields
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"` // Unix timestamp in nanoseconds
}

// Client wraps the Asynq client for enqueueing tasks
type Client struct {
	client *asynq.Client
}

// ClientConfig contains configuration for the queue client
type ClientConfig struct {
	RedisAddr string
}

// NewClient creates a new queue client
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}),
	}
}

// taskSpec maps a job kind to its task type and options
func taskSpec(kind string) (string, []asynq.Option, error) {
	switch kind {
	case storage.JobCollectChannel:
		return TypeCollectChannel, []asynq.Option{
			asynq.MaxRetry(5),
			asynq.Timeout(30 * time.Minute), // a channel's comments can take many pages
			asynq.Queue(QueueCollect),
		}, nil
	case storage.JobTagVideo:
		return TypeTagVideo, []asynq.Option{
			asynq.MaxRetry(5),
			asynq.Timeout(15 * time.Minute),
			asynq.Queue(QueueTagging),
		}, nil
	}
	return "", nil, fmt.Errorf("unknown job kind %q", kind)
}

// NewJobTask builds the task for a processing job, carrying the trace
// context found in ctx.
func NewJobTask(ctx context.Context, job *storage.ProcessingJob) (*asynq.Task, []asynq.Option, error) {
	taskType, opts, err := taskSpec(job.Kind)
	if err != nil {
		return nil, nil, err
	}

	payload := JobTaskPayload{
		JobID:      job.ID,
		SessionID:  job.SessionID,
		EnqueuedAt: time.Now().UnixNano(), // Record enqueue time for queue wait metrics
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		payload.TraceID = spanCtx.TraceID().String()
		payload.SpanID = spanCtx.SpanID().String()

		span.AddEvent("task_enqueued", trace.WithAttributes(
			attribute.String("task.type", taskType),
			attribute.String("job.id", job.ID),
			attribute.String("session.id", job.SessionID),
			attribute.String("job.target_id", job.TargetID),
		))
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	opts = append(opts,
		asynq.TaskID(job.ID),          // Use job ID as task ID for correlation
		asynq.Retention(24*time.Hour), // Keep completed tasks for a day
	)
	return asynq.NewTask(taskType, payloadBytes), opts, nil
}

// Dispatch enqueues a processing job and returns the asynq task id
func (c *Client) Dispatch(ctx context.Context, job *storage.ProcessingJob) (string, error) {
	task, opts, err := NewJobTask(ctx, job)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Enqueued by an earlier run of the same step
		return job.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.client.Close()
}
