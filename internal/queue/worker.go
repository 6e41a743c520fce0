package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/zombar/videotagger/internal/metrics"
	"github.com/zombar/videotagger/internal/storage"
)

// JobRunner executes stored processing jobs
type JobRunner interface {
	RunJob(ctx context.Context, jobID string) error
	AbandonJob(ctx context.Context, jobID string, cause error) error
}

// RetryRecorder counts delivery attempts of a job
type RetryRecorder interface {
	IncrementJobRetries(ctx context.Context, id string) error
}

// queuePriorities weights collection above tagging so that tag jobs of a
// running session do not starve new seeds indefinitely
var queuePriorities = map[string]int{
	QueueCollect: 6,
	QueueTagging: 4,
}

// Worker wraps the Asynq server for processing tasks
type Worker struct {
	server          *asynq.Server
	mux             *asynq.ServeMux
	runner          JobRunner
	retries         RetryRecorder
	concurrency     int
	logger          *logrus.Entry
	businessMetrics *metrics.BusinessMetrics
}

// WorkerConfig contains configuration for the queue worker
type WorkerConfig struct {
	RedisAddr   string
	Concurrency int
}

// retryDelay backs off up to ten minutes: 10s, 30s, 1m, 5m, 10m
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delays := []time.Duration{
		10 * time.Second,
		30 * time.Second,
		1 * time.Minute,
		5 * time.Minute,
		10 * time.Minute,
	}
	if n < len(delays) {
		return delays[n]
	}
	return delays[len(delays)-1]
}

// NewWorker creates a new queue worker
func NewWorker(
	cfg WorkerConfig,
	runner JobRunner,
	retries RetryRecorder,
	businessMetrics *metrics.BusinessMetrics,
	logger *logrus.Entry,
) *Worker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	w := &Worker{
		mux:             asynq.NewServeMux(),
		runner:          runner,
		retries:         retries,
		concurrency:     cfg.Concurrency,
		logger:          logger,
		businessMetrics: businessMetrics,
	}

	w.server = asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          queuePriorities,
		RetryDelayFunc:  retryDelay,
		ShutdownTimeout: 30 * time.Second,
		// logrus entries satisfy asynq.Logger directly
		Logger:       logger.WithField("component", "asynq"),
		ErrorHandler: asynq.ErrorHandlerFunc(w.handleError),
	})

	w.registerHandlers()
	return w
}

// registerHandlers registers all task handlers with the worker
func (w *Worker) registerHandlers() {
	w.mux.HandleFunc(TypeCollectChannel, w.handleJobTask)
	w.mux.HandleFunc(TypeTagVideo, w.handleJobTask)
}

// handleError fails the job once asynq stops retrying it, so its session
// does not wait on it forever
func (w *Worker) handleError(ctx context.Context, task *asynq.Task, err error) {
	w.logger.WithError(err).WithField("task_type", task.Type()).Error("task processing error")

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry && !isSkipRetry(err) {
		return
	}

	payload, perr := decodePayload(task)
	if perr != nil || errors.Is(err, storage.ErrNotFound) {
		return
	}
	if aerr := w.runner.AbandonJob(ctx, payload.JobID, err); aerr != nil {
		w.logger.WithError(aerr).WithField("job_id", payload.JobID).Error("failed to abandon job")
	}
}

// Run starts processing tasks and blocks until ctx is cancelled, then shuts
// the server down gracefully
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithFields(logrus.Fields{
		"concurrency": w.concurrency,
		"queues":      queuePriorities,
	}).Info("starting asynq worker")

	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("asynq server error: %w", err)
	}
	<-ctx.Done()
	w.Shutdown()
	return nil
}

// Shutdown gracefully shuts down the worker
func (w *Worker) Shutdown() {
	w.logger.Info("shutting down asynq worker")
	w.server.Shutdown()
}

// Handler returns the task handler (for testing)
func (w *Worker) Handler() asynq.Handler {
	return w.mux
}
