package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zombar/videotagger/internal/apicache"
	"github.com/zombar/videotagger/internal/clients"
	"github.com/zombar/videotagger/internal/config"
	"github.com/zombar/videotagger/internal/events"
	"github.com/zombar/videotagger/internal/logger"
	"github.com/zombar/videotagger/internal/metrics"
	"github.com/zombar/videotagger/internal/pipeline"
	"github.com/zombar/videotagger/internal/progress"
	"github.com/zombar/videotagger/internal/storage"
	"github.com/zombar/videotagger/internal/tagging"
	"github.com/zombar/videotagger/internal/tracing"
)

// app holds the components shared by the commands
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *storage.Storage
	metrics *metrics.BusinessMetrics
	closers []func() error
}

// newApp loads configuration, installs tracing and, when withStore is set,
// opens the database
func newApp(ctx context.Context, withStore bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     logger.New(cfg.Environment, cfg.LogLevel),
		metrics: metrics.New(),
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "videotagger",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdownTracing(context.Background()) })

	if withStore {
		store, err := storage.New(cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}
	return a, nil
}

// Close releases everything in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("error during shutdown")
		}
	}
}

func (a *app) retryPolicy() clients.RetryPolicy {
	return clients.RetryPolicy{MaxRetries: a.cfg.UpstreamMaxRetries, Delay: a.cfg.UpstreamRetryDelay}
}

func (a *app) consolidator() *tagging.Consolidator {
	retry := a.retryPolicy()
	return tagging.NewConsolidator(
		clients.NewNERClient(a.cfg.NERBaseURL, retry),
		clients.NewEmbeddingClient(a.cfg.EmbeddingBaseURL, a.cfg.EmbeddingModel, retry),
	)
}

func (a *app) redisClient() *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	return client
}

// processor wires the workflow to the upstream clients. Progress is
// reported through publisher, which may be nil.
func (a *app) processor(publisher events.Publisher, dispatcher pipeline.Dispatcher, sharedCache bool) (*pipeline.Processor, error) {
	if err := a.cfg.ValidateIngestion(); err != nil {
		return nil, err
	}

	cacheOpts := apicache.Options{Size: a.cfg.APICacheSize, TTL: a.cfg.APICacheTTL}
	if sharedCache {
		cacheOpts.RedisAddr = a.cfg.RedisAddr
	}
	cache := apicache.New(cacheOpts)
	a.closers = append(a.closers, cache.Close)

	retry := a.retryPolicy()
	log := a.log.Entry
	youtube := clients.NewYouTubeClient(a.cfg.YouTubeBaseURL, a.cfg.YouTubeAPIKey,
		clients.WithResponseCache(cache),
		clients.WithRateLimit(a.cfg.YouTubeRequestsPerSecond),
		clients.WithYouTubeRetry(retry),
		clients.WithYouTubeLogger(log),
	)
	llm := clients.NewLLMClient(a.cfg.OpenAIBaseURL, a.cfg.OpenAIAPIKey, a.cfg.TagModel, a.cfg.IntervieweeModel, retry)

	return pipeline.NewProcessor(pipeline.Deps{
		Store:        a.store,
		YouTube:      youtube,
		Transcripts:  clients.NewTranscriptClient(a.cfg.YouTubeWatchURL, retry),
		Generator:    llm,
		Consolidator: a.consolidator(),
		Reporter:     progress.NewReporter(a.store, publisher, log),
		Dispatcher:   dispatcher,
		Metrics:      a.metrics,
		Log:          log,
	}, pipeline.Options{
		IncludeInterviewees: a.cfg.IncludeInterviewees,
	}), nil
}
