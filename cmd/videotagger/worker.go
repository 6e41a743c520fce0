package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zombar/videotagger/internal/events"
	"github.com/zombar/videotagger/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the queue worker; updates reach API processes over Redis",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	relay := events.NewRelay(a.redisClient(), nil, a.log.Entry)
	queueClient := queue.NewClient(queue.ClientConfig{RedisAddr: a.cfg.RedisAddr})
	a.closers = append(a.closers, queueClient.Close)

	proc, err := a.processor(relay, queueClient, true)
	if err != nil {
		return err
	}
	worker := queue.NewWorker(queue.WorkerConfig{
		RedisAddr:   a.cfg.RedisAddr,
		Concurrency: a.cfg.WorkerConcurrency,
	}, proc, a.store, a.metrics, a.log.Entry)

	// Only metrics are served; the API lives in the serve process
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
