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
	"github.com/zombar/videotagger/internal/handlers"
	"github.com/zombar/videotagger/internal/queue"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the queue worker in one process",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	broadcaster := events.NewBroadcaster()
	relay := events.NewRelay(a.redisClient(), broadcaster, a.log.Entry)

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

	handler := handlers.New(a.store, proc, a.consolidator(), broadcaster, a.metrics, a.log, handlers.Defaults{
		NumVideos:          a.cfg.DefaultNumVideos,
		NumComments:        a.cfg.DefaultNumComments,
		NumTags:            a.cfg.DefaultNumTags,
		ClusteringStrength: a.cfg.DefaultClusteringStrength,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.WithFields(map[string]interface{}{
		"port":     a.cfg.Port,
		"database": a.store.Driver(),
		"redis":    a.cfg.RedisAddr,
	}).Info("videotagger starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down videotagger")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("videotagger stopped")
	return nil
}
