// Package main is the entry point for the taxlink background worker.
// It uploads new documents and polls submitted ones on a fixed interval.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"taxlink/internal/app"
	"taxlink/internal/config"
	"taxlink/internal/infrastructure/storage/postgres"
	"taxlink/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting taxlink worker", "version", app.Version)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		log.Warnw("tenant cache listener not started, credential changes need a restart", "error", err)
	}

	relay := postgres.NewOutboxRelay(a.TxManager, 100, postgres.LogHandler())
	worker := NewWorker(a.Submissions, relay, a.Idempotency, WorkerConfig{
		Interval:       cfg.WorkerInterval,
		Limit:          cfg.WorkerLimit,
		OutboxInterval: cfg.OutboxInterval,
	}, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}
