package main

import (
	"context"
	"time"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/domain/submission"
	"taxlink/pkg/logger"
)

// Pipelines are the scheduled submission runs.
type Pipelines interface {
	UploadPending(ctx context.Context, limit int) (*submission.Report, error)
	PollPending(ctx context.Context, limit int) (*submission.Report, error)
}

// OutboxProcessor delivers recorded state changes.
type OutboxProcessor interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// WorkerConfig holds the worker schedule.
type WorkerConfig struct {
	Interval        time.Duration
	Limit           int
	OutboxInterval  time.Duration
	CleanupInterval time.Duration
}

// Worker drives the scheduled pipelines. Runs never overlap: every tick is
// handled on the Run goroutine.
type Worker struct {
	pipelines Pipelines
	outbox    OutboxProcessor
	keys      KeyCleaner
	cfg       WorkerConfig
	log       *logger.Logger
}

// NewWorker creates a worker.
func NewWorker(pipelines Pipelines, outbox OutboxProcessor, keys KeyCleaner, cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	return &Worker{
		pipelines: pipelines,
		outbox:    outbox,
		keys:      keys,
		cfg:       cfg,
		log:       log.WithComponent("worker"),
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ctx = logger.WithLogger(appctx.WithMode(ctx, appctx.ModeScheduled), w.log)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	outboxTicker := time.NewTicker(w.cfg.OutboxInterval)
	defer outboxTicker.Stop()

	cleanupTicker := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	w.runSubmissions(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker loop stopped")
			return
		case <-ticker.C:
			w.runSubmissions(ctx)
		case <-outboxTicker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanupIdempotency(ctx)
		}
	}
}

// runSubmissions uploads new documents, then polls everything in flight.
func (w *Worker) runSubmissions(ctx context.Context) {
	w.runPipeline(ctx, submission.OpUpload, w.pipelines.UploadPending)
	if ctx.Err() != nil {
		return
	}
	w.runPipeline(ctx, submission.OpPoll, w.pipelines.PollPending)
}

func (w *Worker) runPipeline(ctx context.Context, op string, run func(context.Context, int) (*submission.Report, error)) {
	start := time.Now()
	report, err := run(ctx, w.cfg.Limit)
	switch {
	case err == nil:
	case apperror.IsLockConflict(err):
		// Another process holds a chain; the next tick picks the rest up.
		w.log.Warnw("pipeline interrupted by chain lock", "operation", op, "error", err)
	default:
		w.log.Errorw("pipeline failed", "operation", op, "error", err)
	}

	if report != nil && (report.Processed > 0 || len(report.Skipped) > 0) {
		w.log.Infow("pipeline finished",
			"operation", op,
			"processed", report.Processed,
			"skipped", len(report.Skipped),
			"blocked", len(report.Blocked()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	if w.outbox == nil {
		return
	}
	n, err := w.outbox.ProcessBatch(ctx)
	if err != nil {
		w.log.Errorw("outbox batch failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Debugw("processed outbox batch", "count", n)
	}
}

func (w *Worker) cleanupIdempotency(ctx context.Context) {
	if w.keys == nil {
		return
	}
	n, err := w.keys.CleanupExpired(ctx)
	if err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}
}
