package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/waybill-processor/internal/service/document"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/queue"
	"github.com/feichai0017/waybill-processor/pkg/storage"
)

// DocumentWorker pops photo tasks off the queue and runs them through the
// document pipeline one at a time per consumer.
type DocumentWorker struct {
	BaseWorker
	cfg     *Config
	queue   queue.Queue
	handler document.TaskHandler
	archive storage.Storage
	now     func() time.Time
}

// NewDocumentWorker builds a consumer. archive may be nil when photos are not archived.
func NewDocumentWorker(cfg *Config, q queue.Queue, handler document.TaskHandler, archive storage.Storage, log logger.Logger) (*DocumentWorker, error) {
	if q == nil || handler == nil {
		return nil, errors.New("worker needs a queue and a task handler")
	}
	return &DocumentWorker{
		BaseWorker: newBaseWorker(log.Named("worker")),
		cfg:        cfg.withDefaults(),
		queue:      q,
		handler:    handler,
		archive:    archive,
		now:        time.Now,
	}, nil
}

// Start runs the worker in the background until ctx is done or Stop is called.
func (w *DocumentWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.Run(ctx); err != nil {
			w.logger.Error("worker stopped", logger.Error(err))
		}
	}()
	return nil
}

// Run blocks until ctx is done or Stop is called.
func (w *DocumentWorker) Run(ctx context.Context) error {
	defer close(w.done)
	ctx, cancel := w.stoppable(ctx)
	defer cancel()

	w.logger.Info("worker started",
		logger.Int("concurrency", w.cfg.Concurrency),
		logger.Duration("poll_timeout", w.cfg.PollTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				sleep(gctx, w.Poll(gctx))
			}
			return nil
		})
	}
	if w.archive != nil && w.cfg.Retention > 0 {
		g.Go(func() error {
			w.sweepLoop(gctx)
			return nil
		})
	}
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

// Poll handles at most one task and returns how long to back off before the next poll.
func (w *DocumentWorker) Poll(ctx context.Context) time.Duration {
	task, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrEmpty), ctx.Err() != nil:
		return 0
	case queue.IsConnectionError(err):
		w.logger.Warn("queue connection lost, reconnecting", logger.Error(err))
		return w.cfg.ReconnectBackoff
	default:
		w.logger.Error("failed to receive task", logger.Error(err))
		return w.cfg.ErrorBackoff
	}

	if err := w.handle(ctx, task); err != nil {
		w.logger.Error("task failed",
			logger.String("type", task.Type),
			logger.Int64("chat_id", task.ChatID),
			logger.String("file_id", task.FileID),
			logger.Error(err),
		)
		return w.cfg.ErrorBackoff
	}
	return 0
}

func (w *DocumentWorker) handle(ctx context.Context, task *queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling task: %v", r)
		}
	}()
	return w.handler.HandlePhotoTask(ctx, task)
}

// Sweep removes archived photos older than the retention period.
func (w *DocumentWorker) Sweep(ctx context.Context) (int, error) {
	if w.archive == nil || w.cfg.Retention <= 0 {
		return 0, nil
	}
	threshold := w.now().Add(-w.cfg.Retention)
	n, err := w.archive.CleanupBefore(ctx, w.cfg.ArchivePrefix, threshold)
	if err != nil {
		return n, fmt.Errorf("failed to sweep archive: %w", err)
	}
	w.logger.Info("archive swept", logger.Int("deleted", n), logger.Time("before", threshold))
	return n, nil
}

func (w *DocumentWorker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("retention sweep failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
