package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/app"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/worker"
)

func main() {
	cfg := config.Get()

	log, err := app.NewLogger(cfg, "worker")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Needs{
		Database: true,
		Redis:    true,
		Vision:   true,
		Telegram: true,
		Storage:  true,
	})
	if err != nil {
		log.Error("Failed to initialise worker", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	metricsSrv := &http.Server{Addr: cfg.App.MetricsAddr, Handler: a.Metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", logger.Error(err))
		}
	}()

	documentWorker, err := worker.NewDocumentWorker(worker.ConfigFrom(cfg), a.Queue, a.Service, a.Archive, log)
	if err != nil {
		log.Error("Failed to create document worker", logger.Error(err))
		os.Exit(1)
	}

	if err := documentWorker.Run(ctx); err != nil {
		log.Error("Worker failed", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("Worker stopped")
}
