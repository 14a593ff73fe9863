package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/app"
	"github.com/feichai0017/waybill-processor/internal/bot"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

func main() {
	cfg := config.Get()

	log, err := app.NewLogger(cfg, "bot")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Needs{Database: true, Redis: true, Telegram: true})
	if err != nil {
		log.Error("Failed to initialise bot", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	log.Info("Bot started")
	if err := bot.New(a.Telegram, a.Service, a.Queue, log).Run(ctx); err != nil {
		log.Error("Bot stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Bot stopped")
}
