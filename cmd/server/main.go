package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/waybill-processor/api/handlers"
	"github.com/feichai0017/waybill-processor/api/routes"
	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/internal/app"
	"github.com/feichai0017/waybill-processor/pkg/converters"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

func main() {
	cfg := config.Get()

	// init logger
	log, err := app.NewLogger(cfg, "server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the API delivers confirmed waybills itself, so it needs the database and the CRM settings
	a, err := app.New(ctx, cfg, log, app.Needs{Database: true})
	if err != nil {
		log.Error("Failed to initialise", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	h := handlers.NewHandlers(a.Service, converters.NewXLSXConverter(a.Directory, log), a.HealthChecks(), log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, a.Metrics.Handler(), log)

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
