package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"order-reconciler/config"
	"order-reconciler/internal/api"
	"order-reconciler/internal/app"
	"order-reconciler/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order reconciler",
		zap.String("state_backend", cfg.State.Backend),
		zap.String("push_transport", cfg.Push.Transport))

	if cfg.Observ.JaegerEndpoint != "" {
		tp, err := util.InitTracer("order-reconciler", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()
	reconciler, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to wire pipeline", zap.Error(err))
	}
	defer reconciler.Close()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var wg sync.WaitGroup

	if poller := reconciler.Poller(); poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := poller.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Feed poller error", zap.Error(err))
			}
		}()
	}

	if pruner := reconciler.Pruner(); pruner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pruner.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Dedup pruner error", zap.Error(err))
			}
		}()
	}

	listener, err := reconciler.PushListener()
	if err != nil {
		logger.Fatal("Failed to configure push listener", zap.Error(err))
	}
	if listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Push listener error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	var processed api.ProcessedLister
	if reconciler.Store != nil {
		processed = reconciler.Store
	}
	handler := api.NewHandler(reconciler.Pipeline, reconciler.State, processed, reconciler.Ready)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	// in-flight cascades run detached and finish before the workers return
	workerCancel()
	wg.Wait()

	logger.Info("Server exited")
}
