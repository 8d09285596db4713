package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zxresearch/reportgate/internal/api"
	"github.com/zxresearch/reportgate/internal/auth"
	"github.com/zxresearch/reportgate/internal/config"
	"github.com/zxresearch/reportgate/internal/repository"
	"github.com/zxresearch/reportgate/internal/service"
	"github.com/zxresearch/reportgate/internal/upstream"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize the session store
	store, err := repository.NewStore(cfg.Elastic, logger)
	if err != nil {
		logger.Fatal("Failed to initialize session store", zap.Error(err))
	}

	// Initialize the credential gate and upstream router
	gate := auth.NewGate(cfg.Auth.Secret)
	router := upstream.NewRouter(cfg.Upstream)

	// Initialize services
	streamService := service.NewStreamService(cfg, router, store, logger)
	proxyService := service.NewProxyService(router, logger)

	// Setup router
	engine := api.SetupRouter(cfg, gate, streamService, proxyService, store, logger)

	// Create HTTP server. WriteTimeout stays zero: chat streams run for
	// minutes and are bounded per-request instead.
	srv := &http.Server{
		Addr:        cfg.Address(),
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting ReportGate server", zap.String("address", cfg.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
