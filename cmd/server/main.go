package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scheduling-sync-service/internal/api"
	"scheduling-sync-service/internal/config"
	"scheduling-sync-service/internal/logger"
	"scheduling-sync-service/internal/metrics"
	"scheduling-sync-service/internal/provider"
	"scheduling-sync-service/internal/store"
	"scheduling-sync-service/internal/sync"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Scheduling Sync Service")

	// Init State Store
	stateStore, err := store.New(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Init Provider Client
	client := provider.NewHTTPClient(cfg.Provider, sync.NewConnectionTokenStore(stateStore))

	// Init Sync Manager
	syncManager := sync.NewManager(cfg, stateStore, client)
	syncManager.Start()

	// Init Scheduler
	scheduler := sync.NewScheduler(cfg.Scheduler, syncManager)
	scheduler.Start()

	// Init API
	handler := api.NewHandler(cfg, syncManager, metrics.NewCalculator(stateStore))
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	scheduler.Stop()
	syncManager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
