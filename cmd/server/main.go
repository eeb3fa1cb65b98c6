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

	"go.uber.org/zap"

	"archive-sync-service/internal/api"
	"archive-sync-service/internal/config"
	"archive-sync-service/internal/logger"
	"archive-sync-service/internal/platform"
	"archive-sync-service/internal/platform/discord"
	"archive-sync-service/internal/store"
	"archive-sync-service/internal/sync"
)

func main() {
	// Load Config
	path := os.Getenv("ARCHIVE_SYNC_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
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

	logger.Log.Info("Starting archive sync service", zap.String("workerIDPrefix", cfg.Sync.WorkerIDPrefix))

	ctx := context.Background()

	// Init State Store
	stateStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Init Platforms
	registry := platform.NewRegistry()
	if cfg.Platforms.Discord.Enabled {
		d := cfg.Platforms.Discord
		registry.Register(discord.New(d.BaseURL, d.Token, d.Timeout))
	}
	if len(registry.Platforms()) == 0 {
		logger.Log.Warn("No platform adapters enabled; tenant syncs will fail")
	}

	// Init Sync Manager
	syncManager := sync.NewManager(cfg.Sync, stateStore, registry)
	if err := syncManager.Start(ctx); err != nil {
		logger.Log.Fatal("Failed to start sync manager", zap.Error(err))
	}

	scheduler := sync.NewScheduler(cfg.Scheduler, syncManager)
	if err := scheduler.Start(); err != nil {
		logger.Log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Init API
	handler := api.NewHandler(syncManager, cfg.Server)
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
	scheduler.Stop()
	syncManager.Stop()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StateStorage.Type == "memory" {
		mem := store.NewMemoryStore()
		for _, t := range cfg.Tenants {
			mem.AddTenant(&store.Tenant{
				ID:               t.ID,
				Name:             t.Name,
				Platform:         t.Platform,
				PlatformServerID: t.ServerID,
				AutoSync:         t.AutoSync,
			})
		}
		logger.Log.Info("Using in-memory state store", zap.Int("tenants", len(cfg.Tenants)))
		return mem, nil
	}

	mysqlStore, err := store.NewMySQLStore(cfg.StateStorage)
	if err != nil {
		return nil, err
	}
	if err := mysqlStore.EnsureSchema(ctx); err != nil {
		mysqlStore.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return mysqlStore, nil
}
