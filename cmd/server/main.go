package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/api"
	"github.com/steemit/enginemind/internal/cache"
	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/engine"
	"github.com/steemit/enginemind/internal/query"
	"github.com/steemit/enginemind/internal/tokens"
	"github.com/steemit/enginemind/pkg/config"
	"github.com/steemit/enginemind/pkg/logging"
	"github.com/steemit/enginemind/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Enginemind API Server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Initialize Redis cache
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	// Initialize upstream clients
	chainClient, err := chain.New(&cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to create chain client", zap.Error(err))
	}
	engineClient, err := engine.New(&cfg.Engine)
	if err != nil {
		logger.Fatal("Failed to create engine client", zap.Error(err))
	}

	// Load token registry
	registry := tokens.NewRegistry()
	if err := registry.Load(context.Background(), db.NewTokenConfigRepository(db.NewRepository(database.DB))); err != nil {
		logger.Fatal("Failed to load token registry", zap.Error(err))
	}

	queryEngine := query.New(database, chainClient, engineClient, registry, &cfg.Indexer)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	api.NewRouter(queryEngine, database, redisCache).SetupRoutes(router)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
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
