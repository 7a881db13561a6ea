package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/indexer"
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
	logger.Info("Starting Enginemind Indexer")

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

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize chain client
	chainClient, err := chain.New(&cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to create chain client", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load token registry
	registry := tokens.NewRegistry()
	if err := registry.Load(ctx, db.NewTokenConfigRepository(db.NewRepository(database.DB))); err != nil {
		logger.Fatal("Failed to load token registry", zap.Error(err))
	}
	if len(registry.Symbols()) == 0 {
		logger.Warn("No token configs found, run the tokenconfig tool first")
	}

	// Assemble the sync loop
	reconciler := indexer.NewReconciler(chainClient)
	syncer := indexer.NewSyncer(
		database,
		chainClient,
		indexer.NewCommentIndexer(reconciler),
		indexer.NewFollowIndexer(),
		indexer.NewReblogIndexer(),
		indexer.NewTribeSettingsIndexer(registry),
		&cfg.Indexer,
	)

	done := make(chan error, 1)
	go func() {
		done <- syncer.Run(ctx)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down indexer...")
		cancel()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			logger.Fatal("Sync loop failed", zap.Error(err))
		}
	}

	logger.Info("Indexer exited")
}
