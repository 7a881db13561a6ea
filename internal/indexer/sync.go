// Package indexer drives the primary chain ingestion loop: classify every
// op in a block, apply it to the content graph, and advance the checkpoint,
// all inside one transaction per block.
package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/pkg/config"
	"github.com/steemit/enginemind/pkg/logging"
	"github.com/steemit/enginemind/pkg/telemetry"
)

// BlockSource supplies primary chain blocks
type BlockSource interface {
	HeadBlock(ctx context.Context) (int64, error)
	GetBlocksRange(ctx context.Context, from, to int64) ([]*chain.Block, error)
}

// Syncer is the primary chain sync loop
type Syncer struct {
	db       *db.DB
	source   BlockSource
	comments *CommentIndexer
	follows  *FollowIndexer
	reblogs  *ReblogIndexer
	settings *TribeSettingsIndexer
	cfg      *config.IndexerConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewSyncer creates a new primary chain syncer
func NewSyncer(database *db.DB, source BlockSource, comments *CommentIndexer, follows *FollowIndexer, reblogs *ReblogIndexer, settings *TribeSettingsIndexer, cfg *config.IndexerConfig) *Syncer {
	return &Syncer{
		db:       database,
		source:   source,
		comments: comments,
		follows:  follows,
		reblogs:  reblogs,
		settings: settings,
		cfg:      cfg,
		logger:   logging.GetLogger().With(zap.String("component", "indexer")),
		now:      time.Now,
	}
}

// Run syncs until the context is cancelled
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("Starting primary chain sync",
		zap.Duration("confirmation_delay", s.cfg.ConfirmationDelay),
		zap.Bool("bulk_blocks", s.cfg.BulkBlocks))

	for {
		advanced, err := s.SyncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Sync pass failed", zap.Error(err))
		}
		if err != nil || !advanced {
			if err := sleep(ctx, s.cfg.SyncInterval); err != nil {
				return err
			}
		}
	}
}

// SyncOnce processes the next window of blocks. It returns true when at
// least one block was applied; false means the loop is caught up or gated.
func (s *Syncer) SyncOnce(ctx context.Context) (bool, error) {
	head, err := s.source.HeadBlock(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get head block: %w", err)
	}

	cpRepo := db.NewCheckpointRepository(db.NewRepository(s.db.DB))
	cp, err := cpRepo.Get(ctx, models.SourcePrimary)
	if err != nil {
		return false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var next int64
	if cp == nil || cp.LastBlock == 0 {
		// First run starts at the head rather than replaying history.
		next = head
		if err := cpRepo.Upsert(ctx, models.SourcePrimary, head-1, nil); err != nil {
			return false, fmt.Errorf("failed to seed checkpoint: %w", err)
		}
		s.logger.Info("No checkpoint, starting at head", zap.Int64("block", head))
	} else {
		next = cp.LastBlock + 1
	}
	if next > head {
		return false, nil
	}

	window := int64(1)
	if s.cfg.BulkBlocks {
		window = int64(s.cfg.BatchSize)
	}
	to := next + window - 1
	if to > head {
		to = head
	}

	blocks, err := s.source.GetBlocksRange(ctx, next, to)
	if err != nil {
		return false, fmt.Errorf("failed to fetch blocks %d-%d: %w", next, to, err)
	}

	applied := false
	for i, block := range blocks {
		num := next + int64(i)
		if block == nil {
			// Past the node's head.
			return applied, nil
		}
		ok, err := s.processBlock(ctx, num, block)
		if err != nil {
			return applied, fmt.Errorf("failed to process block %d: %w", num, err)
		}
		if !ok {
			// Gated. The checkpoint stays at the previous height so this
			// block is redelivered whole on the next pass.
			return applied, nil
		}
		applied = true
	}

	return applied, nil
}

// processBlock applies one block. It returns false without error when a
// gate holds the block back.
func (s *Syncer) processBlock(ctx context.Context, num int64, block *chain.Block) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "indexer.process_block")
	defer span.End()

	timestamp := block.Timestamp.Time

	// Confirmation gate: never apply a block younger than the delay, so a
	// micro fork cannot enter the store.
	age := s.now().UTC().Sub(timestamp)
	if age < s.cfg.ConfirmationDelay {
		s.logger.Debug("Block too recent, waiting",
			zap.Int64("block", num),
			zap.Duration("age", age))
		return false, nil
	}

	// Watermark gate: the sidechain indexer must have streamed past this
	// block's timestamp, or sidechain-created rows this block's ops depend
	// on may not exist yet.
	cpRepo := db.NewCheckpointRepository(db.NewRepository(s.db.DB))
	engineCp, err := cpRepo.Get(ctx, models.SourceSidechain)
	if err != nil {
		return false, fmt.Errorf("failed to load sidechain checkpoint: %w", err)
	}
	if engineCp == nil || engineCp.LastTimestamp == nil || !timestamp.Before(*engineCp.LastTimestamp) {
		s.logger.Debug("Waiting for sidechain to catch up",
			zap.Int64("block", num),
			zap.Time("block_time", timestamp))
		return false, nil
	}

	err = s.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists := func(ctx context.Context, authorperm string) (bool, error) {
			meta, err := db.NewPostMetadataRepository(db.NewRepository(tx)).Get(ctx, authorperm)
			if err != nil {
				return false, err
			}
			return meta != nil, nil
		}

		for _, transaction := range block.Transactions {
			for i := range transaction.Operations {
				classified, err := Classify(ctx, &transaction.Operations[i], exists)
				if err != nil {
					return err
				}
				if err := s.dispatch(ctx, tx, classified, timestamp); err != nil {
					return err
				}
			}
		}

		return db.NewCheckpointRepository(db.NewRepository(tx)).
			Upsert(ctx, models.SourcePrimary, num, &timestamp)
	})
	if err != nil {
		return false, err
	}

	s.logger.Debug("Block applied", zap.Int64("block", num), zap.Time("timestamp", timestamp))
	return true, nil
}

func (s *Syncer) dispatch(ctx context.Context, tx *gorm.DB, classified *Classified, timestamp time.Time) error {
	switch classified.Kind {
	case KindPost, KindEdit:
		return s.comments.Process(ctx, tx, classified.Comment, timestamp)
	case KindDelete:
		return s.comments.Delete(ctx, tx, classified.Delete)
	case KindFollow:
		return s.follows.Process(ctx, tx, classified.Follow)
	case KindReblog:
		return s.reblogs.Process(ctx, tx, classified.Reblog, timestamp)
	case KindTribeSettings:
		return s.settings.Process(ctx, tx, classified.Settings)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
