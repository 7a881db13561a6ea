// Package engineindexer drives sidechain ingestion: the comments contract
// and promoted post transfers, one transaction per sidechain block, with
// the sidechain checkpoint advanced in the same commit.
package engineindexer

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/engine"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/pkg/config"
	"github.com/steemit/enginemind/pkg/logging"
	"github.com/steemit/enginemind/pkg/telemetry"
)

// BlockSource supplies sidechain blocks
type BlockSource interface {
	GetLatestBlockInfo(ctx context.Context) (*engine.Block, error)
	GetBlockInfo(ctx context.Context, num int64) (*engine.Block, error)
	GetBlockRangeInfo(ctx context.Context, start int64, count int) ([]*engine.Block, error)
}

// Syncer is the sidechain sync loop
type Syncer struct {
	db       *db.DB
	source   BlockSource
	comments *CommentsContractIndexer
	promote  *PromotePostIndexer
	cfg      *config.IndexerConfig
	logger   *zap.Logger
}

// NewSyncer creates a new sidechain syncer
func NewSyncer(database *db.DB, source BlockSource, comments *CommentsContractIndexer, promote *PromotePostIndexer, cfg *config.IndexerConfig) *Syncer {
	return &Syncer{
		db:       database,
		source:   source,
		comments: comments,
		promote:  promote,
		cfg:      cfg,
		logger:   logging.GetLogger().With(zap.String("component", "engine-indexer")),
	}
}

// Run syncs until the context is cancelled
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("Starting sidechain sync",
		zap.Bool("bulk_blocks", s.cfg.EngineBulkBlocks))

	for {
		advanced, err := s.SyncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Sidechain sync pass failed", zap.Error(err))
		}
		if err != nil || !advanced {
			if err := sleep(ctx, s.cfg.SyncInterval); err != nil {
				return err
			}
		}
	}
}

// SyncOnce processes the next window of sidechain blocks
func (s *Syncer) SyncOnce(ctx context.Context) (bool, error) {
	latest, err := s.source.GetLatestBlockInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get latest sidechain block: %w", err)
	}
	head := latest.BlockNumber

	cpRepo := db.NewCheckpointRepository(db.NewRepository(s.db.DB))
	cp, err := cpRepo.Get(ctx, models.SourceSidechain)
	if err != nil {
		return false, fmt.Errorf("failed to load sidechain checkpoint: %w", err)
	}

	var next int64
	if cp == nil || cp.LastBlock == 0 {
		next = head
		if err := cpRepo.Upsert(ctx, models.SourceSidechain, head-1, nil); err != nil {
			return false, fmt.Errorf("failed to seed sidechain checkpoint: %w", err)
		}
		s.logger.Info("No sidechain checkpoint, starting at head", zap.Int64("block", head))
	} else {
		next = cp.LastBlock + 1
	}
	if next > head {
		return false, nil
	}

	if s.cfg.EngineBulkBlocks && head-next+1 > 1 {
		count := head - next + 1
		if count > int64(s.cfg.BatchSize) {
			count = int64(s.cfg.BatchSize)
		}
		blocks, err := s.source.GetBlockRangeInfo(ctx, next, int(count))
		if err != nil {
			return false, err
		}
		if len(blocks) > 0 {
			for _, block := range blocks {
				if err := s.processBlock(ctx, block); err != nil {
					return false, err
				}
			}
			return true, nil
		}
		// Range fetch degraded; fall through to a single block fetch.
	}

	block, err := s.source.GetBlockInfo(ctx, next)
	if err != nil {
		return false, fmt.Errorf("failed to fetch sidechain block %d: %w", next, err)
	}
	if block == nil {
		return false, nil
	}
	if err := s.processBlock(ctx, block); err != nil {
		return false, err
	}
	return true, nil
}

// processBlock applies one sidechain block. A failing transaction is
// contained: its changes roll back to a savepoint and the rest of the
// block still lands.
func (s *Syncer) processBlock(ctx context.Context, block *engine.Block) error {
	ctx, span := telemetry.StartSpan(ctx, "engineindexer.process_block")
	defer span.End()

	timestamp := block.Timestamp.Time

	return s.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ops := range [][]engine.Transaction{block.Transactions, block.VirtualTransactions} {
			for i := range ops {
				op := &ops[i]
				err := tx.Transaction(func(inner *gorm.DB) error {
					return s.applyTransaction(ctx, inner, op, timestamp)
				})
				if err != nil {
					s.logger.Error("Sidechain transaction failed",
						zap.Int64("block", block.BlockNumber),
						zap.String("tx", op.TransactionID),
						zap.Error(err))
				}
			}
		}

		return db.NewCheckpointRepository(db.NewRepository(tx)).
			Upsert(ctx, models.SourceSidechain, block.BlockNumber, &timestamp)
	})
}

func (s *Syncer) applyTransaction(ctx context.Context, tx *gorm.DB, op *engine.Transaction, timestamp time.Time) error {
	switch {
	case op.Contract == "comments":
		return s.comments.Process(ctx, tx, op, timestamp)
	case op.Contract == "tokens" && op.Action == "transfer":
		if !gjson.Valid(op.Payload) {
			return nil
		}
		payload := gjson.Parse(op.Payload)
		if !s.promote.Eligible(payload) {
			return nil
		}
		return s.promote.Process(ctx, tx, op, payload)
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
