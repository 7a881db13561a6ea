package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/internal/tokens"
	"github.com/steemit/enginemind/pkg/logging"
)

// FollowIndexer applies follow payloads to the follow graph
type FollowIndexer struct {
	logger *zap.Logger
}

// NewFollowIndexer creates a new follow indexer
func NewFollowIndexer() *FollowIndexer {
	return &FollowIndexer{
		logger: logging.GetLogger().With(zap.String("component", "follow-indexer")),
	}
}

// Process upserts the follow edge named by the action
func (fi *FollowIndexer) Process(ctx context.Context, tx *gorm.DB, action *FollowAction) error {
	repo := db.NewFollowRepository(db.NewRepository(tx))
	if err := repo.Upsert(ctx, action.Follower, action.Following, action.State); err != nil {
		return fmt.Errorf("failed to upsert follow %s -> %s: %w", action.Follower, action.Following, err)
	}
	return nil
}

// ReblogIndexer applies reblog payloads. Only root posts already tracked
// by some token can be reblogged.
type ReblogIndexer struct {
	logger *zap.Logger
}

// NewReblogIndexer creates a new reblog indexer
func NewReblogIndexer() *ReblogIndexer {
	return &ReblogIndexer{
		logger: logging.GetLogger().With(zap.String("component", "reblog-indexer")),
	}
}

// Process records or removes a reblog edge
func (ri *ReblogIndexer) Process(ctx context.Context, tx *gorm.DB, action *ReblogAction, timestamp time.Time) error {
	base := db.NewRepository(tx)
	posts, err := db.NewPostRepository(base).GetPosts(ctx, action.Authorperm)
	if err != nil {
		return fmt.Errorf("failed to load posts for %s: %w", action.Authorperm, err)
	}
	if len(posts) == 0 || posts[0].ParentAuthor != "" {
		return nil
	}

	reblogRepo := db.NewReblogRepository(base)
	if action.Delete {
		if err := reblogRepo.Delete(ctx, action.Account, action.Authorperm); err != nil {
			return fmt.Errorf("failed to delete reblog of %s: %w", action.Authorperm, err)
		}
		return nil
	}
	if err := reblogRepo.Upsert(ctx, action.Account, action.Authorperm, timestamp); err != nil {
		return fmt.Errorf("failed to upsert reblog of %s: %w", action.Authorperm, err)
	}
	return nil
}

// TribeSettingsIndexer applies issuer signed tribe settings updates and
// keeps the in-memory token registry current.
type TribeSettingsIndexer struct {
	registry *tokens.Registry
	logger   *zap.Logger
}

// NewTribeSettingsIndexer creates a new tribe settings indexer
func NewTribeSettingsIndexer(registry *tokens.Registry) *TribeSettingsIndexer {
	return &TribeSettingsIndexer{
		registry: registry,
		logger:   logging.GetLogger().With(zap.String("component", "tribe-settings-indexer")),
	}
}

// Process applies one settings update. Updates for unknown reward pools or
// signed by anyone but the token's issuer are dropped.
func (ti *TribeSettingsIndexer) Process(ctx context.Context, tx *gorm.DB, action *TribeSettingsAction) error {
	current := ti.registry.ByRewardPool(action.RewardPoolID)
	if current == nil {
		return nil
	}
	if action.Account != current.Issuer {
		ti.logger.Warn("Tribe settings update not signed by issuer",
			zap.String("token", current.Token),
			zap.String("account", action.Account))
		return nil
	}
	if !action.HasPromotedAccount {
		return nil
	}

	updated := &models.TokenConfig{
		Token:               current.Token,
		RewardPoolID:        current.RewardPoolID,
		Issuer:              current.Issuer,
		PromotedPostAccount: action.PromotedPostAccount,
	}
	repo := db.NewTokenConfigRepository(db.NewRepository(tx))
	if err := repo.Upsert(ctx, updated); err != nil {
		return fmt.Errorf("failed to upsert token config for %s: %w", current.Token, err)
	}
	ti.registry.Set(updated)
	return nil
}
