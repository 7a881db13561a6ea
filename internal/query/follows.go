package query

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steemit/enginemind/internal/db"
)

// RefreshFollows refreshes an account's follow graph from the chain when
// it was never materialized or has aged past the refresh window. Failures
// are logged, not surfaced: a stale graph still serves.
func (e *Engine) RefreshFollows(ctx context.Context, account string) {
	if account == "" {
		return
	}

	accountRepo := db.NewAccountRepository(e.repo())
	refreshed, err := accountRepo.FollowRefreshTime(ctx, account)
	if err != nil {
		e.logger.Error("Failed to load follow refresh time",
			zap.String("account", account), zap.Error(err))
		return
	}
	if refreshed != nil &&
		(e.cfg.FollowRefreshTTL <= 0 || e.now().UTC().Sub(*refreshed) < e.cfg.FollowRefreshTTL) {
		return
	}

	following, err := e.chain.GetFollowing(ctx, account)
	if err != nil {
		e.logger.Warn("Failed to fetch follow graph",
			zap.String("account", account), zap.Error(err))
		return
	}

	configs := e.registry.All()
	err = e.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		base := db.NewRepository(tx)
		if err := db.NewFollowRepository(base).Refresh(ctx, account, following); err != nil {
			return err
		}
		if len(configs) == 0 {
			return nil
		}
		// The stamp lives on one token row; staleness checks take the max
		// across tokens, so any symbol will do.
		return db.NewAccountRepository(base).UpsertPartial(ctx, account, configs[0].Token,
			map[string]interface{}{"last_follow_refresh_time": e.now().UTC()})
	})
	if err != nil {
		e.logger.Error("Failed to refresh follows",
			zap.String("account", account), zap.Error(err))
		return
	}

	e.logger.Info("Follow graph refreshed",
		zap.String("account", account),
		zap.Int("following", len(following)))
}
