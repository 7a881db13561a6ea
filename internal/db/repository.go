package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steemit/enginemind/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CheckpointRepository persists ingestion progress, one row per source.
type CheckpointRepository struct {
	*Repository
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(repo *Repository) *CheckpointRepository {
	return &CheckpointRepository{Repository: repo}
}

// Get retrieves the checkpoint for a source, or nil when never written
func (r *CheckpointRepository) Get(ctx context.Context, source int16) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := r.db.WithContext(ctx).Where("source = ?", source).First(&cp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

// Upsert writes the checkpoint for a source. Callers run this inside the
// same transaction as the block's mutations.
func (r *CheckpointRepository) Upsert(ctx context.Context, source int16, lastBlock int64, lastTimestamp *time.Time) error {
	cp := models.Checkpoint{
		Source:        source,
		LastBlock:     lastBlock,
		LastTimestamp: lastTimestamp,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block", "last_timestamp"}),
	}).Create(&cp).Error
}

// TokenConfigRepository provides token configuration storage
type TokenConfigRepository struct {
	*Repository
}

// NewTokenConfigRepository creates a new token config repository
func NewTokenConfigRepository(repo *Repository) *TokenConfigRepository {
	return &TokenConfigRepository{Repository: repo}
}

// Get retrieves the config for one token symbol
func (r *TokenConfigRepository) Get(ctx context.Context, token string) (*models.TokenConfig, error) {
	var tc models.TokenConfig
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&tc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tc, nil
}

// GetAll retrieves every configured token
func (r *TokenConfigRepository) GetAll(ctx context.Context) ([]*models.TokenConfig, error) {
	var configs []*models.TokenConfig
	if err := r.db.WithContext(ctx).Order("token").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// Upsert creates or replaces a token config
func (r *TokenConfigRepository) Upsert(ctx context.Context, tc *models.TokenConfig) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"reward_pool_id", "issuer", "promoted_post_account"}),
	}).Create(tc).Error
}

// AccountRepository provides per-token account stat storage
type AccountRepository struct {
	*Repository
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(repo *Repository) *AccountRepository {
	return &AccountRepository{Repository: repo}
}

// Get retrieves one account row
func (r *AccountRepository) Get(ctx context.Context, name, symbol string) (*models.Account, error) {
	var acc models.Account
	if err := r.db.WithContext(ctx).
		Where("name = ? AND symbol = ?", name, symbol).
		First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acc, nil
}

// GetAllTokens retrieves every token row for an account, keyed by symbol
func (r *AccountRepository) GetAllTokens(ctx context.Context, name string) (map[string]*models.Account, error) {
	var rows []*models.Account
	if err := r.db.WithContext(ctx).Where("name = ?", name).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*models.Account, len(rows))
	for _, row := range rows {
		out[row.Symbol] = row
	}
	return out, nil
}

// UpsertPartial merges the given column updates into the (name, symbol) row,
// creating it when missing. Columns not named keep their stored values.
func (r *AccountRepository) UpsertPartial(ctx context.Context, name, symbol string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("name = ? AND symbol = ?", name, symbol).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	acc := models.Account{Name: name, Symbol: symbol}
	applyAccountColumns(&acc, updates)
	err := r.db.WithContext(ctx).Create(&acc).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.db.WithContext(ctx).Model(&models.Account{}).
			Where("name = ? AND symbol = ?", name, symbol).
			Updates(updates).Error
	}
	return err
}

func applyAccountColumns(acc *models.Account, updates map[string]interface{}) {
	for col, val := range updates {
		ts, ok := val.(time.Time)
		if !ok {
			continue
		}
		t := ts
		switch col {
		case "last_root_post":
			acc.LastRootPost = &t
		case "last_post":
			acc.LastPost = &t
		case "last_follow_refresh_time":
			acc.LastFollowRefreshTime = &t
		}
	}
}

// FollowRefreshTime returns the newest follow refresh stamp across an
// account's token rows, or nil when the follow graph was never materialized.
func (r *AccountRepository) FollowRefreshTime(ctx context.Context, name string) (*time.Time, error) {
	var row struct {
		T *time.Time
	}
	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Select("MAX(last_follow_refresh_time) AS t").
		Where("name = ?", name).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.T, nil
}
