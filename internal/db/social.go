package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steemit/enginemind/internal/models"
)

// FollowRepository stores the follow graph
type FollowRepository struct {
	*Repository
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(repo *Repository) *FollowRepository {
	return &FollowRepository{Repository: repo}
}

// Upsert sets the follow state for a (follower, following) pair
func (r *FollowRepository) Upsert(ctx context.Context, follower, following string, state int16) error {
	row := models.Follow{Follower: follower, Following: following, State: state}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "follower"}, {Name: "following"}},
		DoUpdates: clause.AssignmentColumns([]string{"state"}),
	}).Create(&row).Error
}

// GetFollowingNames lists the accounts a follower holds in the given state
func (r *FollowRepository) GetFollowingNames(ctx context.Context, follower string, state int16) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower = ? AND state = ?", follower, state).
		Order("following").
		Pluck("following", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// GetFollowing pages through the accounts a follower follows, resuming
// after the start name when given.
func (r *FollowRepository) GetFollowing(ctx context.Context, follower string, state int16, start string, limit int) ([]*models.Follow, error) {
	q := r.db.WithContext(ctx).
		Where("follower = ? AND state = ?", follower, state)
	if start != "" {
		q = q.Where("following > ?", start)
	}
	var rows []*models.Follow
	if err := q.Order("following").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetFollowers pages through the accounts following someone
func (r *FollowRepository) GetFollowers(ctx context.Context, following string, state int16, start string, limit int) ([]*models.Follow, error) {
	q := r.db.WithContext(ctx).
		Where("following = ? AND state = ?", following, state)
	if start != "" {
		q = q.Where("follower > ?", start)
	}
	var rows []*models.Follow
	if err := q.Order("follower").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FollowCounts holds the two sides of an account's follow totals
type FollowCounts struct {
	FollowingCount int64 `json:"following_count"`
	FollowerCount  int64 `json:"follower_count"`
}

// Counts returns how many accounts someone follows and is followed by
func (r *FollowRepository) Counts(ctx context.Context, account string) (*FollowCounts, error) {
	var counts FollowCounts
	err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower = ? AND state = ?", account, models.FollowStateBlog).
		Count(&counts.FollowingCount).Error
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("following = ? AND state = ?", account, models.FollowStateBlog).
		Count(&counts.FollowerCount).Error
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

// Refresh replaces a follower's edges with the authoritative set fetched
// from the chain. Runs inside the caller's transaction.
func (r *FollowRepository) Refresh(ctx context.Context, follower string, following []string) error {
	if err := r.db.WithContext(ctx).
		Where("follower = ?", follower).
		Delete(&models.Follow{}).Error; err != nil {
		return err
	}
	if len(following) == 0 {
		return nil
	}
	rows := make([]models.Follow, 0, len(following))
	for _, name := range following {
		rows = append(rows, models.Follow{
			Follower:  follower,
			Following: name,
			State:     models.FollowStateBlog,
		})
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

// ReblogRepository stores reblog edges
type ReblogRepository struct {
	*Repository
}

// NewReblogRepository creates a new reblog repository
func NewReblogRepository(repo *Repository) *ReblogRepository {
	return &ReblogRepository{Repository: repo}
}

// Upsert records a reblog, keeping the first timestamp on replay
func (r *ReblogRepository) Upsert(ctx context.Context, account, authorperm string, timestamp time.Time) error {
	row := models.Reblog{Account: account, Authorperm: authorperm, Timestamp: timestamp}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}, {Name: "authorperm"}},
		DoNothing: true,
	}).Create(&row).Error
}

// Delete removes a reblog edge
func (r *ReblogRepository) Delete(ctx context.Context, account, authorperm string) error {
	return r.db.WithContext(ctx).
		Where("account = ? AND authorperm = ?", account, authorperm).
		Delete(&models.Reblog{}).Error
}

// DeletePost removes every reblog of an authorperm
func (r *ReblogRepository) DeletePost(ctx context.Context, authorperm string) error {
	return r.db.WithContext(ctx).
		Where("authorperm = ?", authorperm).
		Delete(&models.Reblog{}).Error
}

// Get retrieves one reblog edge, or nil
func (r *ReblogRepository) Get(ctx context.Context, account, authorperm string) (*models.Reblog, error) {
	var row models.Reblog
	if err := r.db.WithContext(ctx).
		Where("account = ? AND authorperm = ?", account, authorperm).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// RebloggedBy lists the accounts that reblogged an authorperm
func (r *ReblogRepository) RebloggedBy(ctx context.Context, authorperm string) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&models.Reblog{}).
		Where("authorperm = ?", authorperm).
		Order("timestamp").
		Pluck("account", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// VoteRepository stores per-token votes
type VoteRepository struct {
	*Repository
}

// NewVoteRepository creates a new vote repository
func NewVoteRepository(repo *Repository) *VoteRepository {
	return &VoteRepository{Repository: repo}
}

// Get retrieves one voter's vote on a token post, or nil
func (r *VoteRepository) Get(ctx context.Context, token, authorperm, voter string) (*models.Vote, error) {
	var vote models.Vote
	if err := r.db.WithContext(ctx).
		Where("token = ? AND authorperm = ? AND voter = ?", token, authorperm, voter).
		First(&vote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vote, nil
}

// Upsert creates or replaces a vote. Re-votes overwrite the previous weight
// so replay converges on the same row.
func (r *VoteRepository) Upsert(ctx context.Context, vote *models.Vote) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "authorperm"}, {Name: "voter"}, {Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"percent", "rshares", "timestamp"}),
	}).Create(vote).Error
}

// GetTokenVotes lists every vote on a token post in cast order
func (r *VoteRepository) GetTokenVotes(ctx context.Context, token, authorperm string) ([]*models.Vote, error) {
	var votes []*models.Vote
	err := r.db.WithContext(ctx).
		Where("token = ? AND authorperm = ?", token, authorperm).
		Order("timestamp ASC, voter ASC").
		Find(&votes).Error
	if err != nil {
		return nil, err
	}
	return votes, nil
}

// DeletePost removes every vote on an authorperm across tokens
func (r *VoteRepository) DeletePost(ctx context.Context, authorperm string) error {
	return r.db.WithContext(ctx).
		Where("authorperm = ?", authorperm).
		Delete(&models.Vote{}).Error
}
