// Package query serves the read side of the content graph: discussion
// listings, feeds, threads, accounts and the follow graph.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/models"
	"github.com/steemit/enginemind/internal/tokens"
	"github.com/steemit/enginemind/pkg/config"
	"github.com/steemit/enginemind/pkg/logging"
)

// ChainSource is what the query side needs from the primary chain node:
// the follow graph for lazy refresh and content for thread repair.
type ChainSource interface {
	GetFollowing(ctx context.Context, account string) ([]string, error)
	GetContent(ctx context.Context, author, permlink string) (*chain.Content, error)
	GetContentReplies(ctx context.Context, author, permlink string) ([]chain.Content, error)
}

// SidechainSource is what the query side needs from the sidechain node
type SidechainSource interface {
	FindOne(ctx context.Context, contract, table string, query map[string]interface{}) (json.RawMessage, error)
	Find(ctx context.Context, contract, table string, query map[string]interface{}, limit, offset int) (json.RawMessage, error)
}

// Engine answers API queries against the content graph
type Engine struct {
	db        *db.DB
	chain     ChainSource
	sidechain SidechainSource
	registry  *tokens.Registry
	cfg       *config.IndexerConfig
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a new query engine
func New(database *db.DB, chainSource ChainSource, sidechainSource SidechainSource, registry *tokens.Registry, cfg *config.IndexerConfig) *Engine {
	return &Engine{
		db:        database,
		chain:     chainSource,
		sidechain: sidechainSource,
		registry:  registry,
		cfg:       cfg,
		logger:    logging.GetLogger().With(zap.String("component", "query")),
		now:       time.Now,
	}
}

func (e *Engine) repo() *db.Repository {
	return db.NewRepository(e.db.DB)
}

// State reports ingestion progress for both sources
func (e *Engine) State(ctx context.Context) (*StateView, error) {
	cpRepo := db.NewCheckpointRepository(e.repo())

	primary, err := cpRepo.Get(ctx, models.SourcePrimary)
	if err != nil {
		return nil, err
	}
	sidechain, err := cpRepo.Get(ctx, models.SourceSidechain)
	if err != nil {
		return nil, err
	}

	view := &StateView{}
	now := e.now().UTC()
	if primary != nil {
		view.LastStreamedBlock = primary.LastBlock
		if primary.LastTimestamp != nil {
			view.LastStreamedTimestamp = formatTime(*primary.LastTimestamp)
			view.TimeDelaySeconds = now.Sub(*primary.LastTimestamp).Seconds()
		}
	}
	if sidechain != nil {
		view.EngineLastBlock = sidechain.LastBlock
		if sidechain.LastTimestamp != nil {
			view.EngineTimeDelaySeconds = now.Sub(*sidechain.LastTimestamp).Seconds()
		}
	}
	return view, nil
}

// TokenConfigs lists every configured token
func (e *Engine) TokenConfigs(ctx context.Context) ([]*models.TokenConfig, error) {
	return db.NewTokenConfigRepository(e.repo()).GetAll(ctx)
}

// TokenConfig returns one token's config, or nil
func (e *Engine) TokenConfig(ctx context.Context, token string) (*models.TokenConfig, error) {
	return db.NewTokenConfigRepository(e.repo()).Get(ctx, token)
}

// TokenInfo combines the token's reward pool state and token metadata from
// the sidechain contracts.
func (e *Engine) TokenInfo(ctx context.Context, token string) (*TokenInfo, error) {
	tokenConfig, err := e.TokenConfig(ctx, token)
	if err != nil {
		return nil, err
	}
	if tokenConfig == nil {
		return nil, nil
	}

	info := &TokenInfo{}

	pool, err := e.sidechain.FindOne(ctx, "comments", "rewardPools", map[string]interface{}{
		"_id": tokenConfig.RewardPoolID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reward pool: %w", err)
	}
	if pool != nil {
		var poolData struct {
			PendingClaims json.Number `json:"pendingClaims"`
			RewardPool    json.Number `json:"rewardPool"`
		}
		if err := json.Unmarshal(pool, &poolData); err == nil {
			info.PendingRshares, _ = poolData.PendingClaims.Float64()
			info.RewardPool, _ = poolData.RewardPool.Float64()
		}
	}

	tokenRow, err := e.sidechain.FindOne(ctx, "tokens", "tokens", map[string]interface{}{
		"symbol": token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch token: %w", err)
	}
	if tokenRow != nil {
		var tokenData struct {
			Precision int    `json:"precision"`
			Issuer    string `json:"issuer"`
		}
		if err := json.Unmarshal(tokenRow, &tokenData); err == nil {
			info.Precision = tokenData.Precision
			info.Issuer = tokenData.Issuer
		}
	}

	return info, nil
}

// Account returns an account's per-token rows, optionally filtered to one
// token.
func (e *Engine) Account(ctx context.Context, name, token string) (map[string]*AccountView, error) {
	rows, err := db.NewAccountRepository(e.repo()).GetAllTokens(ctx, name)
	if err != nil {
		return nil, err
	}
	views := make(map[string]*AccountView)
	for symbol, row := range rows {
		if token != "" && token != symbol {
			continue
		}
		views[symbol] = newAccountView(row)
	}
	return views, nil
}

// Post returns a post's per-token rows with all votes attached, optionally
// filtered to one token.
func (e *Engine) Post(ctx context.Context, author, permlink, token string) (map[string]*PostView, error) {
	authorperm := models.ConstructAuthorperm(author, permlink)
	posts, err := db.NewPostRepository(e.repo()).GetPosts(ctx, authorperm)
	if err != nil {
		return nil, err
	}

	views := make(map[string]*PostView)
	for _, post := range posts {
		if token != "" && token != post.Token {
			continue
		}
		view := newPostView(post)
		if err := e.attachVotes(ctx, view, post, "", false); err != nil {
			return nil, err
		}
		views[post.Token] = view
	}
	return views, nil
}

// DiscussionsByCreated lists root posts newest first
func (e *Engine) DiscussionsByCreated(ctx context.Context, p *Params) ([]*PostView, error) {
	if !p.cursorValid() {
		return []*PostView{}, nil
	}
	posts, err := db.NewPostRepository(e.repo()).
		DiscussionsByCreated(ctx, p.Token, p.Tag, p.startAuthorperm(), p.limit())
	if err != nil {
		return nil, err
	}
	return e.attachVotesAll(ctx, postViews(posts), posts, p)
}

// DiscussionsByScore lists posts ordered by a score column
func (e *Engine) DiscussionsByScore(ctx context.Context, scoreColumn string, mainOnly bool, p *Params) ([]*PostView, error) {
	if !p.cursorValid() {
		return []*PostView{}, nil
	}
	posts, err := db.NewPostRepository(e.repo()).
		DiscussionsByScore(ctx, p.Token, scoreColumn, p.Tag, mainOnly, p.startAuthorperm(), p.limit())
	if err != nil {
		return nil, err
	}
	return e.attachVotesAll(ctx, postViews(posts), posts, p)
}

// Feed lists posts authored or reblogged by the accounts someone follows
func (e *Engine) Feed(ctx context.Context, p *Params) ([]*PostView, error) {
	if !p.cursorValid() {
		return []*PostView{}, nil
	}
	e.RefreshFollows(ctx, p.Account)

	following, err := db.NewFollowRepository(e.repo()).
		GetFollowingNames(ctx, p.Account, models.FollowStateBlog)
	if err != nil {
		return nil, err
	}

	rows, err := db.NewPostRepository(e.repo()).
		FeedDiscussions(ctx, p.Token, following, p.IncludeReblogs, p.startAuthorperm(), p.limit())
	if err != nil {
		return nil, err
	}
	return e.attachVotesFeed(ctx, rows, p)
}

// Blog lists an account's own posts, optionally with their reblogs
func (e *Engine) Blog(ctx context.Context, p *Params) ([]*PostView, error) {
	if !p.cursorValid() {
		return []*PostView{}, nil
	}
	rows, err := db.NewPostRepository(e.repo()).
		FeedDiscussions(ctx, p.Token, []string{p.Account}, p.IncludeReblogs, p.startAuthorperm(), p.limit())
	if err != nil {
		return nil, err
	}
	return e.attachVotesFeed(ctx, rows, p)
}

// Comments lists an account's replies
func (e *Engine) Comments(ctx context.Context, p *Params) ([]*PostView, error) {
	if !p.cursorValid() {
		return []*PostView{}, nil
	}
	posts, err := db.NewPostRepository(e.repo()).
		DiscussionsByComments(ctx, p.Token, p.Account, p.startAuthorperm(), p.limit())
	if err != nil {
		return nil, err
	}
	return e.attachVotesAll(ctx, postViews(posts), posts, p)
}

// Replies lists replies to an account's content
func (e *Engine) Replies(ctx context.Context, p *Params) ([]*PostView, error) {
	if !p.cursorValid() {
		return []*PostView{}, nil
	}
	posts, err := db.NewPostRepository(e.repo()).
		DiscussionsByReplies(ctx, p.Token, p.Account, p.startAuthorperm(), p.limit())
	if err != nil {
		return nil, err
	}
	return e.attachVotesAll(ctx, postViews(posts), posts, p)
}

// TrendingTags ranks a token's tags
func (e *Engine) TrendingTags(ctx context.Context, token string, limit int) ([]*db.TrendingTag, error) {
	if limit <= 0 {
		limit = 40
	}
	return db.NewPostRepository(e.repo()).TrendingTags(ctx, token, limit)
}

// Following lists follow edges filtered by either side
func (e *Engine) Following(ctx context.Context, follower, following, status, start string, limit int) ([]*FollowView, error) {
	if limit <= 0 {
		limit = 1000
	}
	state := models.FollowStateBlog
	if status == "ignore" {
		state = models.FollowStateIgnore
	}

	repo := db.NewFollowRepository(e.repo())
	var rows []*models.Follow
	var err error
	switch {
	case follower != "":
		rows, err = repo.GetFollowing(ctx, follower, state, start, limit)
	case following != "":
		rows, err = repo.GetFollowers(ctx, following, state, start, limit)
	default:
		return []*FollowView{}, nil
	}
	if err != nil {
		return nil, err
	}

	views := make([]*FollowView, 0, len(rows))
	for _, row := range rows {
		views = append(views, &FollowView{Follower: row.Follower, Following: row.Following})
	}
	return views, nil
}

// FollowCount returns both sides of an account's follow totals, refreshing
// the follow graph first when stale.
func (e *Engine) FollowCount(ctx context.Context, account string) (*db.FollowCounts, error) {
	e.RefreshFollows(ctx, account)
	return db.NewFollowRepository(e.repo()).Counts(ctx, account)
}

// StakedAccounts lists a token's holders with staked balances
func (e *Engine) StakedAccounts(ctx context.Context, token string) ([]*StakedAccount, error) {
	const pageSize = 1000

	var holders []*StakedAccount
	offset := 0
	for {
		page, err := e.sidechain.Find(ctx, "tokens", "balances", map[string]interface{}{
			"symbol": token,
		}, pageSize, offset)
		if err != nil {
			return nil, err
		}

		var rows []struct {
			Account string      `json:"account"`
			Stake   json.Number `json:"stake"`
		}
		if page != nil {
			if err := json.Unmarshal(page, &rows); err != nil {
				return nil, fmt.Errorf("failed to unmarshal balances: %w", err)
			}
		}
		for _, row := range rows {
			stake, _ := row.Stake.Float64()
			holders = append(holders, &StakedAccount{Name: row.Account, StakedTokens: stake})
		}

		if len(rows) < pageSize {
			break
		}
		offset += pageSize
	}
	return holders, nil
}

// attachVotesAll attaches votes to every view per the request's vote mode
func (e *Engine) attachVotesAll(ctx context.Context, views []*PostView, posts []*models.Post, p *Params) ([]*PostView, error) {
	for i, view := range views {
		if err := e.attachVotes(ctx, view, posts[i], p.Voter, p.NoVotes); err != nil {
			return nil, err
		}
	}
	return views, nil
}

func (e *Engine) attachVotesFeed(ctx context.Context, rows []*db.FeedRow, p *Params) ([]*PostView, error) {
	views := feedViews(rows)
	for i, view := range views {
		if err := e.attachVotes(ctx, view, &rows[i].Post, p.Voter, p.NoVotes); err != nil {
			return nil, err
		}
	}
	return views, nil
}

// attachVotes loads a post's votes. Votes cast after the cashout are not
// served; a voter filter narrows the list to one row.
func (e *Engine) attachVotes(ctx context.Context, view *PostView, post *models.Post, voter string, noVotes bool) error {
	if noVotes {
		return nil
	}
	voteRepo := db.NewVoteRepository(e.repo())

	var votes []*models.Vote
	if voter != "" {
		vote, err := voteRepo.Get(ctx, post.Token, post.Authorperm, voter)
		if err != nil {
			return err
		}
		if vote != nil {
			votes = append(votes, vote)
		}
	} else {
		var err error
		votes, err = voteRepo.GetTokenVotes(ctx, post.Token, post.Authorperm)
		if err != nil {
			return err
		}
	}

	for _, vote := range votes {
		if !post.CashoutTime.IsZero() && vote.Timestamp.After(post.CashoutTime) {
			continue
		}
		view.ActiveVotes = append(view.ActiveVotes, VoteView{
			Voter:     vote.Voter,
			Percent:   vote.Percent,
			Rshares:   vote.Rshares,
			Timestamp: formatTime(vote.Timestamp),
		})
	}
	return nil
}
